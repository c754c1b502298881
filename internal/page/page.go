package page

import (
	"fmt"
	"strings"
)

const (
	// Shift is the binary log of Size.
	Shift = 12

	// Size is the size of a virtual page and of a physical frame.
	Size = 1 << Shift

	// Mask selects the offset within a page.
	Mask = Size - 1
)

const (
	// MaxVA is one past the highest address of a three-level (Sv39) page
	// table, keeping addresses clear of the sign-extension bit.
	MaxVA Addr = 1 << (9 + 9 + 9 + Shift - 1)

	// Trampoline is the page of code shared by every address space.
	Trampoline = MaxVA - Size

	// TrapFrame is the per-process page used to save registers on a trap.
	TrapFrame = Trampoline - Size

	// TopOfUserSpace is the exclusive upper bound for mapped regions.
	TopOfUserSpace = TrapFrame
)

// Addr is a virtual address.
type Addr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(Mask)
}

// RoundUp returns the address rounded up to the nearest page boundary.
// ok is true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + Mask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into its page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Mask)
}

// IsPageAligned returns true if v is aligned to a page boundary.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength adds the given length to v and returns the result. ok is true
// iff adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundUp rounds a byte count up to a whole number of pages.
func RoundUp(n uint64) (uint64, bool) {
	r := (n + Mask) &^ uint64(Mask)
	return r, r >= n
}

// Count returns the number of pages covered by n bytes.
func Count(n uint64) uint64 {
	return (n + Mask) >> Shift
}

// Perm is a set of page-table permission bits.
type Perm uint8

const (
	// Read allows loads.
	Read Perm = 1 << iota
	// Write allows stores.
	Write
	// Exec allows instruction fetch.
	Exec
	// User allows access from user mode.
	User
)

// RWX is the set of protection bits a mapping may request.
const RWX = Read | Write | Exec

// Any returns true if p has any of the bits in q.
func (p Perm) Any(q Perm) bool {
	return p&q != 0
}

// SupersetOf returns true if p has every bit in q.
func (p Perm) SupersetOf(q Perm) bool {
	return p&q == q
}

// String renders p in /proc/<pid>/maps style, e.g. "rw-u".
func (p Perm) String() string {
	var b strings.Builder
	for _, bit := range []struct {
		p Perm
		c byte
	}{{Read, 'r'}, {Write, 'w'}, {Exec, 'x'}, {User, 'u'}} {
		if p&bit.p != 0 {
			b.WriteByte(bit.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
