package vm

import (
	"fmt"
	"sync"

	"github.com/hupe1980/kcache/internal/page"
	"github.com/hupe1980/kcache/pgalloc"
	"github.com/hupe1980/kcache/syserr"
)

// PTE is a page-table entry.
type PTE struct {
	Frame pgalloc.Frame
	Perm  page.Perm
	Valid bool
	Dirty bool
}

func (e PTE) String() string {
	d := '-'
	if e.Dirty {
		d = 'd'
	}
	return fmt.Sprintf("%v %s%c", e.Frame, e.Perm, d)
}

// PageTable translates page-aligned virtual addresses to frames.
type PageTable interface {
	// Install maps va to f. Installing over a valid entry fails.
	Install(va page.Addr, f pgalloc.Frame, perm page.Perm) error
	// Remove clears the entry for va and returns it.
	Remove(va page.Addr) (PTE, bool)
	// Lookup returns the entry for va.
	Lookup(va page.Addr) (PTE, bool)
	// SetDirty marks the entry for va as modified.
	SetDirty(va page.Addr) bool
}

// FrameAllocator provides physical frames.
type FrameAllocator interface {
	Alloc() (pgalloc.Frame, error)
	Free(f pgalloc.Frame)
	Bytes(f pgalloc.Frame) []byte
}

var _ FrameAllocator = (*pgalloc.Allocator)(nil)

// Table is a PageTable backed by a map.
type Table struct {
	mu   sync.Mutex
	ptes map[page.Addr]PTE
}

// NewPageTable returns an empty page table.
func NewPageTable() *Table {
	return &Table{ptes: make(map[page.Addr]PTE)}
}

// Install implements PageTable.
func (t *Table) Install(va page.Addr, f pgalloc.Frame, perm page.Perm) error {
	if !va.IsPageAligned() || va >= page.MaxVA {
		return syserr.Invalid("install at %v", va)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.ptes[va]; ok && e.Valid {
		return syserr.Invalid("remap of %v", va)
	}
	t.ptes[va] = PTE{Frame: f, Perm: perm, Valid: true}
	return nil
}

// Remove implements PageTable.
func (t *Table) Remove(va page.Addr) (PTE, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[va]
	delete(t.ptes, va)
	return e, ok
}

// Lookup implements PageTable.
func (t *Table) Lookup(va page.Addr) (PTE, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[va]
	return e, ok
}

// SetDirty implements PageTable.
func (t *Table) SetDirty(va page.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[va]
	if !ok || !e.Valid {
		return false
	}
	e.Dirty = true
	t.ptes[va] = e
	return true
}

// Len returns the number of installed entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ptes)
}
