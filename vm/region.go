package vm

import (
	"context"
	"fmt"

	"github.com/hupe1980/kcache/internal/page"
)

// MaxRegions is the capacity of a Space's region table.
const MaxRegions = 16

// Mode selects what happens to modified pages on unmap.
type Mode int

const (
	// MapShared writes modified pages back to the file.
	MapShared Mode = iota + 1
	// MapPrivate discards modified pages.
	MapPrivate
)

func (m Mode) String() string {
	switch m {
	case MapShared:
		return "shared"
	case MapPrivate:
		return "private"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// File is the backing store of a region.
type File interface {
	Readable() bool
	Writable() bool
	IncRef()
	DecRef(ctx context.Context) error
	// ReadPage reads file content at off to populate a page. It ignores the
	// open mode, which Map already checked against the requested protection.
	ReadPage(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
}

// Transactional is implemented by files whose reads must be bracketed by
// file system transactions.
type Transactional interface {
	BeginOp(ctx context.Context) error
	EndOp(ctx context.Context) error
}

// Region is a mapped range of a file.
type Region struct {
	Base   page.Addr
	Length uint64
	Prot   page.Perm
	Mode   Mode
	Offset int64
	File   File
}

// End returns the exclusive end address.
func (r Region) End() page.Addr {
	return r.Base + page.Addr(r.Length)
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr page.Addr) bool {
	return addr >= r.Base && addr < r.End()
}

// slot is one entry of the region table.
type slot struct {
	active bool
	Region
}
