package vm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/kcache/internal/page"
	"github.com/hupe1980/kcache/syserr"
)

// Space is the mapped part of one process address space.
type Space struct {
	pt     PageTable
	frames FrameAllocator
	top    page.Addr

	logger  *slog.Logger
	metrics MetricsObserver

	// mu guards the region table and serializes faults and unmaps, so
	// several goroutines may share one address space.
	mu    sync.Mutex
	slots [MaxRegions]slot
}

// NewSpace creates an empty address space over pt and frames.
func NewSpace(pt PageTable, frames FrameAllocator, opts ...Option) *Space {
	s := &Space{
		pt:      pt,
		frames:  frames,
		top:     page.TopOfUserSpace,
		metrics: NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PageTable returns the page table of the space.
func (s *Space) PageTable() PageTable { return s.pt }

// Map records a region of length bytes of f starting at offset and returns
// its base address. No page is populated until it is touched.
func (s *Space) Map(ctx context.Context, length uint64, prot page.Perm, mode Mode, f File, offset int64) (base page.Addr, err error) {
	defer func() { s.metrics.OnMap(err) }()

	switch {
	case f == nil:
		return 0, syserr.Invalid("nil file")
	case mode != MapShared && mode != MapPrivate:
		return 0, syserr.Invalid("mapping mode %v", mode)
	case prot == 0 || prot&^page.RWX != 0:
		return 0, syserr.Invalid("protection %s", prot)
	}
	if prot.Any(page.Read) && !f.Readable() {
		return 0, syserr.Denied("read mapping of a file not open for reading")
	}
	if prot.Any(page.Write) && mode == MapShared && !f.Writable() {
		return 0, syserr.Denied("shared write mapping of a file not open for writing")
	}
	if length == 0 {
		return 0, syserr.Invalid("zero-length mapping")
	}
	if offset < 0 || offset&page.Mask != 0 {
		return 0, syserr.Invalid("offset %d not page aligned", offset)
	}
	size, ok := page.RoundUp(length)
	if !ok {
		return 0, syserr.Invalid("length %d overflows", length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	free := -1
	top := s.top
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.active {
			if free < 0 {
				free = i
			}
			continue
		}
		if sl.Base < top {
			top = sl.Base.RoundDown()
		}
	}
	if free < 0 {
		return 0, syserr.Exhausted("all %d region slots in use", MaxRegions)
	}
	if uint64(top) < size {
		return 0, syserr.Exhausted("no room for %d bytes below %v", size, top)
	}

	base = top - page.Addr(size)
	f.IncRef()
	s.slots[free] = slot{active: true, Region: Region{
		Base:   base,
		Length: size,
		Prot:   prot,
		Mode:   mode,
		Offset: offset,
		File:   f,
	}}

	if s.logger != nil {
		s.logger.Debug("region mapped", "base", base, "length", size, "prot", prot, "mode", mode, "offset", offset)
	}
	return base, nil
}

// find returns the slot of the active region containing addr, or nil.
// Caller holds s.mu.
func (s *Space) find(addr page.Addr) *slot {
	for i := range s.slots {
		if sl := &s.slots[i]; sl.active && sl.Contains(addr) {
			return sl
		}
	}
	return nil
}

// HandleFault populates the page containing addr from its region's file.
// A fault outside every region fails with syserr.ErrInvalidArgument and
// allocates nothing.
func (s *Space) HandleFault(ctx context.Context, addr page.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faultLocked(ctx, addr)
}

func (s *Space) faultLocked(ctx context.Context, addr page.Addr) (err error) {
	start := time.Now()
	defer func() { s.metrics.OnFault(time.Since(start), err) }()

	sl := s.find(addr)
	if sl == nil {
		return syserr.Invalid("no region maps %v", addr)
	}
	va := addr.RoundDown()
	if e, ok := s.pt.Lookup(va); ok && e.Valid {
		return nil
	}

	fr, err := s.frames.Alloc()
	if err != nil {
		return err
	}
	off := sl.Offset + int64(va-sl.Base)
	if err := s.readPage(ctx, sl.File, s.frames.Bytes(fr), off); err != nil {
		s.frames.Free(fr)
		if s.logger != nil {
			s.logger.Error("page fault read failed", "addr", addr, "offset", off, "error", err)
		}
		return err
	}
	if err := s.pt.Install(va, fr, page.User|sl.Prot); err != nil {
		s.frames.Free(fr)
		return err
	}

	if s.logger != nil {
		s.logger.Debug("page faulted in", "addr", va, "frame", fr, "offset", off)
	}
	return nil
}

// readPage fills p from f at off. Bytes past the end of the file stay zero.
func (s *Space) readPage(ctx context.Context, f File, p []byte, off int64) error {
	tx, ok := f.(Transactional)
	if ok {
		if err := tx.BeginOp(ctx); err != nil {
			return err
		}
	}
	_, err := f.ReadPage(ctx, p, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if ok {
		err = errors.Join(err, tx.EndOp(ctx))
	}
	// A full buffer cache is retryable, not a device failure.
	if errors.Is(err, syserr.ErrExhausted) || errors.Is(err, syserr.ErrInvalidArgument) {
		return err
	}
	return syserr.IO("fault read", err)
}

// Unmap removes length bytes starting at addr from the region containing
// addr. Only a prefix, a suffix or the whole region may be removed; the
// length is rounded up to whole pages and clipped at the region end.
// Modified pages of shared regions are written back before anything is
// unmapped.
func (s *Space) Unmap(ctx context.Context, addr page.Addr, length uint64) (err error) {
	defer func() { s.metrics.OnUnmap(err) }()

	if !addr.IsPageAligned() {
		return syserr.Invalid("unmap address %v not page aligned", addr)
	}
	if length == 0 {
		return syserr.Invalid("zero-length unmap")
	}
	size, ok := page.RoundUp(length)
	if !ok {
		return syserr.Invalid("length %d overflows", length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmapLocked(ctx, addr, size)
}

func (s *Space) unmapLocked(ctx context.Context, addr page.Addr, size uint64) error {
	sl := s.find(addr)
	if sl == nil {
		return syserr.Invalid("no region maps %v", addr)
	}
	remaining := uint64(sl.End() - addr)
	if addr > sl.Base && size < remaining {
		return syserr.Invalid("unmap of [%v, +%d) would split region at %v", addr, size, sl.Base)
	}
	size = min(size, remaining)
	end := addr + page.Addr(size)

	if sl.Mode == MapShared {
		if err := s.writeBack(ctx, &sl.Region, addr, end); err != nil {
			return err
		}
	}

	for va := addr; va < end; va += page.Size {
		if e, ok := s.pt.Remove(va); ok && e.Valid {
			s.frames.Free(e.Frame)
		}
	}

	if addr == sl.Base {
		sl.Base += page.Addr(size)
		sl.Offset += int64(size)
	}
	sl.Length -= size

	if s.logger != nil {
		s.logger.Debug("region unmapped", "addr", addr, "length", size, "left", sl.Length)
	}
	if sl.Length > 0 {
		return nil
	}
	f := sl.File
	*sl = slot{}
	return f.DecRef(ctx)
}

// writeBack writes the dirty resident pages of r in [start, end) to the
// file, clipped to the region end.
func (s *Space) writeBack(ctx context.Context, r *Region, start, end page.Addr) error {
	for va := start; va < end; va += page.Size {
		e, ok := s.pt.Lookup(va)
		if !ok || !e.Valid || !e.Dirty {
			continue
		}
		n := min(uint64(page.Size), uint64(r.End()-va))
		off := r.Offset + int64(va-r.Base)
		if _, err := r.File.WriteAt(ctx, s.frames.Bytes(e.Frame)[:n], off); err != nil {
			if s.logger != nil {
				s.logger.Error("write-back failed", "addr", va, "offset", off, "error", err)
			}
			return syserr.IO("write-back", err)
		}
		s.metrics.OnWriteBack(int(n))
	}
	return nil
}

// Regions returns the active regions ordered by base address.
func (s *Space) Regions() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rs []Region
	for i := range s.slots {
		if s.slots[i].active {
			rs = append(rs, s.slots[i].Region)
		}
	}
	slices.SortFunc(rs, func(a, b Region) int {
		switch {
		case a.Base < b.Base:
			return -1
		case a.Base > b.Base:
			return 1
		}
		return 0
	})
	return rs
}

// Close unmaps every region, writing back modified shared pages.
func (s *Space) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.active {
			continue
		}
		if err := s.unmapLocked(ctx, sl.Base, sl.Length); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
