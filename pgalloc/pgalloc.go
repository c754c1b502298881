package pgalloc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/kcache/internal/mmap"
	"github.com/hupe1980/kcache/internal/page"
	"github.com/hupe1980/kcache/resource"
	"github.com/hupe1980/kcache/syserr"
)

// PageSize is the size of a frame in bytes.
const PageSize = page.Size

// Frame identifies a physical page by its index in the arena.
type Frame uint32

// String implements fmt.Stringer.
func (f Frame) String() string {
	return fmt.Sprintf("frame#%d", uint32(f))
}

var adviseArena = (*mmap.Mapping).Advise

// Allocator is a fixed pool of physical frames.
type Allocator struct {
	mu     sync.Mutex
	arena  *mmap.Mapping
	free   *roaring.Bitmap
	npages int

	rc     *resource.Controller
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithResourceController charges every allocated frame to rc's memory limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(a *Allocator) {
		a.rc = rc
	}
}

// WithLogger sets the logger for the allocator.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) {
		a.logger = l
	}
}

// New maps an arena of npages frames.
func New(npages int, opts ...Option) (*Allocator, error) {
	if npages <= 0 {
		return nil, syserr.Invalid("frame count %d", npages)
	}
	arena, err := mmap.MapAnon(npages * PageSize)
	if err != nil {
		return nil, fmt.Errorf("pgalloc: map arena: %w", err)
	}

	a := &Allocator{
		arena:  arena,
		free:   roaring.New(),
		npages: npages,
	}
	for _, opt := range opts {
		opt(a)
	}
	// Frames are handed out in no particular order. The hint is optional.
	if err := adviseArena(arena, mmap.AccessRandom); err != nil && a.logger != nil {
		a.logger.Debug("pgalloc: advise failed", "pattern", "random", "error", err)
	}
	a.free.AddRange(0, uint64(npages))
	return a, nil
}

// Alloc returns a zero-filled frame. It fails with syserr.ErrExhausted when
// every frame is in use or the memory limit denies another page.
func (a *Allocator) Alloc() (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.free.IsEmpty() {
		if a.logger != nil {
			a.logger.Warn("out of physical frames", "frames", a.npages)
		}
		return 0, syserr.Exhausted("no free frame among %d", a.npages)
	}
	if !a.rc.TryAcquireMemory(PageSize) {
		return 0, syserr.Exhausted("memory limit reached")
	}

	f := Frame(a.free.Minimum())
	a.free.Remove(uint32(f))
	clear(a.bytes(f))
	return f, nil
}

// Free returns f to the pool. Freeing a frame twice panics.
func (a *Allocator) Free(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.checkFrame(f)
	if a.free.Contains(uint32(f)) {
		panic(fmt.Sprintf("pgalloc: double free of %v", f))
	}
	a.free.Add(uint32(f))
	a.rc.ReleaseMemory(PageSize)
}

// Bytes returns the memory of f.
func (a *Allocator) Bytes(f Frame) []byte {
	a.checkFrame(f)
	return a.bytes(f)
}

func (a *Allocator) bytes(f Frame) []byte {
	p, err := a.arena.Slice(int(f)*PageSize, PageSize)
	if err != nil {
		panic(fmt.Sprintf("pgalloc: %v: %v", f, err))
	}
	return p
}

func (a *Allocator) checkFrame(f Frame) {
	if int(f) >= a.npages {
		panic(fmt.Sprintf("pgalloc: %v out of range [0, %d)", f, a.npages))
	}
}

// Available returns the number of free frames.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.free.GetCardinality())
}

// Capacity returns the total number of frames.
func (a *Allocator) Capacity() int {
	return a.npages
}

// Close unmaps the arena. Frames must not be used afterwards.
func (a *Allocator) Close() error {
	return a.arena.Close()
}
