package bcache

import (
	"sync"
	"sync/atomic"
)

// noDev marks a buffer that holds no block.
const noDev = ^uint32(0)

// sleepLock is a mutex that remembers whether it is held, so operations
// that require the caller to own a buffer can assert it.
//
// The check is holder-agnostic: holding reports whether anyone holds the
// lock, not whether the caller does. A goroutine that uses a buffer locked
// by another goroutine is not caught.
type sleepLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

func (l *sleepLock) lock() {
	l.mu.Lock()
	l.held.Store(true)
}

func (l *sleepLock) unlock() {
	l.held.Store(false)
	l.mu.Unlock()
}

// holding reports whether some caller holds the lock.
func (l *sleepLock) holding() bool {
	return l.held.Load()
}

// Buf is a cached block.
//
// dev, blockNo and the list links are guarded by the owning shard's mutex
// and change only while refs is zero. refs and ticks are guarded by the
// shard mutex. valid and the payload are guarded by the sleep lock.
type Buf struct {
	dev     uint32
	blockNo uint32
	refs    int
	ticks   uint64

	valid bool
	dirty atomic.Bool

	lock sleepLock
	data []byte

	prev, next *Buf
}

// Dev returns the device the buffer currently caches.
func (b *Buf) Dev() uint32 { return b.dev }

// BlockNo returns the block number the buffer currently caches.
func (b *Buf) BlockNo() uint32 { return b.blockNo }

// Data returns the payload. Callers must hold the buffer.
func (b *Buf) Data() []byte { return b.data }

// Valid reports whether the payload holds the block's content.
func (b *Buf) Valid() bool { return b.valid }

// Dirty reports whether the payload was modified since it was last written.
func (b *Buf) Dirty() bool { return b.dirty.Load() }

// MarkDirty records that the payload was modified. Dirty buffers are never
// evicted; Write or Cache.Flush cleans them.
func (b *Buf) MarkDirty() {
	if !b.lock.holding() {
		panic("bcache: MarkDirty without holding buffer")
	}
	b.dirty.Store(true)
}

// shard is one partition of the cache: a circular list of buffers with a
// sentinel head.
type shard struct {
	mu   sync.Mutex
	head Buf
}

func (s *shard) init() {
	s.head.prev = &s.head
	s.head.next = &s.head
}

// pushFront links b after the head. Caller holds s.mu.
func (s *shard) pushFront(b *Buf) {
	b.next = s.head.next
	b.prev = &s.head
	s.head.next.prev = b
	s.head.next = b
}

// unlink removes b from its list. Caller holds the owning shard's mu.
func unlink(b *Buf) {
	b.prev.next = b.next
	b.next.prev = b.prev
	b.prev, b.next = nil, nil
}

// lookup returns the buffer caching (dev, bn). Caller holds s.mu.
func (s *shard) lookup(dev, bn uint32) *Buf {
	for b := s.head.next; b != &s.head; b = b.next {
		if b.dev == dev && b.blockNo == bn {
			return b
		}
	}
	return nil
}

// oldest returns the unreferenced clean buffer with the lowest release
// tick, or nil. Caller holds s.mu.
func (s *shard) oldest() *Buf {
	var best *Buf
	for b := s.head.next; b != &s.head; b = b.next {
		if b.refs != 0 || b.dirty.Load() {
			continue
		}
		if best == nil || b.ticks < best.ticks {
			best = b
		}
	}
	return best
}
