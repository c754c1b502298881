package bcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hupe1980/kcache/device"
	"github.com/hupe1980/kcache/resource"
	"github.com/hupe1980/kcache/syserr"
)

// Cache is a sharded buffer cache over one or more mounted devices.
type Cache struct {
	nbuf      int
	nshard    int
	blockSize int

	logger  *slog.Logger
	metrics MetricsObserver
	rc      *resource.Controller

	shards []shard
	bufs   []Buf

	// evictMu serializes cross-shard victim selection.
	evictMu sync.Mutex
	clock   atomic.Uint64

	devMu   sync.RWMutex
	devices map[uint32]device.Device

	stats counters
	once  sync.Once
}

// New creates a cache and reserves its payload memory.
func New(opts ...Option) (*Cache, error) {
	c := defaults()
	for _, opt := range opts {
		opt(c)
	}
	if c.nbuf <= 0 {
		return nil, syserr.Invalid("buffer count %d", c.nbuf)
	}
	if c.nshard <= 0 {
		return nil, syserr.Invalid("shard count %d", c.nshard)
	}
	if c.blockSize <= 0 {
		return nil, syserr.Invalid("block size %d", c.blockSize)
	}

	payload := int64(c.nbuf) * int64(c.blockSize)
	if !c.rc.TryAcquireMemory(payload) {
		return nil, syserr.Exhausted("cannot reserve %d bytes for %d buffers", payload, c.nbuf)
	}

	c.shards = make([]shard, c.nshard)
	for i := range c.shards {
		c.shards[i].init()
	}

	// All buffers start on shard 0, free and invalid, and migrate to their
	// block's shard on first use.
	arena := make([]byte, payload)
	c.bufs = make([]Buf, c.nbuf)
	for i := range c.bufs {
		b := &c.bufs[i]
		b.dev = noDev
		b.data = arena[i*c.blockSize : (i+1)*c.blockSize : (i+1)*c.blockSize]
		c.shards[0].pushFront(b)
	}
	c.devices = make(map[uint32]device.Device)

	if c.logger != nil {
		c.logger.Info("buffer cache initialized", "buffers", c.nbuf, "shards", c.nshard, "block_size", c.blockSize)
	}
	return c, nil
}

// BlockSize returns the payload size of every buffer.
func (c *Cache) BlockSize() int { return c.blockSize }

// Close releases the payload reservation. The cache must not be used after.
func (c *Cache) Close() {
	c.once.Do(func() {
		c.rc.ReleaseMemory(int64(c.nbuf) * int64(c.blockSize))
	})
}

// Mount attaches d under the device number dev.
func (c *Cache) Mount(dev uint32, d device.Device) error {
	if dev == noDev {
		return syserr.Invalid("reserved device number %d", dev)
	}
	if d.BlockSize() != c.blockSize {
		return syserr.Invalid("device block size %d, cache block size %d", d.BlockSize(), c.blockSize)
	}
	c.devMu.Lock()
	defer c.devMu.Unlock()
	if _, ok := c.devices[dev]; ok {
		return syserr.Invalid("device %d already mounted", dev)
	}
	c.devices[dev] = d
	if c.logger != nil {
		c.logger.Info("device mounted", "dev", dev, "blocks", d.NumBlocks())
	}
	return nil
}

// Unmount writes back the modified blocks of dev, forgets its cached
// blocks and detaches it. It fails if a block of dev is still referenced.
func (c *Cache) Unmount(ctx context.Context, dev uint32) error {
	if _, err := c.Device(dev); err != nil {
		return err
	}
	if err := c.Flush(ctx, dev); err != nil {
		return err
	}
	if busy := c.Invalidate(dev); busy > 0 {
		return syserr.Invalid("device %d has %d referenced blocks", dev, busy)
	}
	c.devMu.Lock()
	delete(c.devices, dev)
	c.devMu.Unlock()
	if c.logger != nil {
		c.logger.Info("device unmounted", "dev", dev)
	}
	return nil
}

// Device returns the device mounted under dev.
func (c *Cache) Device(dev uint32) (device.Device, error) {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	d, ok := c.devices[dev]
	if !ok {
		return nil, syserr.Invalid("device %d not mounted", dev)
	}
	return d, nil
}

func (c *Cache) shardOf(bn uint32) int {
	return int(bn % uint32(c.nshard))
}

// Acquire returns the buffer for (dev, bn) with its sleep lock held and its
// reference count incremented. The payload is valid only if the block was
// cached; call Read to load it. Acquire blocks while another goroutine
// holds the buffer. It returns syserr.ErrExhausted when every buffer is
// referenced or dirty.
func (c *Cache) Acquire(dev, bn uint32) (*Buf, error) {
	if dev == noDev {
		return nil, syserr.Invalid("reserved device number %d", dev)
	}
	id := c.shardOf(bn)
	s := &c.shards[id]

	s.mu.Lock()
	if b := s.lookup(dev, bn); b != nil {
		b.refs++
		s.mu.Unlock()
		return c.hit(b), nil
	}
	s.mu.Unlock()

	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	// Another goroutine may have cached the block between dropping the
	// shard lock and taking the eviction lock.
	s.mu.Lock()
	if b := s.lookup(dev, bn); b != nil {
		b.refs++
		s.mu.Unlock()
		return c.hit(b), nil
	}
	s.mu.Unlock()

	// Scan in ascending order. held is the shard whose lock is kept
	// because it holds the best candidate so far.
	var victim *Buf
	held := -1
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		cand := sh.oldest()
		if cand != nil && (victim == nil || cand.ticks < victim.ticks) {
			if held >= 0 {
				c.shards[held].mu.Unlock()
			}
			victim, held = cand, i
			continue
		}
		sh.mu.Unlock()
	}

	if victim == nil {
		c.stats.exhausted.Add(1)
		c.metrics.OnExhausted()
		if c.logger != nil {
			c.logger.Warn("buffer cache exhausted", "dev", dev, "block", bn)
		}
		return nil, syserr.Exhausted("no free buffer for dev %d block %d", dev, bn)
	}

	if held != id {
		unlink(victim)
		c.shards[held].mu.Unlock()
		s.mu.Lock()
		s.pushFront(victim)
	}
	victim.dev = dev
	victim.blockNo = bn
	victim.valid = false
	victim.refs = 1
	s.mu.Unlock()

	c.stats.misses.Add(1)
	c.stats.evictions.Add(1)
	c.metrics.OnEvict(held, id)
	c.metrics.OnAcquire(false)

	victim.lock.lock()
	return victim, nil
}

func (c *Cache) hit(b *Buf) *Buf {
	c.stats.hits.Add(1)
	c.metrics.OnAcquire(true)
	b.lock.lock()
	return b
}

// AcquireWait is Acquire with backpressure: while the cache is exhausted
// it retries with exponential backoff until a buffer frees up or ctx is
// done.
func (c *Cache) AcquireWait(ctx context.Context, dev, bn uint32) (*Buf, error) {
	var b *Buf
	op := func() error {
		var err error
		b, err = c.Acquire(dev, bn)
		if err != nil && !isExhausted(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Millisecond
	eb.MaxInterval = 50 * time.Millisecond
	eb.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(eb, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, err
	}
	return b, nil
}

// Release drops the caller's hold on b. When the last reference goes away
// the buffer is stamped with the current tick and becomes evictable.
func (c *Cache) Release(b *Buf) {
	if !b.lock.holding() {
		panic("bcache: Release without holding buffer")
	}
	s := &c.shards[c.shardOf(b.blockNo)]
	s.mu.Lock()
	if b.refs <= 0 {
		s.mu.Unlock()
		panic("bcache: Release of unreferenced buffer")
	}
	b.refs--
	if b.refs == 0 {
		b.ticks = c.clock.Add(1)
	}
	s.mu.Unlock()

	// A victim chosen meanwhile waits here for its new owner's lock.
	b.lock.unlock()
}

// Pin adds a reference to b without taking its sleep lock, keeping it
// resident after the caller releases it.
func (c *Cache) Pin(b *Buf) {
	s := &c.shards[c.shardOf(b.blockNo)]
	s.mu.Lock()
	defer s.mu.Unlock()
	b.refs++
}

// Unpin drops a reference taken with Pin.
func (c *Cache) Unpin(b *Buf) {
	s := &c.shards[c.shardOf(b.blockNo)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.refs <= 0 {
		panic("bcache: Unpin of unreferenced buffer")
	}
	b.refs--
	if b.refs == 0 {
		b.ticks = c.clock.Add(1)
	}
}

// Invalidate forgets every unreferenced clean block of dev and returns the
// number of blocks of dev that could not be dropped.
func (c *Cache) Invalidate(dev uint32) int {
	busy := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for b := s.head.next; b != &s.head; b = b.next {
			if b.dev != dev {
				continue
			}
			if b.refs > 0 || b.dirty.Load() {
				busy++
				continue
			}
			b.dev = noDev
			b.valid = false
			b.ticks = 0
		}
		s.mu.Unlock()
	}
	return busy
}

// Refs returns the reference count of b.
func (c *Cache) Refs(b *Buf) int {
	s := &c.shards[c.shardOf(b.blockNo)]
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.refs
}
