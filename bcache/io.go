package bcache

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/kcache/syserr"
	"golang.org/x/sync/errgroup"
)

func isExhausted(err error) bool {
	return errors.Is(err, syserr.ErrExhausted)
}

// Read loads b from its device unless the payload is already valid.
// The caller must hold b. On failure b stays invalid.
func (c *Cache) Read(ctx context.Context, b *Buf) error {
	if !b.lock.holding() {
		panic("bcache: Read without holding buffer")
	}
	if b.valid {
		return nil
	}
	d, err := c.Device(b.dev)
	if err != nil {
		return err
	}

	start := time.Now()
	err = d.ReadBlock(ctx, b.blockNo, b.data)
	c.metrics.OnIO("read", time.Since(start), err)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("block read failed", "dev", b.dev, "block", b.blockNo, "error", err)
		}
		return c.ioError("read", b, err)
	}
	c.stats.reads.Add(1)
	b.valid = true
	return nil
}

// Write stores the payload of b on its device and clears the dirty flag.
// The caller must hold b; writing an unheld buffer is a programming error.
func (c *Cache) Write(ctx context.Context, b *Buf) error {
	if !b.lock.holding() {
		panic("bcache: Write without holding buffer")
	}
	d, err := c.Device(b.dev)
	if err != nil {
		return err
	}

	start := time.Now()
	err = d.WriteBlock(ctx, b.blockNo, b.data)
	c.metrics.OnIO("write", time.Since(start), err)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("block write failed", "dev", b.dev, "block", b.blockNo, "error", err)
		}
		return c.ioError("write", b, err)
	}
	c.stats.writes.Add(1)
	b.valid = true
	b.dirty.Store(false)
	return nil
}

func (c *Cache) ioError(op string, b *Buf, err error) error {
	var ioe *syserr.IOError
	if errors.As(err, &ioe) {
		return &syserr.IOError{Op: op, Dev: b.dev, Block: b.blockNo, Err: ioe.Err}
	}
	if errors.Is(err, syserr.ErrInvalidArgument) {
		return err
	}
	return &syserr.IOError{Op: op, Dev: b.dev, Block: b.blockNo, Err: err}
}

// Bread returns the held, valid buffer for (dev, bn). On a read failure the
// buffer is released before returning.
func (c *Cache) Bread(ctx context.Context, dev, bn uint32) (*Buf, error) {
	b, err := c.Acquire(dev, bn)
	if err != nil {
		return nil, err
	}
	if err := c.Read(ctx, b); err != nil {
		c.Release(b)
		return nil, err
	}
	return b, nil
}

// Flush writes every dirty block of dev. Shards are flushed in parallel,
// bounded by the resource controller's background slots.
func (c *Cache) Flush(ctx context.Context, dev uint32) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range c.shards {
		s := &c.shards[i]

		// Reference the dirty blocks so they cannot be recycled while
		// they wait for their sleep locks.
		var dirty []*Buf
		s.mu.Lock()
		for b := s.head.next; b != &s.head; b = b.next {
			if b.dev == dev && b.dirty.Load() {
				b.refs++
				dirty = append(dirty, b)
			}
		}
		s.mu.Unlock()
		if len(dirty) == 0 {
			continue
		}

		g.Go(func() error {
			if err := c.rc.AcquireBackground(gctx); err != nil {
				c.unpinAll(dirty)
				return err
			}
			defer c.rc.ReleaseBackground()

			var first error
			for _, b := range dirty {
				b.lock.lock()
				if first == nil && b.dirty.Load() {
					first = c.Write(gctx, b)
				}
				b.lock.unlock()
				c.Unpin(b)
			}
			return first
		})
	}
	return g.Wait()
}

func (c *Cache) unpinAll(bufs []*Buf) {
	for _, b := range bufs {
		c.Unpin(b)
	}
}
