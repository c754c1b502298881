package inode

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hupe1980/kcache/bcache"
)

// txlog groups the block writes of concurrent transactions and commits
// them together once no transaction is outstanding.
type txlog struct {
	cache  *bcache.Cache
	dev    uint32
	logger *slog.Logger

	maxOp int
	size  int

	mu          sync.Mutex
	cond        *sync.Cond
	outstanding int
	committing  bool
	pinned      []*bcache.Buf
	commits     int64
}

func newLog(cache *bcache.Cache, dev uint32, maxOp, size int, logger *slog.Logger) *txlog {
	l := &txlog{cache: cache, dev: dev, maxOp: maxOp, size: size, logger: logger}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// begin waits until the log can absorb a worst-case transaction.
func (l *txlog) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.committing || len(l.pinned)+(l.outstanding+1)*l.maxOp > l.size {
		l.cond.Wait()
	}
	l.outstanding++
	return nil
}

// end closes a transaction; the last one out commits.
func (l *txlog) end(ctx context.Context) error {
	l.mu.Lock()
	if l.outstanding <= 0 {
		l.mu.Unlock()
		panic("inode: EndOp without BeginOp")
	}
	if l.committing {
		l.mu.Unlock()
		panic("inode: EndOp during commit")
	}
	l.outstanding--
	if l.outstanding > 0 {
		// begin may be waiting for log space that this op no longer needs.
		l.cond.Broadcast()
		l.mu.Unlock()
		return nil
	}
	l.committing = true
	bufs := l.pinned
	l.pinned = nil
	l.mu.Unlock()

	err := l.commit(ctx, bufs)

	l.mu.Lock()
	l.committing = false
	l.commits++
	l.cond.Broadcast()
	l.mu.Unlock()
	return err
}

// write records the held buffer b as modified by the current transaction.
// The block stays pinned in the cache until the commit.
func (l *txlog) write(b *bcache.Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.outstanding < 1 {
		panic("inode: log write outside of transaction")
	}
	b.MarkDirty()
	for _, p := range l.pinned {
		if p == b {
			return // absorbed
		}
	}
	if len(l.pinned) >= l.size {
		panic("inode: transaction too big")
	}
	l.cache.Pin(b)
	l.pinned = append(l.pinned, b)
}

func (l *txlog) commit(ctx context.Context, bufs []*bcache.Buf) error {
	if len(bufs) == 0 {
		return nil
	}
	var errs []error
	for _, p := range bufs {
		// Pinned blocks are always resident, so this is a cache hit.
		b, err := l.cache.Acquire(p.Dev(), p.BlockNo())
		if err != nil {
			errs = append(errs, err)
			l.cache.Unpin(p)
			continue
		}
		if b.Dirty() {
			if err := l.cache.Write(ctx, b); err != nil {
				errs = append(errs, err)
			}
		}
		l.cache.Release(b)
		l.cache.Unpin(p)
	}
	err := errors.Join(errs...)
	if l.logger != nil {
		if err != nil {
			l.logger.Error("log commit failed", "dev", l.dev, "blocks", len(bufs), "error", err)
		} else {
			l.logger.Debug("log committed", "dev", l.dev, "blocks", len(bufs))
		}
	}
	return err
}

func (l *txlog) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pinned)
}
