package bcache

import "time"

// MetricsObserver receives cache events.
type MetricsObserver interface {
	// OnAcquire is called for every successful Acquire.
	OnAcquire(hit bool)

	// OnEvict is called when a buffer is recycled for a new block.
	// from and to are the shards the victim moved between.
	OnEvict(from, to int)

	// OnExhausted is called when Acquire finds no evictable buffer.
	OnExhausted()

	// OnIO is called after every device transfer.
	OnIO(op string, duration time.Duration, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnAcquire(bool)                     {}
func (NoopMetricsObserver) OnEvict(int, int)                   {}
func (NoopMetricsObserver) OnExhausted()                       {}
func (NoopMetricsObserver) OnIO(string, time.Duration, error) {}
