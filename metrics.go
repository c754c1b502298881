package kcache

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/kcache/bcache"
	"github.com/hupe1980/kcache/vm"
)

// MetricsCollector defines an interface for collecting operational metrics.
// It receives the events of the buffer cache and of every address space.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	bcache.MetricsObserver
	vm.MetricsObserver
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct {
	bcache.NoopMetricsObserver
	vm.NoopMetricsObserver
}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	Hits           atomic.Int64
	Misses         atomic.Int64
	Evictions      atomic.Int64
	CrossShard     atomic.Int64
	Exhausted      atomic.Int64
	IOCount        atomic.Int64
	IOErrors       atomic.Int64
	IOTotalNanos   atomic.Int64
	MapCount       atomic.Int64
	MapErrors      atomic.Int64
	UnmapCount     atomic.Int64
	UnmapErrors    atomic.Int64
	FaultCount     atomic.Int64
	FaultErrors    atomic.Int64
	FaultNanos     atomic.Int64
	WriteBackBytes atomic.Int64
}

// OnAcquire implements MetricsCollector.
func (b *BasicMetricsCollector) OnAcquire(hit bool) {
	if hit {
		b.Hits.Add(1)
	} else {
		b.Misses.Add(1)
	}
}

// OnEvict implements MetricsCollector.
func (b *BasicMetricsCollector) OnEvict(from, to int) {
	b.Evictions.Add(1)
	if from != to {
		b.CrossShard.Add(1)
	}
}

// OnExhausted implements MetricsCollector.
func (b *BasicMetricsCollector) OnExhausted() {
	b.Exhausted.Add(1)
}

// OnIO implements MetricsCollector.
func (b *BasicMetricsCollector) OnIO(_ string, duration time.Duration, err error) {
	b.IOCount.Add(1)
	b.IOTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.IOErrors.Add(1)
	}
}

// OnMap implements MetricsCollector.
func (b *BasicMetricsCollector) OnMap(err error) {
	b.MapCount.Add(1)
	if err != nil {
		b.MapErrors.Add(1)
	}
}

// OnUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) OnUnmap(err error) {
	b.UnmapCount.Add(1)
	if err != nil {
		b.UnmapErrors.Add(1)
	}
}

// OnFault implements MetricsCollector.
func (b *BasicMetricsCollector) OnFault(duration time.Duration, err error) {
	b.FaultCount.Add(1)
	b.FaultNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FaultErrors.Add(1)
	}
}

// OnWriteBack implements MetricsCollector.
func (b *BasicMetricsCollector) OnWriteBack(bytes int) {
	b.WriteBackBytes.Add(int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Hits:           b.Hits.Load(),
		Misses:         b.Misses.Load(),
		Evictions:      b.Evictions.Load(),
		CrossShard:     b.CrossShard.Load(),
		Exhausted:      b.Exhausted.Load(),
		IOCount:        b.IOCount.Load(),
		IOErrors:       b.IOErrors.Load(),
		IOAvgNanos:     avg(b.IOTotalNanos.Load(), b.IOCount.Load()),
		MapCount:       b.MapCount.Load(),
		MapErrors:      b.MapErrors.Load(),
		UnmapCount:     b.UnmapCount.Load(),
		UnmapErrors:    b.UnmapErrors.Load(),
		FaultCount:     b.FaultCount.Load(),
		FaultErrors:    b.FaultErrors.Load(),
		FaultAvgNanos:  avg(b.FaultNanos.Load(), b.FaultCount.Load()),
		WriteBackBytes: b.WriteBackBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	CrossShard     int64
	Exhausted      int64
	IOCount        int64
	IOErrors       int64
	IOAvgNanos     int64
	MapCount       int64
	MapErrors      int64
	UnmapCount     int64
	UnmapErrors    int64
	FaultCount     int64
	FaultErrors    int64
	FaultAvgNanos  int64
	WriteBackBytes int64
}
