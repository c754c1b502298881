package bcache

import "sync/atomic"

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	exhausted atomic.Int64
	reads     atomic.Int64
	writes    atomic.Int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Buffers   int
	Shards    int
	BlockSize int

	Hits      int64
	Misses    int64
	Evictions int64
	Exhausted int64
	Reads     int64
	Writes    int64

	// Referenced and Dirty count buffers at the time of the snapshot.
	Referenced int
	Dirty      int
}

// HitRatio returns hits / (hits + misses), or 0 before the first access.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Buffers:   c.nbuf,
		Shards:    c.nshard,
		BlockSize: c.blockSize,
		Hits:      c.stats.hits.Load(),
		Misses:    c.stats.misses.Load(),
		Evictions: c.stats.evictions.Load(),
		Exhausted: c.stats.exhausted.Load(),
		Reads:     c.stats.reads.Load(),
		Writes:    c.stats.writes.Load(),
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for b := s.head.next; b != &s.head; b = b.next {
			if b.refs > 0 {
				st.Referenced++
			}
			if b.dirty.Load() {
				st.Dirty++
			}
		}
		s.mu.Unlock()
	}
	return st
}
