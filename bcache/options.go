package bcache

import (
	"log/slog"

	"github.com/hupe1980/kcache/device"
	"github.com/hupe1980/kcache/resource"
)

const (
	// DefaultBuffers is the number of buffers in the pool.
	DefaultBuffers = 30
	// DefaultShards is the number of shards.
	DefaultShards = 14
)

// Option configures a Cache.
type Option func(*Cache)

// WithBuffers sets the number of buffers.
func WithBuffers(n int) Option {
	return func(c *Cache) {
		c.nbuf = n
	}
}

// WithShards sets the number of shards.
func WithShards(n int) Option {
	return func(c *Cache) {
		c.nshard = n
	}
}

// WithBlockSize sets the payload size of every buffer. Mounted devices must
// use the same block size.
func WithBlockSize(n int) Option {
	return func(c *Cache) {
		c.blockSize = n
	}
}

// WithLogger sets the logger for the cache.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithMetricsObserver sets the metrics observer for the cache.
func WithMetricsObserver(o MetricsObserver) Option {
	return func(c *Cache) {
		if o != nil {
			c.metrics = o
		}
	}
}

// WithResourceController charges the payload memory to rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(c *Cache) {
		c.rc = rc
	}
}

func defaults() *Cache {
	return &Cache{
		nbuf:      DefaultBuffers,
		nshard:    DefaultShards,
		blockSize: device.DefaultBlockSize,
		metrics:   NoopMetricsObserver{},
	}
}
