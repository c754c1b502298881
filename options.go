package kcache

import (
	"github.com/hupe1980/kcache/bcache"
	"github.com/hupe1980/kcache/device"
	"github.com/hupe1980/kcache/resource"
)

const (
	// DefaultFrames is the number of physical frames.
	DefaultFrames = 64

	// DefaultBlocks is the size of the default RAM disk in blocks.
	DefaultBlocks = 2048
)

type options struct {
	buffers      int
	shards       int
	blockSize    int
	blocks       uint32
	frames       int
	memoryLimit  int64
	ioLimit      int64
	workers      int64
	rc           *resource.Controller
	logger       *Logger
	metrics      MetricsCollector
	device       device.Device
	backpressure bool
}

// Option configures Kernel constructor behavior.
type Option func(*options)

// WithBuffers sets the number of buffer cache buffers.
func WithBuffers(n int) Option {
	return func(o *options) {
		o.buffers = n
	}
}

// WithShards sets the number of buffer cache shards.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// WithBlockSize sets the block size of the cache and of the default RAM
// disk. A device passed with WithDevice must use the same size.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithBlocks sets the size of the default RAM disk. It is ignored when a
// device is passed with WithDevice.
func WithBlocks(n uint32) Option {
	return func(o *options) {
		o.blocks = n
	}
}

// WithFrames sets the number of physical frames available to mappings.
func WithFrames(n int) Option {
	return func(o *options) {
		o.frames = n
	}
}

// WithMemoryLimit caps buffer payloads and resident frames together.
// It is ignored when a controller is passed with WithResourceController.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithIOLimit caps device throughput in bytes per second. The limit must
// be at least one block.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithFlushWorkers bounds the number of shards flushed in parallel.
func WithFlushWorkers(n int64) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithResourceController shares an existing controller.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := kcache.NewJSONLogger(slog.LevelInfo)
//	k, _ := kcache.New(kcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kcache.BasicMetricsCollector{}
//	k, _ := kcache.New(kcache.WithMetricsCollector(metrics))
//	// ... use k ...
//	stats := metrics.GetStats()
//	fmt.Printf("Hits: %d, Faults: %d\n", stats.Hits, stats.FaultCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithDevice mounts d as the root device instead of a RAM disk. The kernel
// takes ownership and closes d on Close.
func WithDevice(d device.Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithBackpressure makes Kernel.Bread wait for a free buffer instead of
// failing with ErrExhausted.
func WithBackpressure(enabled bool) Option {
	return func(o *options) {
		o.backpressure = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		buffers:   bcache.DefaultBuffers,
		shards:    bcache.DefaultShards,
		blockSize: device.DefaultBlockSize,
		blocks:    DefaultBlocks,
		frames:    DefaultFrames,
		workers:   2,
		metrics:   NoopMetricsCollector{},
		logger:    NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
