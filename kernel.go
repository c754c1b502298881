package kcache

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/kcache/bcache"
	"github.com/hupe1980/kcache/device"
	"github.com/hupe1980/kcache/inode"
	"github.com/hupe1980/kcache/pgalloc"
	"github.com/hupe1980/kcache/resource"
	"github.com/hupe1980/kcache/syserr"
	"github.com/hupe1980/kcache/vm"
)

// RootDev is the device number of the root device.
const RootDev uint32 = 1

// Kernel wires a block device, the buffer cache, a file system, a frame
// allocator and per-process address spaces together.
//
// All methods are safe for concurrent use.
type Kernel struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector

	rc     *resource.Controller
	dev    device.Device
	cache  *bcache.Cache
	fs     *inode.FileSystem
	frames *pgalloc.Allocator

	mu      sync.Mutex
	procs   map[int]*vm.Space
	nextPID int
	closed  bool
}

// New creates a kernel with an empty file system on its root device.
func New(optFns ...Option) (k *Kernel, err error) {
	o := applyOptions(optFns)
	if o.ioLimit > 0 && o.ioLimit < int64(o.blockSize) {
		return nil, syserr.Invalid("io limit %d below block size %d", o.ioLimit, o.blockSize)
	}

	rc := o.rc
	if rc == nil {
		rc = resource.NewController(resource.Config{
			MemoryLimitBytes:     o.memoryLimit,
			MaxBackgroundWorkers: o.workers,
			IOLimitBytesPerSec:   o.ioLimit,
		})
	}

	k = &Kernel{
		opts:    o,
		logger:  o.logger,
		metrics: o.metrics,
		rc:      rc,
		procs:   make(map[int]*vm.Space),
		nextPID: 1,
	}
	// Unwind whatever was built if a later step fails.
	defer func() {
		if err != nil {
			k.teardown()
		}
	}()

	k.dev = o.device
	if k.dev == nil {
		if k.dev, err = device.NewMemory(o.blockSize, o.blocks); err != nil {
			return nil, err
		}
	}
	var dev device.Device = k.dev
	if rc.Config().IOLimitBytesPerSec > 0 {
		dev = device.NewThrottled(k.dev, rc)
	}

	if k.cache, err = bcache.New(
		bcache.WithBuffers(o.buffers),
		bcache.WithShards(o.shards),
		bcache.WithBlockSize(o.blockSize),
		bcache.WithLogger(k.logger.WithDevice(RootDev).Logger),
		bcache.WithMetricsObserver(o.metrics),
		bcache.WithResourceController(rc),
	); err != nil {
		return nil, err
	}
	if err = k.cache.Mount(RootDev, dev); err != nil {
		return nil, err
	}
	if k.fs, err = inode.New(k.cache, RootDev, inode.WithLogger(k.logger.Logger)); err != nil {
		return nil, err
	}
	if k.frames, err = pgalloc.New(o.frames,
		pgalloc.WithResourceController(rc),
		pgalloc.WithLogger(k.logger.Logger),
	); err != nil {
		return nil, err
	}

	k.logger.Info("kernel started",
		"buffers", o.buffers,
		"shards", o.shards,
		"block_size", o.blockSize,
		"blocks", k.dev.NumBlocks(),
		"frames", o.frames,
	)
	return k, nil
}

func (k *Kernel) teardown() {
	if k.frames != nil {
		_ = k.frames.Close()
	}
	if k.cache != nil {
		k.cache.Close()
	}
	if k.dev != nil && k.opts.device == nil {
		_ = k.dev.Close()
	}
}

// Cache returns the buffer cache.
func (k *Kernel) Cache() *bcache.Cache { return k.cache }

// FS returns the root file system.
func (k *Kernel) FS() *inode.FileSystem { return k.fs }

// Open opens a file of the root file system.
func (k *Kernel) Open(name string, mode inode.OpenMode) (*inode.File, error) {
	if err := k.checkOpen(); err != nil {
		return nil, err
	}
	return k.fs.Open(name, mode)
}

// Bread returns the held, valid buffer for block bn of the root device.
// With backpressure enabled it waits for a free buffer.
func (k *Kernel) Bread(ctx context.Context, bn uint32) (*bcache.Buf, error) {
	if !k.opts.backpressure {
		return k.cache.Bread(ctx, RootDev, bn)
	}
	b, err := k.cache.AcquireWait(ctx, RootDev, bn)
	if err != nil {
		return nil, err
	}
	if err := k.cache.Read(ctx, b); err != nil {
		k.cache.Release(b)
		return nil, err
	}
	return b, nil
}

// Release releases a buffer returned by Bread.
func (k *Kernel) Release(b *bcache.Buf) {
	k.cache.Release(b)
}

// Spawn creates a process with an empty address space and returns its id.
func (k *Kernel) Spawn() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return 0, ErrClosed
	}
	pid := k.nextPID
	k.nextPID++
	k.procs[pid] = vm.NewSpace(vm.NewPageTable(), k.frames,
		vm.WithLogger(k.logger.WithPID(pid).Logger),
		vm.WithMetricsObserver(k.metrics),
	)
	k.logger.Debug("process spawned", "pid", pid)
	return pid, nil
}

func (k *Kernel) space(pid int) (*vm.Space, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	s, ok := k.procs[pid]
	if !ok {
		return nil, ErrNoProcess
	}
	return s, nil
}

func (k *Kernel) checkOpen() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}
	return nil
}

// Map maps length bytes of f at offset into process pid.
func (k *Kernel) Map(ctx context.Context, pid int, length uint64, prot Perm, mode Mode, f *inode.File, offset int64) (Addr, error) {
	s, err := k.space(pid)
	if err != nil {
		return 0, mapError("map", pid, 0, err)
	}
	var file vm.File
	if f != nil {
		file = f
	}
	addr, err := s.Map(ctx, length, prot, mode, file, offset)
	k.logger.LogMap(ctx, pid, addr, length, err)
	return addr, mapError("map", pid, addr, err)
}

// Unmap removes [addr, addr+length) from process pid.
func (k *Kernel) Unmap(ctx context.Context, pid int, addr Addr, length uint64) error {
	s, err := k.space(pid)
	if err != nil {
		return mapError("unmap", pid, addr, err)
	}
	err = s.Unmap(ctx, addr, length)
	k.logger.LogUnmap(ctx, pid, addr, length, err)
	return mapError("unmap", pid, addr, err)
}

// HandleFault populates the page of process pid containing addr.
func (k *Kernel) HandleFault(ctx context.Context, pid int, addr Addr) error {
	s, err := k.space(pid)
	if err != nil {
		return mapError("fault", pid, addr, err)
	}
	err = s.HandleFault(ctx, addr)
	k.logger.LogFault(ctx, pid, addr, err)
	return mapError("fault", pid, addr, err)
}

// Load reads user memory of process pid.
func (k *Kernel) Load(ctx context.Context, pid int, addr Addr, p []byte) error {
	s, err := k.space(pid)
	if err != nil {
		return mapError("load", pid, addr, err)
	}
	return mapError("load", pid, addr, s.Load(ctx, addr, p))
}

// Store writes user memory of process pid.
func (k *Kernel) Store(ctx context.Context, pid int, addr Addr, p []byte) error {
	s, err := k.space(pid)
	if err != nil {
		return mapError("store", pid, addr, err)
	}
	return mapError("store", pid, addr, s.Store(ctx, addr, p))
}

// Regions returns the mapped regions of process pid.
func (k *Kernel) Regions(pid int) ([]vm.Region, error) {
	s, err := k.space(pid)
	if err != nil {
		return nil, err
	}
	return s.Regions(), nil
}

// Space returns the address space of process pid.
func (k *Kernel) Space(pid int) (*vm.Space, error) {
	return k.space(pid)
}

// Exit unmaps every region of process pid and forgets it.
func (k *Kernel) Exit(ctx context.Context, pid int) error {
	k.mu.Lock()
	s, ok := k.procs[pid]
	delete(k.procs, pid)
	k.mu.Unlock()
	if !ok {
		return mapError("exit", pid, 0, ErrNoProcess)
	}
	n := len(s.Regions())
	err := s.Close(ctx)
	k.logger.LogExit(ctx, pid, n, err)
	return err
}

// Sync writes every modified cached block to the root device.
func (k *Kernel) Sync(ctx context.Context) error {
	if err := k.cache.Flush(ctx, RootDev); err != nil {
		return err
	}
	if s, ok := k.dev.(device.Syncer); ok {
		return s.Sync()
	}
	return nil
}

// Stats is a snapshot of kernel state.
type Stats struct {
	Cache       bcache.Stats
	Processes   int
	Regions     int
	FramesFree  int
	FramesTotal int
	FreeBlocks  int
	Commits     int64
	MemoryUsage int64
}

// Stats returns a snapshot of kernel state.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	spaces := slices.Collect(maps.Values(k.procs))
	k.mu.Unlock()

	st := Stats{
		Cache:       k.cache.Stats(),
		Processes:   len(spaces),
		FramesFree:  k.frames.Available(),
		FramesTotal: k.frames.Capacity(),
		FreeBlocks:  k.fs.FreeBlocks(),
		Commits:     k.fs.Commits(),
		MemoryUsage: k.rc.MemoryUsage(),
	}
	for _, s := range spaces {
		st.Regions += len(s.Regions())
	}
	return st
}

// Close tears down every process, writes back the cache and releases the
// device. It is idempotent.
func (k *Kernel) Close(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	procs := k.procs
	k.procs = nil
	k.mu.Unlock()

	var errs []error
	for _, pid := range slices.Sorted(maps.Keys(procs)) {
		if err := procs[pid].Close(ctx); err != nil {
			errs = append(errs, mapError("exit", pid, 0, err))
		}
	}
	if err := k.cache.Unmount(ctx, RootDev); err != nil {
		errs = append(errs, err)
	}
	if err := k.frames.Close(); err != nil {
		errs = append(errs, err)
	}
	k.cache.Close()
	if err := k.dev.Close(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		k.logger.Error("kernel shutdown failed", "error", err)
	} else {
		k.logger.Info("kernel stopped")
	}
	return err
}
