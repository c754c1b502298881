package kcache

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hupe1980/kcache/device"
	"github.com/hupe1980/kcache/inode"
	"github.com/hupe1980/kcache/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(append([]Option{WithBuffers(48), WithFrames(16), WithBlocks(256)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close(context.Background()) })
	return k
}

func TestNew_Validation(t *testing.T) {
	_, err := New(WithIOLimit(100))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(WithBuffers(8))
	assert.ErrorIs(t, err, ErrInvalidArgument, "cache too small for the log")

	mem, err := device.NewMemory(512, 64)
	require.NoError(t, err)
	_, err = New(WithDevice(mem))
	assert.ErrorIs(t, err, ErrInvalidArgument, "block size mismatch")
}

func TestNew_MemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 48*1024 + 2*PageSize})
	k := newTestKernel(t, WithResourceController(rc))
	ctx := context.Background()

	f, err := k.Open("f", inode.ReadWrite|inode.Create)
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, make([]byte, 3*PageSize), 0)
	require.NoError(t, err)

	pid, err := k.Spawn()
	require.NoError(t, err)
	addr, err := k.Map(ctx, pid, 3*PageSize, ProtRead, MapPrivate, f, 0)
	require.NoError(t, err)

	require.NoError(t, k.HandleFault(ctx, pid, addr))
	require.NoError(t, k.HandleFault(ctx, pid, addr+PageSize))
	err = k.HandleFault(ctx, pid, addr+2*PageSize)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int64(48*1024+2*PageSize), k.Stats().MemoryUsage)
}

func TestKernel_SharedMappingRoundTrip(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	k := newTestKernel(t, WithMetricsCollector(metrics), WithLogger(NewTextLogger(slog.LevelError)))

	f, err := k.Open("shared", inode.ReadWrite|inode.Create)
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, make([]byte, 2*PageSize), 0)
	require.NoError(t, err)

	pid, err := k.Spawn()
	require.NoError(t, err)
	addr, err := k.Map(ctx, pid, 2*PageSize, ProtRead|ProtWrite, MapShared, f, 0)
	require.NoError(t, err)
	assert.Equal(t, TopOfUserSpace-2*PageSize, addr)
	require.NoError(t, f.Close())

	require.NoError(t, k.Store(ctx, pid, addr+PageSize+1, []byte("visible")))
	require.NoError(t, k.Unmap(ctx, pid, addr, 2*PageSize))

	r, err := k.Open("shared", inode.ReadOnly)
	require.NoError(t, err)
	defer r.Close()
	got := make([]byte, 7)
	_, err = r.ReadAt(ctx, got, PageSize+1)
	require.NoError(t, err)
	assert.Equal(t, "visible", string(got))

	st := metrics.GetStats()
	assert.Equal(t, int64(1), st.MapCount)
	assert.Equal(t, int64(1), st.UnmapCount)
	assert.Equal(t, int64(1), st.FaultCount)
	assert.Equal(t, int64(PageSize), st.WriteBackBytes)
	assert.Positive(t, st.Hits+st.Misses)
}

func TestKernel_MapError(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)

	pid, err := k.Spawn()
	require.NoError(t, err)

	err = k.HandleFault(ctx, pid, 0x1000)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	var me *MapError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, pid, me.PID)
	assert.Equal(t, Addr(0x1000), me.Addr)
	assert.Equal(t, "fault", me.Op)
	assert.Contains(t, me.Error(), "fault pid 1 at 0x1000")

	_, err = k.Map(ctx, 99, PageSize, ProtRead, MapShared, nil, 0)
	assert.ErrorIs(t, err, ErrNoProcess)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = k.Map(ctx, pid, PageSize, ProtRead, MapShared, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKernel_Exit(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)

	f, err := k.Open("f", inode.ReadWrite|inode.Create)
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, []byte("x"), 0)
	require.NoError(t, err)

	pid, err := k.Spawn()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		addr, err := k.Map(ctx, pid, PageSize, ProtRead, MapPrivate, f, 0)
		require.NoError(t, err)
		require.NoError(t, k.HandleFault(ctx, pid, addr))
	}
	st := k.Stats()
	assert.Equal(t, 1, st.Processes)
	assert.Equal(t, 3, st.Regions)
	assert.Equal(t, st.FramesTotal-3, st.FramesFree)
	assert.Equal(t, 4, f.Refs())

	require.NoError(t, k.Exit(ctx, pid))
	st = k.Stats()
	assert.Zero(t, st.Processes)
	assert.Equal(t, st.FramesTotal, st.FramesFree)
	assert.Equal(t, 1, f.Refs())

	assert.ErrorIs(t, k.Exit(ctx, pid), ErrNoProcess)
	_, err = k.Regions(pid)
	assert.ErrorIs(t, err, ErrNoProcess)
}

func TestKernel_Bread(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t, WithBackpressure(true), WithBuffers(24))

	b, err := k.Bread(ctx, 100)
	require.NoError(t, err)
	copy(b.Data(), "raw block")
	b.MarkDirty()
	k.Release(b)
	require.NoError(t, k.Sync(ctx))
	assert.Zero(t, k.Stats().Cache.Dirty)
}

func TestKernel_Close(t *testing.T) {
	ctx := context.Background()
	mem, err := device.NewMemory(device.DefaultBlockSize, 128)
	require.NoError(t, err)
	k, err := New(WithDevice(mem), WithBuffers(32))
	require.NoError(t, err)

	f, err := k.Open("f", inode.ReadWrite|inode.Create)
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, make([]byte, PageSize), 0)
	require.NoError(t, err)
	pid, err := k.Spawn()
	require.NoError(t, err)
	addr, err := k.Map(ctx, pid, PageSize, ProtRead|ProtWrite, MapShared, f, 0)
	require.NoError(t, err)
	require.NoError(t, k.Store(ctx, pid, addr, []byte("flushed on close")))

	require.NoError(t, k.Close(ctx))
	require.NoError(t, k.Close(ctx))

	_, err = k.Spawn()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = k.Open("f", inode.ReadOnly)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, k.Exit(ctx, pid), ErrNoProcess)

	found := false
	for b := uint32(0); b < mem.NumBlocks(); b++ {
		if string(mem.Peek(b)[:16]) == "flushed on close" {
			found = true
			break
		}
	}
	assert.True(t, found, "write-back reached the device")
}
