package pgalloc

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/hupe1980/kcache/internal/mmap"
	"github.com/hupe1980/kcache/resource"
	"github.com/hupe1980/kcache/syserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocator(t *testing.T, n int, opts ...Option) *Allocator {
	t.Helper()
	a, err := New(n, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, syserr.ErrInvalidArgument)
}

func TestNew_AdviseFailureLogged(t *testing.T) {
	orig := adviseArena
	t.Cleanup(func() { adviseArena = orig })
	adviseArena = func(*mmap.Mapping, mmap.AccessPattern) error { return errors.New("madvise: not supported") }

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := newAllocator(t, 2, WithLogger(logger))

	assert.Equal(t, 2, a.Available())
	assert.Contains(t, out.String(), "pgalloc: advise failed")
	assert.Contains(t, out.String(), "madvise: not supported")
}

func TestAlloc_Exhausted(t *testing.T) {
	a := newAllocator(t, 3)
	assert.Equal(t, 3, a.Capacity())

	seen := map[Frame]bool{}
	for i := 0; i < 3; i++ {
		f, err := a.Alloc()
		require.NoError(t, err)
		assert.False(t, seen[f])
		seen[f] = true
	}
	assert.Zero(t, a.Available())

	_, err := a.Alloc()
	assert.ErrorIs(t, err, syserr.ErrExhausted)
	assert.Zero(t, a.Available())

	a.Free(1)
	f, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, Frame(1), f)
}

func TestAlloc_Zeroed(t *testing.T) {
	a := newAllocator(t, 1)

	f, err := a.Alloc()
	require.NoError(t, err)
	p := a.Bytes(f)
	require.Len(t, p, PageSize)
	for i := range p {
		p[i] = 0xa5
	}
	a.Free(f)

	f, err = a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, PageSize), a.Bytes(f))
}

func TestFree_Panics(t *testing.T) {
	a := newAllocator(t, 2)

	f, err := a.Alloc()
	require.NoError(t, err)
	a.Free(f)

	assert.Panics(t, func() { a.Free(f) })
	assert.Panics(t, func() { a.Free(7) })
	assert.Panics(t, func() { a.Bytes(2) })
}

func TestAlloc_MemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 2 * PageSize})
	a := newAllocator(t, 4, WithResourceController(rc))

	f1, err := a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	assert.ErrorIs(t, err, syserr.ErrExhausted)
	assert.Equal(t, 2, a.Available())
	assert.Equal(t, int64(2*PageSize), rc.MemoryUsage())

	a.Free(f1)
	assert.Equal(t, int64(PageSize), rc.MemoryUsage())
}

func TestFrameString(t *testing.T) {
	assert.Equal(t, "frame#12", Frame(12).String())
}
