package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hupe1980/kcache/bcache"
	"github.com/hupe1980/kcache/device"
	"github.com/hupe1980/kcache/inode"
	"github.com/hupe1980/kcache/internal/page"
	"github.com/hupe1980/kcache/pgalloc"
	"github.com/hupe1980/kcache/syserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testEnv struct {
	fsys   *inode.FileSystem
	frames *pgalloc.Allocator
	pt     *Table
	space  *Space
}

func newTestEnv(t *testing.T, nframes int, opts ...Option) *testEnv {
	t.Helper()
	mem, err := device.NewMemory(1024, 512)
	require.NoError(t, err)
	cache, err := bcache.New(bcache.WithBuffers(64), bcache.WithBlockSize(1024))
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	require.NoError(t, cache.Mount(1, mem))

	fsys, err := inode.New(cache, 1)
	require.NoError(t, err)
	frames, err := pgalloc.New(nframes)
	require.NoError(t, err)
	t.Cleanup(func() { _ = frames.Close() })

	pt := NewPageTable()
	return &testEnv{fsys: fsys, frames: frames, pt: pt, space: NewSpace(pt, frames, opts...)}
}

// pattern returns npages pages where page i is filled with 'A'+i.
func pattern(npages int) []byte {
	p := make([]byte, npages*page.Size)
	for i := range p {
		p[i] = byte('A' + i/page.Size)
	}
	return p
}

func (e *testEnv) file(t *testing.T, name string, content []byte, mode inode.OpenMode) *inode.File {
	t.Helper()
	w, err := e.fsys.Create(name)
	require.NoError(t, err)
	_, err = w.WriteAt(context.Background(), content, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := e.fsys.Open(name, mode)
	require.NoError(t, err)
	return f
}

func TestMap_ZeroLength(t *testing.T) {
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(1), inode.ReadWrite)

	_, err := e.space.Map(context.Background(), 0, page.Read, MapShared, f, 0)
	assert.ErrorIs(t, err, syserr.ErrInvalidArgument)
	assert.Empty(t, e.space.Regions())
	assert.Equal(t, 1, f.Refs())
}

func TestMap_Arguments(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(1), inode.ReadWrite)

	for name, call := range map[string]func() error{
		"nil file":  func() error { _, err := e.space.Map(ctx, 1, page.Read, MapShared, nil, 0); return err },
		"bad mode":  func() error { _, err := e.space.Map(ctx, 1, page.Read, Mode(9), f, 0); return err },
		"no prot":   func() error { _, err := e.space.Map(ctx, 1, 0, MapShared, f, 0); return err },
		"user bit":  func() error { _, err := e.space.Map(ctx, 1, page.User, MapShared, f, 0); return err },
		"unaligned": func() error { _, err := e.space.Map(ctx, 1, page.Read, MapShared, f, 100); return err },
		"negative":  func() error { _, err := e.space.Map(ctx, 1, page.Read, MapShared, f, -page.Size); return err },
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), syserr.ErrInvalidArgument)
		})
	}
	assert.Empty(t, e.space.Regions())
}

func TestMap_Permissions(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	ro := e.file(t, "ro", pattern(1), inode.ReadOnly)
	wo := e.file(t, "wo", pattern(1), inode.WriteOnly)

	_, err := e.space.Map(ctx, page.Size, page.Read|page.Write, MapShared, ro, 0)
	assert.ErrorIs(t, err, syserr.ErrPermissionDenied)
	_, err = e.space.Map(ctx, page.Size, page.Read, MapPrivate, wo, 0)
	assert.ErrorIs(t, err, syserr.ErrPermissionDenied)
	assert.Empty(t, e.space.Regions())
	assert.Equal(t, 1, ro.Refs())

	// A private writable mapping only needs read access.
	_, err = e.space.Map(ctx, page.Size, page.Read|page.Write, MapPrivate, ro, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, ro.Refs())
}

func TestMap_Placement(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(4), inode.ReadWrite)

	a, err := e.space.Map(ctx, 100, page.Read, MapShared, f, 0)
	require.NoError(t, err)
	b, err := e.space.Map(ctx, 2*page.Size+1, page.Read|page.Write, MapPrivate, f, page.Size)
	require.NoError(t, err)

	top := page.TopOfUserSpace
	assert.Equal(t, top-page.Size, a)
	assert.Equal(t, a-3*page.Size, b)
	assert.Equal(t, 3, f.Refs())

	want := []Region{
		{Base: b, Length: 3 * page.Size, Prot: page.Read | page.Write, Mode: MapPrivate, Offset: page.Size},
		{Base: a, Length: page.Size, Prot: page.Read, Mode: MapShared, Offset: 0},
	}
	got := e.space.Regions()
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Region{}, "File")); diff != "" {
		t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
	}
}

func TestMap_NoOverlap(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 8)
	f := e.file(t, "f", pattern(4), inode.ReadWrite)

	for i := 0; i < 6; i++ {
		_, err := e.space.Map(ctx, uint64(i+1)*page.Size, page.Read, MapShared, f, 0)
		require.NoError(t, err)
	}
	// Trim some regions, then map again below them.
	rs := e.space.Regions()
	require.NoError(t, e.space.Unmap(ctx, rs[5].Base, page.Size))
	require.NoError(t, e.space.Unmap(ctx, rs[1].End()-page.Size, page.Size))
	_, err := e.space.Map(ctx, 3*page.Size, page.Read, MapShared, f, 0)
	require.NoError(t, err)

	rs = e.space.Regions()
	for i := 1; i < len(rs); i++ {
		assert.LessOrEqual(t, rs[i-1].End(), rs[i].Base, "regions %d and %d overlap", i-1, i)
	}
	assert.LessOrEqual(t, rs[len(rs)-1].End(), page.TopOfUserSpace)
}

func TestMap_SlotsExhausted(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(1), inode.ReadOnly)

	for i := 0; i < MaxRegions; i++ {
		_, err := e.space.Map(ctx, page.Size, page.Read, MapPrivate, f, 0)
		require.NoError(t, err)
	}
	_, err := e.space.Map(ctx, page.Size, page.Read, MapPrivate, f, 0)
	assert.ErrorIs(t, err, syserr.ErrExhausted)
	assert.Equal(t, MaxRegions+1, f.Refs())
}

func TestMap_AddressSpaceExhausted(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4, WithTop(4*page.Size))
	f := e.file(t, "f", pattern(1), inode.ReadOnly)

	_, err := e.space.Map(ctx, 5*page.Size, page.Read, MapPrivate, f, 0)
	assert.ErrorIs(t, err, syserr.ErrExhausted)
	base, err := e.space.Map(ctx, 4*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)
	assert.Zero(t, base)
}

func TestHandleFault_OutsideRegion(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(1), inode.ReadOnly)

	base, err := e.space.Map(ctx, page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)

	for _, addr := range []page.Addr{0, base - 1, base + page.Size, page.TopOfUserSpace} {
		assert.ErrorIs(t, e.space.HandleFault(ctx, addr), syserr.ErrInvalidArgument, "addr %v", addr)
	}
	assert.Equal(t, 4, e.frames.Available())
	assert.Zero(t, e.pt.Len())
}

func TestHandleFault_PopulatesLazily(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	content := pattern(3)
	f := e.file(t, "f", content, inode.ReadOnly)

	base, err := e.space.Map(ctx, 3*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)
	assert.Zero(t, e.pt.Len())

	require.NoError(t, e.space.HandleFault(ctx, base+page.Size+123))
	assert.Equal(t, 1, e.pt.Len())
	pte, ok := e.pt.Lookup(base + page.Size)
	require.True(t, ok)
	assert.Equal(t, page.User|page.Read, pte.Perm)
	assert.Equal(t, content[page.Size:2*page.Size], e.frames.Bytes(pte.Frame))

	// A second fault on a resident page is a no-op.
	require.NoError(t, e.space.HandleFault(ctx, base+page.Size))
	assert.Equal(t, 3, e.frames.Available())
}

func TestHandleFault_PastEOFReadsZeros(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", []byte("tiny"), inode.ReadOnly)

	base, err := e.space.Map(ctx, 2*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)

	p := make([]byte, 2*page.Size)
	require.NoError(t, e.space.Load(ctx, base, p))
	assert.Equal(t, "tiny", string(p[:4]))
	assert.Equal(t, make([]byte, len(p)-4), p[4:])
}

func TestHandleFault_NoFrame(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	f := e.file(t, "f", pattern(2), inode.ReadOnly)

	base, err := e.space.Map(ctx, 2*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.HandleFault(ctx, base))
	assert.ErrorIs(t, e.space.HandleFault(ctx, base+page.Size), syserr.ErrExhausted)
	assert.Equal(t, 1, e.pt.Len())
}

func TestHandleFault_WriteOnlyShared(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	content := pattern(1)
	wo := e.file(t, "wo", content, inode.WriteOnly)

	base, err := e.space.Map(ctx, page.Size, page.Write, MapShared, wo, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.HandleFault(ctx, base))
	pte, ok := e.pt.Lookup(base)
	require.True(t, ok)
	assert.Equal(t, content, e.frames.Bytes(pte.Frame))

	require.NoError(t, e.space.Store(ctx, base, []byte("Z")))
	assert.ErrorIs(t, e.space.Load(ctx, base, make([]byte, 1)), syserr.ErrPermissionDenied)
	require.NoError(t, e.space.Unmap(ctx, base, page.Size))
	require.NoError(t, wo.Close())

	ro, err := e.fsys.Open("wo", inode.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()
	got := make([]byte, page.Size)
	_, err = ro.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	assert.Equal(t, byte('Z'), got[0])
	assert.Equal(t, content[1:], got[1:])
}

func TestHandleFault_CacheExhaustedPassesThrough(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := &flakyFile{data: make([]byte, page.Size)}

	base, err := e.space.Map(ctx, page.Size, page.Read, MapShared, f, 0)
	require.NoError(t, err)

	f.readErr = syserr.Exhausted("no free buffers")
	err = e.space.HandleFault(ctx, base)
	assert.ErrorIs(t, err, syserr.ErrExhausted)
	assert.NotErrorIs(t, err, syserr.ErrIO)
	assert.Equal(t, 4, e.frames.Available())
	assert.Zero(t, e.pt.Len())

	f.readErr = errors.New("bad sector")
	assert.ErrorIs(t, e.space.HandleFault(ctx, base), syserr.ErrIO)
	assert.Equal(t, 4, e.frames.Available())
}

func TestUnmap_Full(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(2), inode.ReadOnly)

	base, err := e.space.Map(ctx, 2*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.Load(ctx, base, make([]byte, 2*page.Size)))
	assert.Equal(t, 2, f.Refs())
	assert.Equal(t, 2, e.frames.Available())

	require.NoError(t, e.space.Unmap(ctx, base, 2*page.Size))
	assert.Empty(t, e.space.Regions())
	assert.Equal(t, 1, f.Refs())
	assert.Equal(t, 4, e.frames.Available())
	assert.Zero(t, e.pt.Len())

	for _, addr := range []page.Addr{base, base + page.Size} {
		assert.ErrorIs(t, e.space.HandleFault(ctx, addr), syserr.ErrInvalidArgument)
	}
}

func TestUnmap_Prefix(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	content := pattern(3)
	f := e.file(t, "f", content, inode.ReadOnly)

	base, err := e.space.Map(ctx, 3*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.HandleFault(ctx, base))

	require.NoError(t, e.space.Unmap(ctx, base, page.Size))
	rs := e.space.Regions()
	require.Len(t, rs, 1)
	assert.Equal(t, base+page.Size, rs[0].Base)
	assert.Equal(t, int64(page.Size), rs[0].Offset)
	assert.Equal(t, uint64(2*page.Size), rs[0].Length)
	assert.Equal(t, 4, e.frames.Available())

	p := make([]byte, page.Size)
	require.NoError(t, e.space.Load(ctx, rs[0].Base, p))
	assert.Equal(t, content[page.Size:2*page.Size], p)
	assert.ErrorIs(t, e.space.HandleFault(ctx, base), syserr.ErrInvalidArgument)
}

func TestUnmap_Suffix(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(3), inode.ReadOnly)

	base, err := e.space.Map(ctx, 3*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)

	// The length is clipped at the region end.
	require.NoError(t, e.space.Unmap(ctx, base+page.Size, 10*page.Size))
	rs := e.space.Regions()
	require.Len(t, rs, 1)
	assert.Equal(t, base, rs[0].Base)
	assert.Equal(t, uint64(page.Size), rs[0].Length)
	assert.Zero(t, rs[0].Offset)
}

func TestUnmap_Interior(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(3), inode.ReadOnly)

	base, err := e.space.Map(ctx, 3*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.HandleFault(ctx, base+page.Size))
	before := e.space.Regions()

	err = e.space.Unmap(ctx, base+page.Size, page.Size)
	assert.ErrorIs(t, err, syserr.ErrInvalidArgument)
	if diff := cmp.Diff(before, e.space.Regions(), cmpopts.IgnoreFields(Region{}, "File")); diff != "" {
		t.Errorf("region changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, 1, e.pt.Len())
}

func TestUnmap_Arguments(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(1), inode.ReadOnly)

	base, err := e.space.Map(ctx, page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, e.space.Unmap(ctx, base+1, page.Size), syserr.ErrInvalidArgument)
	assert.ErrorIs(t, e.space.Unmap(ctx, base, 0), syserr.ErrInvalidArgument)
	assert.ErrorIs(t, e.space.Unmap(ctx, base-page.Size, page.Size), syserr.ErrInvalidArgument)
	assert.Len(t, e.space.Regions(), 1)
}

func TestUnmap_SharedWriteBack(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(2), inode.ReadWrite)

	base, err := e.space.Map(ctx, 2*page.Size, page.Read|page.Write, MapShared, f, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close(), "the mapping holds its own reference")

	require.NoError(t, e.space.Store(ctx, base+page.Size+10, []byte("modified")))
	pte, ok := e.pt.Lookup(base + page.Size)
	require.True(t, ok)
	assert.True(t, pte.Dirty)
	require.NoError(t, e.space.Unmap(ctx, base, 2*page.Size))

	r, err := e.fsys.Open("f", inode.ReadOnly)
	require.NoError(t, err)
	defer r.Close()
	p := make([]byte, 8)
	_, err = r.ReadAt(ctx, p, page.Size+10)
	require.NoError(t, err)
	assert.Equal(t, "modified", string(p))

	// Clean pages were not written: page 0 is untouched.
	_, err = r.ReadAt(ctx, p, 0)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", string(p))
}

func TestUnmap_PrivateDiscards(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(1), inode.ReadOnly)

	base, err := e.space.Map(ctx, page.Size, page.Read|page.Write, MapPrivate, f, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.Store(ctx, base, []byte("scratch")))

	got := make([]byte, 7)
	require.NoError(t, e.space.Load(ctx, base, got))
	assert.Equal(t, "scratch", string(got))
	require.NoError(t, e.space.Unmap(ctx, base, page.Size))

	_, err = f.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAA", string(got))
}

func TestAccess_Permissions(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := e.file(t, "f", pattern(1), inode.ReadOnly)

	base, err := e.space.Map(ctx, page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, e.space.Store(ctx, base, []byte("x")), syserr.ErrPermissionDenied)
	assert.ErrorIs(t, e.space.Load(ctx, base+page.Size, make([]byte, 1)), syserr.ErrInvalidArgument)
}

func TestAccess_CrossesPages(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	content := pattern(2)
	f := e.file(t, "f", content, inode.ReadOnly)

	base, err := e.space.Map(ctx, 2*page.Size, page.Read, MapPrivate, f, 0)
	require.NoError(t, err)

	p := make([]byte, 10)
	require.NoError(t, e.space.Load(ctx, base+page.Size-5, p))
	assert.Equal(t, "AAAAABBBBB", string(p))
	assert.Equal(t, 2, e.pt.Len())
}

// flakyFile is an in-memory File whose reads and writes can be made to fail.
type flakyFile struct {
	mu       sync.Mutex
	data     []byte
	refs     atomic.Int32
	failNext error
	readErr  error
}

func (f *flakyFile) Readable() bool { return true }
func (f *flakyFile) Writable() bool { return true }
func (f *flakyFile) IncRef()        { f.refs.Add(1) }
func (f *flakyFile) DecRef(context.Context) error {
	f.refs.Add(-1)
	return nil
}

func (f *flakyFile) ReadPage(_ context.Context, p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}

func (f *flakyFile) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return 0, err
	}
	if end := int(off) + len(p); end > len(f.data) {
		f.data = append(f.data, make([]byte, end-len(f.data))...)
	}
	return copy(f.data[off:], p), nil
}

func (f *flakyFile) String() string { return "/flaky" }

func TestUnmap_WriteBackFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := &flakyFile{data: make([]byte, page.Size)}

	base, err := e.space.Map(ctx, page.Size, page.Read|page.Write, MapShared, f, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.Store(ctx, base, []byte("keep")))

	boom := errors.New("disk on fire")
	f.failNext = boom
	err = e.space.Unmap(ctx, base, page.Size)
	assert.ErrorIs(t, err, syserr.ErrIO)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, e.space.Regions(), 1)
	assert.Equal(t, 1, e.pt.Len())
	assert.Equal(t, int32(1), f.refs.Load())

	require.NoError(t, e.space.Unmap(ctx, base, page.Size))
	assert.Equal(t, "keep", string(f.data[:4]))
	assert.Zero(t, f.refs.Load())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4)
	f := &flakyFile{data: make([]byte, 2*page.Size)}

	a, err := e.space.Map(ctx, page.Size, page.Read|page.Write, MapShared, f, 0)
	require.NoError(t, err)
	b, err := e.space.Map(ctx, page.Size, page.Read|page.Write, MapShared, f, page.Size)
	require.NoError(t, err)
	require.NoError(t, e.space.Store(ctx, a, []byte("first")))
	require.NoError(t, e.space.Store(ctx, b, []byte("second")))

	require.NoError(t, e.space.Close(ctx))
	assert.Empty(t, e.space.Regions())
	assert.Zero(t, f.refs.Load())
	assert.Equal(t, "first", string(f.data[:5]))
	assert.Equal(t, "second", string(f.data[page.Size:page.Size+6]))
	assert.Equal(t, 4, e.frames.Available())
}

func TestWriteMaps(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 4, WithTop(0x10000))
	f := &flakyFile{}

	_, err := e.space.Map(ctx, page.Size, page.Read|page.Write, MapShared, f, 0)
	require.NoError(t, err)
	_, err = e.space.Map(ctx, 2*page.Size, page.Read|page.Exec, MapPrivate, f, page.Size)
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, e.space.WriteMaps(&b))
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0000d000-0000f000 r-xp 00001000 00:00 0 "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0000f000-00010000 rw-s 00000000 00:00 0 "), lines[1])
	assert.True(t, strings.HasSuffix(lines[1], " /flaky"))
	assert.Len(t, strings.TrimSuffix(lines[1], "/flaky"), 73)
}

type countingObserver struct {
	NoopMetricsObserver
	faults, writeBack atomic.Int64
}

func (o *countingObserver) OnFault(time.Duration, error) { o.faults.Add(1) }
func (o *countingObserver) OnWriteBack(n int)            { o.writeBack.Add(int64(n)) }

func TestMetricsObserver(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	e := newTestEnv(t, 4, WithMetricsObserver(obs))
	f := &flakyFile{data: make([]byte, page.Size)}

	base, err := e.space.Map(ctx, page.Size, page.Read|page.Write, MapShared, f, 0)
	require.NoError(t, err)
	require.NoError(t, e.space.Store(ctx, base, []byte{1}))
	require.NoError(t, e.space.Unmap(ctx, base, page.Size))

	assert.Equal(t, int64(1), obs.faults.Load())
	assert.Equal(t, int64(page.Size), obs.writeBack.Load())
}

func TestConcurrentStores(t *testing.T) {
	ctx := context.Background()
	const pages = 8
	e := newTestEnv(t, pages)
	f := e.file(t, "f", make([]byte, pages*page.Size), inode.ReadWrite)

	base, err := e.space.Map(ctx, pages*page.Size, page.Read|page.Write, MapShared, f, 0)
	require.NoError(t, err)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < pages; i++ {
		g.Go(func() error {
			msg := []byte(fmt.Sprintf("page-%d", i))
			return e.space.Store(gctx, base+page.Addr(i*page.Size), msg)
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, e.space.Unmap(ctx, base, pages*page.Size))

	buf := make([]byte, 6)
	for i := 0; i < pages; i++ {
		_, err := f.ReadAt(ctx, buf, int64(i*page.Size))
		require.NoError(t, err)
		assert.True(t, bytes.Equal([]byte(fmt.Sprintf("page-%d", i)), buf))
	}
}

func TestPageTable(t *testing.T) {
	pt := NewPageTable()
	assert.ErrorIs(t, pt.Install(1, 0, page.Read), syserr.ErrInvalidArgument)
	assert.ErrorIs(t, pt.Install(page.MaxVA, 0, page.Read), syserr.ErrInvalidArgument)

	require.NoError(t, pt.Install(page.Size, 3, page.Read|page.User))
	assert.ErrorIs(t, pt.Install(page.Size, 4, page.Read), syserr.ErrInvalidArgument)
	assert.False(t, pt.SetDirty(2*page.Size))
	assert.True(t, pt.SetDirty(page.Size))

	e, ok := pt.Remove(page.Size)
	require.True(t, ok)
	assert.Equal(t, PTE{Frame: 3, Perm: page.Read | page.User, Valid: true, Dirty: true}, e)
	assert.Equal(t, "frame#3 r--ud", e.String())
	_, ok = pt.Lookup(page.Size)
	assert.False(t, ok)
}
