package inode

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/kcache/syserr"
)

// OpenMode selects the access mode and creation flags of Open.
type OpenMode int

const (
	ReadOnly  OpenMode = 0x000
	WriteOnly OpenMode = 0x001
	ReadWrite OpenMode = 0x002
	Create    OpenMode = 0x200
	Truncate  OpenMode = 0x400

	accessMask = 0x003
)

func (m OpenMode) validate() error {
	if m&accessMask == accessMask {
		return syserr.Invalid("open mode %#x", int(m))
	}
	return nil
}

func (m OpenMode) readable() bool { return m&WriteOnly == 0 }
func (m OpenMode) writable() bool { return m&(WriteOnly|ReadWrite) != 0 }

// File is an open file. It is shared by reference: every owner calls
// IncRef (or Dup) and eventually DecRef (or Close).
type File struct {
	ip       *Inode
	readable bool
	writable bool
	refs     atomic.Int32

	mu  sync.Mutex
	off int64
}

func newFile(ip *Inode, mode OpenMode) *File {
	f := &File{ip: ip, readable: mode.readable(), writable: mode.writable()}
	f.refs.Store(1)
	return f
}

// String implements fmt.Stringer.
func (f *File) String() string {
	return fmt.Sprintf("%s (inode %d)", f.ip.name, f.ip.inum)
}

// Name returns the name the file was opened with.
func (f *File) Name() string { return f.ip.name }

// Inode returns the underlying inode.
func (f *File) Inode() *Inode { return f.ip }

// Readable reports whether the file was opened for reading.
func (f *File) Readable() bool { return f.readable }

// Writable reports whether the file was opened for writing.
func (f *File) Writable() bool { return f.writable }

// Refs returns the current reference count.
func (f *File) Refs() int { return int(f.refs.Load()) }

// IncRef adds a reference.
func (f *File) IncRef() {
	if f.refs.Add(1) <= 1 {
		panic("inode: IncRef of closed file")
	}
}

// Dup adds a reference and returns f.
func (f *File) Dup() *File {
	f.IncRef()
	return f
}

// DecRef drops a reference. The last one releases the inode.
func (f *File) DecRef(_ context.Context) error {
	switch n := f.refs.Add(-1); {
	case n < 0:
		panic("inode: DecRef of closed file")
	case n == 0:
		f.ip.fsys.iput(f.ip)
	}
	return nil
}

// Close drops the caller's reference.
func (f *File) Close() error {
	return f.DecRef(context.Background())
}

// BeginOp opens a transaction on the file's file system.
func (f *File) BeginOp(ctx context.Context) error {
	return f.ip.fsys.BeginOp(ctx)
}

// EndOp closes a transaction on the file's file system.
func (f *File) EndOp(ctx context.Context) error {
	return f.ip.fsys.EndOp(ctx)
}

// Size returns the current file size.
func (f *File) Size() int64 {
	f.ip.Lock()
	defer f.ip.Unlock()
	return f.ip.size
}

// ReadAt reads len(p) bytes at off under the inode lock.
func (f *File) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if !f.readable {
		return 0, syserr.Denied("%v not open for reading", f)
	}
	f.ip.Lock()
	defer f.ip.Unlock()
	return f.ip.ReadAt(ctx, p, off)
}

// ReadPage reads len(p) bytes at off under the inode lock without checking
// the open mode. Memory mappings use it to populate pages of regions whose
// protection was validated when they were created.
func (f *File) ReadPage(ctx context.Context, p []byte, off int64) (int, error) {
	f.ip.Lock()
	defer f.ip.Unlock()
	return f.ip.ReadAt(ctx, p, off)
}

// WriteAt writes p at off. Large writes are split so that no transaction
// exceeds the per-operation block budget.
func (f *File) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if !f.writable {
		return 0, syserr.Denied("%v not open for writing", f)
	}
	fsys := f.ip.fsys
	// An unaligned chunk touches at most one extra block.
	chunk := (fsys.log.maxOp - 1) * fsys.blockSize

	n := 0
	for n < len(p) {
		m := min(len(p)-n, chunk)
		if err := fsys.BeginOp(ctx); err != nil {
			return n, err
		}
		f.ip.Lock()
		w, err := f.ip.WriteAt(ctx, p[n:n+m], off+int64(n))
		f.ip.Unlock()
		endErr := fsys.EndOp(ctx)
		n += w
		if err != nil {
			return n, err
		}
		if endErr != nil {
			return n, endErr
		}
	}
	return n, nil
}

// Read implements io.Reader at the file offset.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.ReadAt(context.Background(), p, f.off)
	f.off += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

// Write implements io.Writer at the file offset.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.WriteAt(context.Background(), p, f.off)
	f.off += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.off
	case io.SeekEnd:
		base = f.Size()
	default:
		return 0, syserr.Invalid("whence %d", whence)
	}
	if base+offset < 0 {
		return 0, syserr.Invalid("negative position %d", base+offset)
	}
	f.off = base + offset
	return f.off, nil
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)
