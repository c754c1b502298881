package inode

import (
	"context"
	"io"
	"sync"

	"github.com/hupe1980/kcache/syserr"
)

// Inode is the in-memory state of a file. Size and block map are guarded
// by the inode lock; refs and nlink by the file system mutex.
type Inode struct {
	fsys *FileSystem
	inum uint32
	name string

	lock  sync.Mutex
	size  int64
	addrs []uint32

	refs  int
	nlink int
}

// Inum returns the inode number.
func (ip *Inode) Inum() uint32 { return ip.inum }

// Lock acquires the inode lock, suspending the caller while another
// goroutine holds it.
func (ip *Inode) Lock() { ip.lock.Lock() }

// Unlock releases the inode lock.
func (ip *Inode) Unlock() { ip.lock.Unlock() }

// Size returns the file size. The caller holds the lock.
func (ip *Inode) Size() int64 { return ip.size }

// bmap returns the device block holding file block fb, allocating and
// zeroing one when alloc is set. A zero result is a hole.
func (ip *Inode) bmap(ctx context.Context, fb int, alloc bool) (uint32, error) {
	if fb < len(ip.addrs) && ip.addrs[fb] != 0 {
		return ip.addrs[fb], nil
	}
	if !alloc {
		return 0, nil
	}
	if fb >= ip.fsys.maxBlocks {
		return 0, syserr.Invalid("file block %d beyond maximum of %d", fb, ip.fsys.maxBlocks)
	}

	bn, err := ip.fsys.balloc()
	if err != nil {
		return 0, err
	}
	b, err := ip.fsys.bread(ctx, bn)
	if err != nil {
		ip.fsys.bfree(bn)
		return 0, err
	}
	clear(b.Data())
	ip.fsys.LogWrite(b)
	ip.fsys.cache.Release(b)

	if fb >= len(ip.addrs) {
		ip.addrs = append(ip.addrs, make([]uint32, fb+1-len(ip.addrs))...)
	}
	ip.addrs[fb] = bn
	return bn, nil
}

// ReadAt reads up to len(p) bytes at off. Reading at or past the end of
// the file returns io.EOF. The caller holds the lock.
func (ip *Inode) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, syserr.Invalid("negative offset %d", off)
	}
	if off >= ip.size {
		return 0, io.EOF
	}
	want := len(p)
	if rem := ip.size - off; int64(want) > rem {
		want = int(rem)
	}

	bs := int64(ip.fsys.blockSize)
	n := 0
	for n < want {
		pos := off + int64(n)
		fb, boff := int(pos/bs), int(pos%bs)
		m := min(want-n, int(bs)-boff)

		bn, err := ip.bmap(ctx, fb, false)
		if err != nil {
			return n, err
		}
		if bn == 0 {
			clear(p[n : n+m])
		} else {
			b, err := ip.fsys.bread(ctx, bn)
			if err != nil {
				return n, err
			}
			copy(p[n:n+m], b.Data()[boff:])
			ip.fsys.cache.Release(b)
		}
		n += m
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at off, growing the file as needed. The caller holds
// the lock and an open transaction large enough for the touched blocks.
func (ip *Inode) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, syserr.Invalid("negative offset %d", off)
	}
	if end := off + int64(len(p)); end > ip.fsys.MaxFileSize() {
		return 0, syserr.Invalid("write to %d exceeds maximum file size %d", end, ip.fsys.MaxFileSize())
	}

	bs := int64(ip.fsys.blockSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		fb, boff := int(pos/bs), int(pos%bs)
		m := min(len(p)-n, int(bs)-boff)

		bn, err := ip.bmap(ctx, fb, true)
		if err != nil {
			return n, err
		}
		b, err := ip.fsys.bread(ctx, bn)
		if err != nil {
			return n, err
		}
		copy(b.Data()[boff:], p[n:n+m])
		ip.fsys.LogWrite(b)
		ip.fsys.cache.Release(b)
		n += m
	}
	if end := off + int64(n); end > ip.size {
		ip.size = end
	}
	return n, nil
}

// truncate frees every block. The caller holds the lock.
func (ip *Inode) truncate() {
	for _, bn := range ip.addrs {
		if bn != 0 {
			ip.fsys.bfree(bn)
		}
	}
	ip.addrs = nil
	ip.size = 0
}

// Truncate discards the contents of the file. The caller holds the lock.
func (ip *Inode) Truncate() {
	ip.truncate()
}
