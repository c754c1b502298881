package device

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/hupe1980/kcache/internal/fs"
	"github.com/hupe1980/kcache/syserr"
)

// File is a block device backed by a disk image on the host.
type File struct {
	geometry
	f fs.File
}

// OpenFile opens or creates the disk image at path, sized to nblocks blocks.
// A nil fsys uses the local file system.
func OpenFile(fsys fs.FileSystem, path string, blockSize int, nblocks uint32) (*File, error) {
	g, err := newGeometry(blockSize, nblocks)
	if err != nil {
		return nil, err
	}
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(blockSize) * int64(nblocks)
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if fi.Size() < size {
		if err := fsys.Truncate(path, size); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return &File{geometry: g, f: f}, nil
}

// ReadBlock implements Device.
func (d *File) ReadBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := d.check(bn, p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := d.f.ReadAt(p, int64(bn)*int64(d.blockSize))
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	if err != nil {
		return &syserr.IOError{Op: "read", Block: bn, Err: err}
	}
	return nil
}

// WriteBlock implements Device.
func (d *File) WriteBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := d.check(bn, p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(p, int64(bn)*int64(d.blockSize)); err != nil {
		return &syserr.IOError{Op: "write", Block: bn, Err: err}
	}
	return nil
}

// Sync flushes the image's data to stable storage.
func (d *File) Sync() error {
	if f, ok := d.f.(*os.File); ok {
		return datasync(f)
	}
	return d.f.Sync()
}

// Close syncs and closes the image.
func (d *File) Close() error {
	return errors.Join(d.Sync(), d.f.Close())
}
