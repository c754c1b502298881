package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/hupe1980/kcache/blobstore"
	"github.com/hupe1980/kcache/syserr"
)

// Blob is a block device that stores every block as one object.
//
// Blocks that were never written, or were last written as all zeros, have no
// object and read back as zeros.
type Blob struct {
	geometry
	store       blobstore.BlobStore
	prefix      string
	compression Compression
	logger      *slog.Logger
}

// BlobOption configures a Blob device.
type BlobOption func(*Blob)

// WithCompression selects the block codec. The default is CompressionNone.
func WithCompression(c Compression) BlobOption {
	return func(b *Blob) {
		b.compression = c
	}
}

// WithBlobLogger sets the logger used to report corrupt objects.
func WithBlobLogger(l *slog.Logger) BlobOption {
	return func(b *Blob) {
		b.logger = l
	}
}

// NewBlob creates a device whose blocks live under prefix in store.
func NewBlob(store blobstore.BlobStore, prefix string, blockSize int, nblocks uint32, opts ...BlobOption) (*Blob, error) {
	g, err := newGeometry(blockSize, nblocks)
	if err != nil {
		return nil, err
	}
	b := &Blob{geometry: g, store: store, prefix: prefix}
	for _, opt := range opts {
		opt(b)
	}
	if b.compression > CompressionZSTD {
		return nil, syserr.Invalid("unsupported compression %v", b.compression)
	}
	return b, nil
}

// Key returns the object name of block bn.
func (d *Blob) Key(bn uint32) string {
	return path.Join(d.prefix, fmt.Sprintf("%08x.blk", bn))
}

// ReadBlock implements Device.
func (d *Blob) ReadBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := d.check(bn, p); err != nil {
		return err
	}
	frame, err := blobstore.ReadAll(ctx, d.store, d.Key(bn))
	if errors.Is(err, blobstore.ErrNotFound) {
		clear(p)
		return nil
	}
	if err != nil {
		return &syserr.IOError{Op: "read", Block: bn, Err: err}
	}
	if err := decodeFrame(frame, p); err != nil {
		if d.logger != nil {
			d.logger.Error("corrupt block object", "key", d.Key(bn), "error", err)
		}
		return &syserr.IOError{Op: "read", Block: bn, Err: err}
	}
	return nil
}

// WriteBlock implements Device.
func (d *Blob) WriteBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := d.check(bn, p); err != nil {
		return err
	}
	if isZero(p) {
		if err := d.store.Delete(ctx, d.Key(bn)); err != nil {
			return &syserr.IOError{Op: "write", Block: bn, Err: err}
		}
		return nil
	}
	frame, err := encodeFrame(p, d.compression)
	if err != nil {
		return &syserr.IOError{Op: "write", Block: bn, Err: err}
	}
	if err := d.store.Put(ctx, d.Key(bn), frame); err != nil {
		return &syserr.IOError{Op: "write", Block: bn, Err: err}
	}
	return nil
}

// Stored returns the number of blocks that currently have an object.
func (d *Blob) Stored(ctx context.Context) (int, error) {
	prefix := d.prefix
	if prefix != "" {
		prefix += "/"
	}
	names, err := d.store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Close implements Device.
func (d *Blob) Close() error { return nil }

func isZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
