package device

import (
	"context"

	"github.com/hupe1980/kcache/syserr"
)

// DefaultBlockSize is the block size of the file system layer.
const DefaultBlockSize = 1024

// Device is a block device.
type Device interface {
	// BlockSize returns the size of every block in bytes.
	BlockSize() int
	// NumBlocks returns the number of addressable blocks.
	NumBlocks() uint32
	// ReadBlock fills p, which must be BlockSize bytes, with block bn.
	ReadBlock(ctx context.Context, bn uint32, p []byte) error
	// WriteBlock stores p, which must be BlockSize bytes, as block bn.
	WriteBlock(ctx context.Context, bn uint32, p []byte) error
	// Close releases the device.
	Close() error
}

// Syncer is implemented by devices that buffer writes.
type Syncer interface {
	Sync() error
}

type geometry struct {
	blockSize int
	nblocks   uint32
}

func (g geometry) BlockSize() int    { return g.blockSize }
func (g geometry) NumBlocks() uint32 { return g.nblocks }

func (g geometry) check(bn uint32, p []byte) error {
	if bn >= g.nblocks {
		return syserr.Invalid("block %d out of range [0, %d)", bn, g.nblocks)
	}
	if len(p) != g.blockSize {
		return syserr.Invalid("buffer of %d bytes for %d byte block", len(p), g.blockSize)
	}
	return nil
}

func newGeometry(blockSize int, nblocks uint32) (geometry, error) {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		return geometry{}, syserr.Invalid("block size %d is not a power of two", blockSize)
	}
	if nblocks == 0 {
		return geometry{}, syserr.Invalid("device has no blocks")
	}
	return geometry{blockSize: blockSize, nblocks: nblocks}, nil
}
