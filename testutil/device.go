package testutil

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/kcache/device"
)

// BlockingDevice wraps a device so that every read announces itself on
// HasBlocked and then waits for a value on Unblock. Tests use it to observe
// exactly which accesses reach the device.
type BlockingDevice struct {
	device.Device

	HasBlocked chan struct{}
	Unblock    chan struct{}

	reads atomic.Int64
}

// NewBlockingDevice wraps d.
func NewBlockingDevice(d device.Device) *BlockingDevice {
	return &BlockingDevice{
		Device:     d,
		HasBlocked: make(chan struct{}),
		Unblock:    make(chan struct{}),
	}
}

// ReadBlock implements device.Device.
func (b *BlockingDevice) ReadBlock(ctx context.Context, bn uint32, p []byte) error {
	select {
	case b.HasBlocked <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-b.Unblock:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.reads.Add(1)
	return b.Device.ReadBlock(ctx, bn, p)
}

// Reads returns the number of reads that were let through.
func (b *BlockingDevice) Reads() int64 {
	return b.reads.Load()
}

// Allow lets n blocked reads proceed.
func (b *BlockingDevice) Allow(n int) {
	for range n {
		<-b.HasBlocked
		b.Unblock <- struct{}{}
	}
}
