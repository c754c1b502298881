package device

import (
	"context"

	"github.com/hupe1980/kcache/resource"
)

// Throttled limits the bandwidth of a wrapped device with the IO token
// bucket of a resource controller.
type Throttled struct {
	Device
	rc *resource.Controller
}

// NewThrottled wraps d. A nil controller leaves d unthrottled.
func NewThrottled(d Device, rc *resource.Controller) *Throttled {
	return &Throttled{Device: d, rc: rc}
}

// ReadBlock implements Device.
func (t *Throttled) ReadBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := t.rc.AcquireIO(ctx, len(p)); err != nil {
		return err
	}
	return t.Device.ReadBlock(ctx, bn, p)
}

// WriteBlock implements Device.
func (t *Throttled) WriteBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := t.rc.AcquireIO(ctx, len(p)); err != nil {
		return err
	}
	return t.Device.WriteBlock(ctx, bn, p)
}
