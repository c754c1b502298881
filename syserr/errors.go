package syserr

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is returned when a fixed pool (cache buffers, mapping
	// slots, physical pages) has no free entry.
	ErrExhausted = errors.New("resource exhausted")

	// ErrInvalidArgument is returned for malformed requests: zero lengths,
	// unaligned addresses, addresses outside every region, holes.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied is returned when requested access exceeds what the
	// backing file or region allows.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrIO is returned when a device or file transfer fails.
	ErrIO = errors.New("i/o failure")
)

// IOError describes a failed block transfer.
//
// It matches ErrIO with errors.Is and unwraps to the underlying cause.
type IOError struct {
	Op    string
	Dev   uint32
	Block uint32
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s dev %d block %d: %v", e.Op, e.Dev, e.Block, e.Err)
}

// Unwrap returns ErrIO and the underlying cause.
func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// Invalid wraps ErrInvalidArgument with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Exhausted wraps ErrExhausted with a formatted reason.
func Exhausted(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExhausted, fmt.Sprintf(format, args...))
}

// Denied wraps ErrPermissionDenied with a formatted reason.
func Denied(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

// IO wraps err as an I/O failure unless it already is one.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}
