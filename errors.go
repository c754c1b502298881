package kcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/kcache/syserr"
)

var (
	// ErrExhausted is returned when no cache buffer, region slot, physical
	// frame or data block is available. The operation may be retried.
	ErrExhausted = syserr.ErrExhausted

	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = syserr.ErrInvalidArgument

	// ErrPermissionDenied is returned when a mapping asks for more access
	// than the file was opened with.
	ErrPermissionDenied = syserr.ErrPermissionDenied

	// ErrIO is returned when a device or file transfer fails.
	ErrIO = syserr.ErrIO

	// ErrNoProcess is returned for an unknown process id.
	ErrNoProcess = fmt.Errorf("%w: no such process", syserr.ErrInvalidArgument)

	// ErrClosed is returned after the kernel has been closed.
	ErrClosed = errors.New("kernel closed")
)

// MapError records a failed address-space operation of a process.
//
// The underlying error can be accessed via errors.Unwrap.
type MapError struct {
	PID   int
	Addr  Addr
	Op    string
	cause error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%s pid %d at %v: %v", e.Op, e.PID, e.Addr, e.cause)
}

func (e *MapError) Unwrap() error { return e.cause }

func mapError(op string, pid int, addr Addr, err error) error {
	if err == nil {
		return nil
	}
	return &MapError{PID: pid, Addr: addr, Op: op, cause: err}
}
