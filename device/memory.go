package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/kcache/syserr"
)

// Memory is a RAM disk.
type Memory struct {
	geometry

	mu     sync.RWMutex
	data   []byte
	faults map[uint32]error

	reads  atomic.Int64
	writes atomic.Int64
}

// NewMemory creates a zero-filled RAM disk.
func NewMemory(blockSize int, nblocks uint32) (*Memory, error) {
	g, err := newGeometry(blockSize, nblocks)
	if err != nil {
		return nil, err
	}
	return &Memory{
		geometry: g,
		data:     make([]byte, blockSize*int(nblocks)),
		faults:   make(map[uint32]error),
	}, nil
}

func (m *Memory) block(bn uint32) []byte {
	off := int(bn) * m.blockSize
	return m.data[off : off+m.blockSize]
}

// ReadBlock implements Device.
func (m *Memory) ReadBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := m.check(bn, p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.faults[bn]; err != nil {
		return &syserr.IOError{Op: "read", Block: bn, Err: err}
	}
	copy(p, m.block(bn))
	m.reads.Add(1)
	return nil
}

// WriteBlock implements Device.
func (m *Memory) WriteBlock(ctx context.Context, bn uint32, p []byte) error {
	if err := m.check(bn, p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[bn]; err != nil {
		return &syserr.IOError{Op: "write", Block: bn, Err: err}
	}
	copy(m.block(bn), p)
	m.writes.Add(1)
	return nil
}

// Fail makes every transfer of block bn fail with err until Heal.
func (m *Memory) Fail(bn uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[bn] = err
}

// Heal removes all injected faults.
func (m *Memory) Heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.faults)
}

// Peek returns a copy of block bn without counting a transfer.
func (m *Memory) Peek(bn uint32) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.block(bn)...)
}

// Reads returns the number of completed block reads.
func (m *Memory) Reads() int64 { return m.reads.Load() }

// Writes returns the number of completed block writes.
func (m *Memory) Writes() int64 { return m.writes.Load() }

// Close implements Device.
func (m *Memory) Close() error { return nil }
