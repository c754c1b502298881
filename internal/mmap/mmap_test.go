package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReadClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	content := []byte("hello, block 7")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, len(content), m.Size())
	all, err := m.Slice(0, m.Size())
	require.NoError(t, err)
	assert.Equal(t, content, all)
	require.NoError(t, m.Advise(AccessRandom))

	buf := make([]byte, 7)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "block 7", string(buf))

	n, err = m.ReadAt(make([]byte, 10), 10)
	assert.Equal(t, 4, n)
	assert.Equal(t, io.EOF, err)

	_, err = m.ReadAt(buf, -1)
	assert.Equal(t, ErrInvalidOffset, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Advise(AccessDefault), ErrClosed)
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 0, m.Size())
}

func TestMapAnon(t *testing.T) {
	m, err := MapAnon(2 * 4096)
	require.NoError(t, err)
	defer m.Close()

	s, err := m.Slice(4096, 4096)
	require.NoError(t, err)
	assert.Len(t, s, 4096)
	for _, b := range s {
		require.Zero(t, b)
	}

	s[0] = 0xab
	again, err := m.Slice(4096, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), again[0])

	_, err = m.Slice(4096, 4097)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}
