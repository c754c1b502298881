package fs

import (
	"io"
	"os"
)

// File is an open disk image. Block devices address it positionally, so
// ReadAt and WriteAt are the primary access methods.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Stat() (os.FileInfo, error)
}

// FileSystem abstracts the host file system for testability.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
	Truncate(name string, size int64) error
}

// LocalFS implements FileSystem using the os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (LocalFS) Truncate(name string, size int64) error {
	return os.Truncate(name, size)
}

// Default is the local file system.
var Default FileSystem = LocalFS{}
