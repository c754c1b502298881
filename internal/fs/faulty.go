package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault")

// Fault describes how a file opened through FaultyFS misbehaves.
type Fault struct {
	// FailReadsAt fails any read touching this byte offset. -1 disables.
	FailReadsAt int64
	// FailAfterBytes fails writes once this many bytes were written to the
	// file. -1 disables.
	FailAfterBytes int64
	FailOnSync     bool
	FailOnClose    bool
	// Err overrides ErrInjected.
	Err error
}

// NoFault is a Fault that never triggers.
var NoFault = Fault{FailReadsAt: -1, FailAfterBytes: -1}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS wraps a FileSystem and injects errors into the files it opens.
// Rules are matched by substring of the file name; the rule in effect when
// a file is opened is fixed for its lifetime unless changed with SetFault.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault
	files map[string][]*faultyFile
}

// NewFaultyFS wraps fsys, or Default if nil.
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:    fsys,
		rules: make(map[string]Fault),
		files: make(map[string][]*faultyFile),
	}
}

// AddRule installs fault for files whose name contains pattern and applies
// it to already open matching files.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
	for name, open := range f.files {
		if strings.Contains(name, pattern) {
			for _, ff := range open {
				ff.setFault(fault)
			}
		}
	}
}

// ClearRules removes every rule and heals open files.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.rules)
	for _, open := range f.files {
		for _, ff := range open {
			ff.setFault(NoFault)
		}
	}
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	fault := NoFault
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}
	ff := &faultyFile{File: file, fault: fault}
	f.files[name] = append(f.files[name], ff)
	return ff, nil
}

func (f *FaultyFS) Remove(name string) error              { return f.FS.Remove(name) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }
func (f *FaultyFS) Truncate(name string, size int64) error {
	return f.FS.Truncate(name, size)
}

type faultyFile struct {
	File

	mu      sync.Mutex
	fault   Fault
	written int64
}

func (ff *faultyFile) setFault(fault Fault) {
	ff.mu.Lock()
	ff.fault = fault
	ff.mu.Unlock()
}

func (ff *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	ff.mu.Lock()
	fault := ff.fault
	ff.mu.Unlock()
	if fault.FailReadsAt >= 0 && off <= fault.FailReadsAt && fault.FailReadsAt < off+int64(len(p)) {
		return 0, fault.err()
	}
	return ff.File.ReadAt(p, off)
}

func (ff *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	ff.mu.Lock()
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		err := ff.fault.err()
		ff.mu.Unlock()
		return 0, err
	}
	ff.mu.Unlock()

	n, err := ff.File.WriteAt(p, off)
	ff.mu.Lock()
	ff.written += int64(n)
	ff.mu.Unlock()
	return n, err
}

func (ff *faultyFile) Sync() error {
	ff.mu.Lock()
	fault := ff.fault
	ff.mu.Unlock()
	if fault.FailOnSync {
		return fault.err()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	ff.mu.Lock()
	fault := ff.fault
	ff.mu.Unlock()
	if fault.FailOnClose {
		_ = ff.File.Close()
		return fault.err()
	}
	return ff.File.Close()
}
