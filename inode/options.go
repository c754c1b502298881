package inode

import "log/slog"

const (
	// DefaultMaxOpBlocks is the maximum number of distinct blocks a single
	// transaction may write.
	DefaultMaxOpBlocks = 10

	// DefaultLogSize is the maximum number of blocks the log holds before
	// it must commit.
	DefaultLogSize = 2 * DefaultMaxOpBlocks

	// DataStart is the first block handed out to files. Block 0 is reserved.
	DataStart = 1

	// NumDirect is the number of directly addressed blocks of a file.
	NumDirect = 12
)

type options struct {
	logger      *slog.Logger
	maxOpBlocks int
	logSize     int
}

// Option configures a FileSystem.
type Option func(*options)

// WithLogger sets the logger for the file system.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxOpBlocks sets the per-transaction block budget.
func WithMaxOpBlocks(n int) Option {
	return func(o *options) {
		o.maxOpBlocks = n
	}
}

// WithLogSize sets the capacity of the log in blocks.
func WithLogSize(n int) Option {
	return func(o *options) {
		o.logSize = n
	}
}
