package inode

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/kcache/bcache"
	"github.com/hupe1980/kcache/syserr"
)

// FileSystem is a set of named files stored on one device.
type FileSystem struct {
	cache     *bcache.Cache
	dev       uint32
	blockSize int
	maxBlocks int
	logger    *slog.Logger
	log       *txlog

	mu       sync.Mutex
	free     *roaring.Bitmap
	dir      map[string]*Inode
	nextInum uint32
}

// New creates an empty file system over device dev, which must already be
// mounted in cache.
func New(cache *bcache.Cache, dev uint32, opts ...Option) (*FileSystem, error) {
	o := options{
		maxOpBlocks: DefaultMaxOpBlocks,
		logSize:     DefaultLogSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxOpBlocks < 2 || o.logSize < o.maxOpBlocks {
		return nil, syserr.Invalid("log of %d blocks cannot hold transactions of %d blocks", o.logSize, o.maxOpBlocks)
	}
	// The log pins up to logSize buffers; the cache needs spares to make
	// progress.
	if n := cache.Stats().Buffers; n <= o.logSize {
		return nil, syserr.Invalid("cache of %d buffers is too small for a log of %d blocks", n, o.logSize)
	}

	d, err := cache.Device(dev)
	if err != nil {
		return nil, err
	}
	if d.NumBlocks() <= DataStart {
		return nil, syserr.Invalid("device %d has no data blocks", dev)
	}

	fsys := &FileSystem{
		cache:     cache,
		dev:       dev,
		blockSize: cache.BlockSize(),
		maxBlocks: NumDirect + cache.BlockSize()/4,
		logger:    o.logger,
		log:       newLog(cache, dev, o.maxOpBlocks, o.logSize, o.logger),
		free:      roaring.New(),
		dir:       make(map[string]*Inode),
		nextInum:  1,
	}
	fsys.free.AddRange(DataStart, uint64(d.NumBlocks()))

	if fsys.logger != nil {
		fsys.logger.Info("file system created", "dev", dev, "data_blocks", fsys.free.GetCardinality())
	}
	return fsys, nil
}

// BlockSize returns the size of a data block.
func (fsys *FileSystem) BlockSize() int { return fsys.blockSize }

// MaxFileSize returns the largest size a file can grow to.
func (fsys *FileSystem) MaxFileSize() int64 {
	return int64(fsys.maxBlocks) * int64(fsys.blockSize)
}

// BeginOp opens a transaction. It waits while a commit is in progress or
// the log lacks room for another transaction.
func (fsys *FileSystem) BeginOp(ctx context.Context) error {
	return fsys.log.begin(ctx)
}

// EndOp closes a transaction. The last outstanding transaction commits
// the log.
func (fsys *FileSystem) EndOp(ctx context.Context) error {
	return fsys.log.end(ctx)
}

// LogWrite records the held buffer b as modified by the current
// transaction.
func (fsys *FileSystem) LogWrite(b *bcache.Buf) {
	fsys.log.write(b)
}

// Commits returns the number of completed log commits.
func (fsys *FileSystem) Commits() int64 {
	fsys.log.mu.Lock()
	defer fsys.log.mu.Unlock()
	return fsys.log.commits
}

// FreeBlocks returns the number of unallocated data blocks.
func (fsys *FileSystem) FreeBlocks() int {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return int(fsys.free.GetCardinality())
}

// Names returns the sorted file names.
func (fsys *FileSystem) Names() []string {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	names := make([]string, 0, len(fsys.dir))
	for name := range fsys.dir {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create creates the named file, truncating it if it exists, and opens it
// read-write.
func (fsys *FileSystem) Create(name string) (*File, error) {
	return fsys.Open(name, ReadWrite|Create|Truncate)
}

// Open opens the named file with the given mode.
func (fsys *FileSystem) Open(name string, mode OpenMode) (*File, error) {
	if name == "" {
		return nil, syserr.Invalid("empty file name")
	}
	if err := mode.validate(); err != nil {
		return nil, err
	}

	fsys.mu.Lock()
	ip, ok := fsys.dir[name]
	if !ok {
		if mode&Create == 0 {
			fsys.mu.Unlock()
			return nil, syserr.Invalid("file %q does not exist", name)
		}
		ip = &Inode{fsys: fsys, inum: fsys.nextInum, name: name, nlink: 1}
		fsys.nextInum++
		fsys.dir[name] = ip
		if fsys.logger != nil {
			fsys.logger.Debug("file created", "name", name, "inum", ip.inum)
		}
	}
	ip.refs++
	fsys.mu.Unlock()

	if mode&Truncate != 0 && mode.writable() {
		ip.Lock()
		ip.truncate()
		ip.Unlock()
	}
	return newFile(ip, mode), nil
}

// Remove unlinks the named file. Its blocks are freed once the last open
// reference is closed.
func (fsys *FileSystem) Remove(name string) error {
	fsys.mu.Lock()
	ip, ok := fsys.dir[name]
	if !ok {
		fsys.mu.Unlock()
		return syserr.Invalid("file %q does not exist", name)
	}
	delete(fsys.dir, name)
	ip.nlink = 0
	last := ip.refs == 0
	fsys.mu.Unlock()

	if last {
		ip.Lock()
		ip.truncate()
		ip.Unlock()
	}
	return nil
}

// iput drops an in-memory reference to ip.
func (fsys *FileSystem) iput(ip *Inode) {
	fsys.mu.Lock()
	if ip.refs <= 0 {
		fsys.mu.Unlock()
		panic("inode: iput of unreferenced inode")
	}
	ip.refs--
	last := ip.refs == 0 && ip.nlink == 0
	fsys.mu.Unlock()

	if last {
		ip.Lock()
		ip.truncate()
		ip.Unlock()
	}
}

func (fsys *FileSystem) balloc() (uint32, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.free.IsEmpty() {
		return 0, syserr.Exhausted("device %d out of data blocks", fsys.dev)
	}
	bn := fsys.free.Minimum()
	fsys.free.Remove(bn)
	return bn, nil
}

func (fsys *FileSystem) bfree(bn uint32) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if bn < DataStart || fsys.free.Contains(bn) {
		panic("inode: freeing free block")
	}
	fsys.free.Add(bn)
}

// bread returns the held, valid buffer for bn, waiting for a free buffer
// when the cache is momentarily exhausted.
func (fsys *FileSystem) bread(ctx context.Context, bn uint32) (*bcache.Buf, error) {
	b, err := fsys.cache.AcquireWait(ctx, fsys.dev, bn)
	if err != nil {
		return nil, err
	}
	if err := fsys.cache.Read(ctx, b); err != nil {
		fsys.cache.Release(b)
		return nil, err
	}
	return b, nil
}
