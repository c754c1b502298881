// Package bcache implements a sharded disk-block buffer cache.
//
// The cache owns a fixed pool of buffers, each holding one block of one
// mounted device. Buffers are spread across shards by block number; every
// shard has its own short-held mutex protecting its list and the reference
// counts of the buffers on it. A buffer's content is protected by a
// per-buffer sleep lock that callers hold between Acquire and Release, so at
// most one goroutine reads or modifies a block at a time.
//
// # Eviction
//
// A miss takes the global eviction lock, scans every shard in ascending
// order and picks the unreferenced, clean buffer with the oldest release
// tick. The lock of the shard holding the best candidate so far is kept
// while the scan continues, so the candidate cannot be claimed by a
// concurrent hit. If the victim lives on another shard it is moved to the
// target shard. When no buffer can be evicted, Acquire returns
// syserr.ErrExhausted; AcquireWait retries with exponential backoff.
//
// # Usage
//
//	c, _ := bcache.New(bcache.WithBuffers(64))
//	_ = c.Mount(0, dev)
//	b, err := c.Bread(ctx, 0, 17)
//	if err != nil { ... }
//	b.Data()[0] = 1
//	err = c.Write(ctx, b)
//	c.Release(b)
package bcache
