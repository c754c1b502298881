// Package kcache provides the block cache and memory-mapping core of a
// small monolithic kernel as an embeddable Go library.
//
// It combines:
//
//   - A sharded buffer cache (package bcache) with least-recently-released
//     eviction coordinated across shards
//   - A file layer (package inode) with per-file locks, open modes,
//     reference-counted files and group-committed transactions
//   - A physical frame allocator (package pgalloc) over an anonymous mmap arena
//   - Per-process address spaces (package vm) with lazily populated,
//     file-backed regions and write-back of shared pages on unmap
//   - Block devices (package device) backed by RAM, disk images or object
//     stores (local, MinIO, S3) with optional LZ4/ZSTD compression
//
// # Quick Start
//
//	ctx := context.Background()
//	k, err := kcache.New(
//	    kcache.WithBuffers(64),
//	    kcache.WithFrames(128),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer k.Close(ctx)
//
// Create a file and map it into a process:
//
//	f, _ := k.Open("data", inode.ReadWrite|inode.Create)
//	_, _ = f.WriteAt(ctx, []byte("hello"), 0)
//
//	pid, _ := k.Spawn()
//	addr, _ := k.Map(ctx, pid, kcache.PageSize, kcache.ProtRead|kcache.ProtWrite, kcache.MapShared, f, 0)
//	_ = k.Store(ctx, pid, addr, []byte("HELLO"))  // faults the page in
//	_ = k.Unmap(ctx, pid, addr, kcache.PageSize)  // writes it back
//
// # Errors
//
// Failures are classified by the sentinels ErrExhausted, ErrInvalidArgument,
// ErrPermissionDenied and ErrIO; test with errors.Is. Address-space
// failures are wrapped in *MapError carrying the process and address.
package kcache
