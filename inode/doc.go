// Package inode provides files on top of the buffer cache.
//
// A FileSystem owns the data blocks of one mounted device. The inode table
// and the directory live in memory; file contents live in device blocks
// that are read and written through bcache. Every modification happens
// inside a transaction (BeginOp/EndOp). Modified blocks are recorded in the
// log, which pins them in the cache, and the last transaction to end
// commits the whole group by writing the recorded blocks back.
//
// Files carry their open mode and an explicit reference count, so a single
// open file can be shared by several owners (descriptor tables, memory
// mappings) and is released when the last owner closes it.
package inode
