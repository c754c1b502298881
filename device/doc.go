// Package device provides block devices: synchronous, whole-block reads and
// writes addressed by block number.
//
// Implementations:
//
//   - [Memory]: a RAM disk with transfer counters and fault injection
//   - [File]: a disk image on the host file system
//   - [Blob]: one object per block in a blobstore.BlobStore, optionally
//     compressed with LZ4 or Zstandard
//   - [Throttled]: wraps any Device with the resource controller's IO limit
//
// All implementations are safe for concurrent use. Transfers to distinct
// blocks may proceed in parallel; the buffer cache guarantees that at most
// one transfer per block is in flight.
package device
