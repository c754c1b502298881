// Package blobstore provides object storage for remote block devices.
//
// A [BlobStore] holds named immutable objects that are replaced wholesale
// by Put. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - [MemoryStore]: in-memory, for tests and the demo driver
//   - [LocalStore]: a directory with mmap reads and atomic writes
//   - minio.Store: MinIO and S3-compatible servers
//   - s3.Store: Amazon S3 with CRC32C upload checksums
package blobstore
