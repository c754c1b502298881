// Package minio implements blobstore.BlobStore on top of minio-go, for
// MinIO and other S3-compatible servers.
package minio
