// Package hash provides the CRC32-Castagnoli checksums used to frame
// blocks stored in object stores and to tag S3 uploads.
package hash
