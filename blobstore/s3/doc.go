// Package s3 implements blobstore.BlobStore on Amazon S3 with
// aws-sdk-go-v2.
//
// Store depends only on the [Client] interface, which *s3.Client satisfies,
// so tests substitute a mock:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "bucket", "disks/")
package s3
