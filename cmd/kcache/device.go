package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/kcache"
	"github.com/hupe1980/kcache/blobstore"
	miniostore "github.com/hupe1980/kcache/blobstore/minio"
	s3store "github.com/hupe1980/kcache/blobstore/s3"
	"github.com/hupe1980/kcache/device"
)

// Env is the state shared by every command: the resolved config and logger.
type Env struct {
	Config Config
	Logger *slog.Logger
}

// openDevice builds the root block device described by cfg.
func openDevice(ctx context.Context, cfg Config, logger *slog.Logger) (device.Device, error) {
	dc := cfg.Device
	bs, n := cfg.BlockSize, cfg.Blocks

	var store blobstore.BlobStore
	switch dc.Kind {
	case "memory":
		return device.NewMemory(bs, n)
	case "file":
		return device.OpenFile(nil, dc.Path, bs, n)
	case "local":
		store = blobstore.NewLocalStore(dc.Path)
	case "minio":
		client, err := minio.New(dc.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(dc.AccessKey, dc.SecretKey, ""),
			Secure: dc.UseSSL,
			Region: dc.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		store = miniostore.NewStore(client, dc.Bucket, "")
	case "s3":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if dc.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(dc.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if dc.Endpoint != "" {
				o.BaseEndpoint = aws.String(dc.Endpoint)
				o.UsePathStyle = true
			}
		})
		store = s3store.NewStore(client, dc.Bucket, "")
	default:
		return nil, fmt.Errorf("unknown device kind %q", dc.Kind)
	}

	codec, err := device.ParseCompression(dc.Compression)
	if err != nil {
		return nil, err
	}
	return device.NewBlob(store, dc.Prefix, bs, n,
		device.WithCompression(codec),
		device.WithBlobLogger(logger),
	)
}

// newKernel boots a kernel on the configured device. The kernel owns the
// returned device and closes it.
func (e *Env) newKernel(ctx context.Context, metrics kcache.MetricsCollector) (*kcache.Kernel, device.Device, error) {
	cfg := e.Config

	memLimit, err := cfg.memoryLimit()
	if err != nil {
		return nil, nil, err
	}
	ioLimit, err := cfg.ioLimit()
	if err != nil {
		return nil, nil, err
	}

	dev, err := openDevice(ctx, cfg, e.Logger)
	if err != nil {
		return nil, nil, err
	}

	k, err := kcache.New(
		kcache.WithDevice(dev),
		kcache.WithBuffers(cfg.Buffers),
		kcache.WithShards(cfg.Shards),
		kcache.WithBlockSize(cfg.BlockSize),
		kcache.WithBlocks(cfg.Blocks),
		kcache.WithFrames(cfg.Frames),
		kcache.WithMemoryLimit(memLimit),
		kcache.WithIOLimit(ioLimit),
		kcache.WithFlushWorkers(cfg.FlushWorkers),
		kcache.WithBackpressure(cfg.Backpressure),
		kcache.WithLogger(kcache.NewLogger(e.Logger.Handler())),
		kcache.WithMetricsCollector(metrics),
	)
	if err != nil {
		_ = dev.Close()
		return nil, nil, err
	}
	return k, dev, nil
}
