package config

import (
	"context"
	"fmt"

	"github.com/freightcore/freightcore/pkg/metrics"
	"github.com/freightcore/freightcore/pkg/objstore"
	objstorememory "github.com/freightcore/freightcore/pkg/objstore/memory"
	objstores3 "github.com/freightcore/freightcore/pkg/objstore/s3"
	"github.com/freightcore/freightcore/pkg/progress"
	"github.com/freightcore/freightcore/pkg/transfer"
)

// CreateStore creates an object store instance from configuration.
//
// The metrics constructors return nil when metrics are disabled, so the
// wiring here has no effect on an unmetered daemon.
func CreateStore(ctx context.Context, cfg StoreConfig) (objstore.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return objstorememory.New(), nil
	case "s3":
		return createS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Backend)
	}
}

// createS3Store creates an S3-backed object store.
func createS3Store(ctx context.Context, cfg S3StoreConfig) (objstore.Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 store requires bucket to be set")
	}

	s3Cfg := objstores3.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		ForcePathStyle:  cfg.ForcePathStyle,
		KeyPrefix:       cfg.KeyPrefix,
		PartSize:        cfg.PartSize.Int64(),
	}

	return objstores3.NewFromConfig(ctx, s3Cfg, metrics.NewS3Metrics())
}

// CreateProgressRegistry creates a progress registry from configuration.
func CreateProgressRegistry(cfg ProgressConfig) *progress.Registry {
	return progress.NewRegistry(progress.Config{
		CoalesceInterval: cfg.CoalesceInterval,
		Retention:        cfg.RetentionAfterTerminal,
		SubscriberBuffer: cfg.SubscriberBuffer,
	}, metrics.NewProgressMetrics())
}

// CreateTransferService creates the transfer service from configuration,
// wiring the given store and progress registry.
func CreateTransferService(cfg TransferConfig, store objstore.Store, registry *progress.Registry) *transfer.Service {
	return transfer.New(transfer.Config{
		MultipartThreshold:     cfg.MultipartThreshold.Int64(),
		MaxChunkBytes:          cfg.MaxChunkBytes.Int64(),
		RecommendedChunkBytes:  cfg.RecommendedChunkBytes.Int64(),
		SessionIdleTimeout:     cfg.SessionIdleTimeout,
		DownloadReadChunkBytes: cfg.DownloadReadChunkBytes.Int64(),
		MaxDirectBuffer:        cfg.MaxDirectBuffer.Int64(),
		MaxSessions:            cfg.MaxSessions,
		MaxInflightBytes:       cfg.MaxInflightBytes.Int64(),
		SignedURLMaxTTL:        cfg.SignedURLMaxTTL,
	}, store, registry, metrics.NewTransferMetrics(), metrics.NewSessionMetrics())
}
