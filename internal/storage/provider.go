// Package storage selects the snapshot backend used to persist dedup stores.
// Each backend lives in its own subpackage and implements dedupstore.Backend;
// Open wires the one named by configuration.
package storage

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/config"
	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
	gcsstore "github.com/JakeFAU/freegame-watcher/internal/storage/gcs"
	ldbstore "github.com/JakeFAU/freegame-watcher/internal/storage/leveldb"
	"github.com/JakeFAU/freegame-watcher/internal/storage/local"
	"github.com/JakeFAU/freegame-watcher/internal/storage/memory"
	pgstore "github.com/JakeFAU/freegame-watcher/internal/storage/postgres"
	redisstore "github.com/JakeFAU/freegame-watcher/internal/storage/redis"
)

// CloseFunc releases backend resources. It is never nil.
type CloseFunc func() error

func noClose() error { return nil }

// Open constructs the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.SnapshotConfig, logger *zap.Logger) (dedupstore.Backend, CloseFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("snapshots kept in memory only; state is lost on exit")
		return memory.NewBlobStore(), noClose, nil

	case config.BackendLocal, "":
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("open local snapshots: %w", err)
		}
		logger.Info("using local snapshots", zap.String("dir", cfg.Dir))
		return store, noClose, nil

	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open gcs snapshots: %w", err)
		}
		logger.Info("using gcs snapshots", zap.String("bucket", cfg.GCSBucket), zap.String("prefix", cfg.GCSPrefix))
		return store, client.Close, nil

	case config.BackendPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.PostgresDSN, Table: cfg.PostgresTable})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres snapshots: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info("using postgres snapshots", zap.String("table", cfg.PostgresTable))
		return store, func() error { store.Close(); return nil }, nil

	case config.BackendRedis:
		store, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Prefix: cfg.RedisPrefix})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis snapshots: %w", err)
		}
		logger.Info("using redis snapshots", zap.String("addr", cfg.RedisAddr))
		return store, store.Close, nil

	case config.BackendLevelDB:
		store, err := ldbstore.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open leveldb snapshots: %w", err)
		}
		logger.Info("using leveldb snapshots", zap.String("path", cfg.LevelDBPath))
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}
