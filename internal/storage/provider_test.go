package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/config"
	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

func roundTrip(t *testing.T, backend dedupstore.Backend) {
	t.Helper()
	ctx := context.Background()
	persister := dedupstore.NewPersister(backend, zap.NewNop())

	store := dedupstore.New()
	store.AddProcessed(harvest.GameIdentifier{Kind: harvest.KindApp, ID: 440, Valid: true})
	require.NoError(t, persister.Save(ctx, "alice", store))

	restored := dedupstore.New()
	outcome, err := persister.Load(ctx, "alice", restored)
	require.NoError(t, err)
	require.Equal(t, dedupstore.LoadOK, outcome)
	require.Equal(t, store.Bytes(), restored.Bytes())
}

func TestOpenBackends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  func(dir string) config.SnapshotConfig
	}{
		{"memory", func(string) config.SnapshotConfig {
			return config.SnapshotConfig{Backend: config.BackendMemory}
		}},
		{"local", func(dir string) config.SnapshotConfig {
			return config.SnapshotConfig{Backend: config.BackendLocal, Dir: filepath.Join(dir, "snaps")}
		}},
		{"leveldb", func(dir string) config.SnapshotConfig {
			return config.SnapshotConfig{Backend: config.BackendLevelDB, LevelDBPath: filepath.Join(dir, "db")}
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend, closeFn, err := Open(context.Background(), tt.cfg(t.TempDir()), zap.NewNop())
			require.NoError(t, err)
			require.NotNil(t, closeFn)
			defer func() { require.NoError(t, closeFn()) }()
			roundTrip(t, backend)
		})
	}
}

func TestOpenRedisIsLazy(t *testing.T) {
	t.Parallel()

	backend, closeFn, err := Open(context.Background(), config.SnapshotConfig{
		Backend:   config.BackendRedis,
		RedisAddr: "127.0.0.1:1",
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	require.NoError(t, closeFn())
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.SnapshotConfig
		want string
	}{
		{"unknown", config.SnapshotConfig{Backend: "s3"}, "unknown snapshot backend"},
		{"local without dir", config.SnapshotConfig{Backend: config.BackendLocal}, "open local snapshots"},
		{"redis without addr", config.SnapshotConfig{Backend: config.BackendRedis}, "open redis snapshots"},
		{"postgres without dsn", config.SnapshotConfig{Backend: config.BackendPostgres}, "open postgres snapshots"},
		{"leveldb without path", config.SnapshotConfig{Backend: config.BackendLevelDB}, "open leveldb snapshots"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend, closeFn, err := Open(context.Background(), tt.cfg, zap.NewNop())
			require.ErrorContains(t, err, tt.want)
			require.Nil(t, backend)
			require.Nil(t, closeFn)
		})
	}
}
