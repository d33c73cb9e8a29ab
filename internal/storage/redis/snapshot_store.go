// Package redis stores dedup snapshots as Redis string values.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "freegames:snapshot:"

// Config controls the Redis client.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// SnapshotStore implements dedupstore.Backend on Redis.
type SnapshotStore struct {
	client kv
	closer func() error
	prefix string
}

// New builds a store with its own client. No connection is made until first use.
func New(cfg Config) (*SnapshotStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("snapshot.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	s := NewWithClient(client, cfg.Prefix)
	s.closer = client.Close
	return s, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client kv, prefix string) *SnapshotStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SnapshotStore{client: client, prefix: prefix}
}

// Key returns the Redis key for a snapshot name.
func (s *SnapshotStore) Key(name string) string {
	return s.prefix + name
}

// Get reads the named snapshot.
func (s *SnapshotStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.Key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, dedupstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

// Put stores the snapshot without expiry.
func (s *SnapshotStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.Key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Close closes the client when the store owns it.
func (s *SnapshotStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
