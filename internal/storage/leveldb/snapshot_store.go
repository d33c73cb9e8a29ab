// Package leveldb stores dedup snapshots in an embedded LevelDB database.
package leveldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
)

var keyPrefix = []byte("snapshot/")

// SnapshotStore implements dedupstore.Backend on LevelDB.
type SnapshotStore struct {
	db *leveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*SnapshotStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot.leveldb_path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// OpenStorage opens a database over an arbitrary goleveldb storage, such as
// storage.NewMemStorage().
func OpenStorage(stor storage.Storage) (*SnapshotStore, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func key(name string) []byte {
	return append(append([]byte(nil), keyPrefix...), name...)
}

// Get reads the named snapshot.
func (s *SnapshotStore) Get(_ context.Context, name string) ([]byte, error) {
	data, err := s.db.Get(key(name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, dedupstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

// Put writes the snapshot with a synced write.
func (s *SnapshotStore) Put(_ context.Context, name string, data []byte) error {
	if err := s.db.Put(key(name), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
