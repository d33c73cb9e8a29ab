package dedupstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Backend stores snapshot blobs by name.
type Backend interface {
	// Get returns ErrNotFound when no snapshot exists under name.
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
}

// Snapshot naming and lookup errors.
var (
	ErrNotFound         = errors.New("snapshot not found")
	ErrForeignByteOrder = errors.New("snapshot was written with the opposite byte order")
	ErrUntaggedName     = errors.New("snapshot name carries no byte order tag")
)

// LoadOutcome summarizes a load attempt.
type LoadOutcome int

// Load outcomes.
const (
	// LoadOK means the snapshot replaced the store contents.
	LoadOK LoadOutcome = iota
	// LoadMissing means there was nothing to load.
	LoadMissing
	// LoadRejected means the snapshot was refused and the store left untouched.
	LoadRejected
	// LoadReset means the snapshot was structurally invalid and the store cleared.
	LoadReset
	// LoadUnavailable means the backend could not be read. The persisted snapshot
	// may still be good, so the caller must not overwrite it.
	LoadUnavailable
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadOK:
		return "ok"
	case LoadMissing:
		return "missing"
	case LoadRejected:
		return "rejected"
	case LoadReset:
		return "reset"
	case LoadUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

const snapshotSuffix = ".sz"

// SnapshotName returns the snapshot name for account on this host.
func SnapshotName(account string) string {
	return account + ".dedup." + HostByteOrderTag() + snapshotSuffix
}

func byteOrderOf(name string) (string, bool) {
	base := strings.TrimSuffix(name, snapshotSuffix)
	if base == name {
		return "", false
	}
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return "", false
	}
	switch tag := base[i+1:]; tag {
	case "le", "be":
		return tag, true
	default:
		return "", false
	}
}

// Persister moves store snapshots to and from a Backend.
type Persister struct {
	backend Backend
	codec   Codec
	logger  *zap.Logger
}

// NewPersister builds a Persister using the snappy codec.
func NewPersister(backend Backend, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{backend: backend, codec: SnappyCodec(), logger: logger}
}

// Load restores the account's snapshot into store.
func (p *Persister) Load(ctx context.Context, account string, store *Store) (LoadOutcome, error) {
	return p.LoadName(ctx, SnapshotName(account), store)
}

// LoadName restores the snapshot stored under name into store.
func (p *Persister) LoadName(ctx context.Context, name string, store *Store) (LoadOutcome, error) {
	tag, ok := byteOrderOf(name)
	if !ok {
		return LoadRejected, fmt.Errorf("load %s: %w", name, ErrUntaggedName)
	}
	if tag != HostByteOrderTag() {
		return LoadRejected, fmt.Errorf("load %s: %w", name, ErrForeignByteOrder)
	}

	data, err := p.backend.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		p.logger.Debug("no snapshot to load", zap.String("name", name))
		return LoadMissing, nil
	}
	if err != nil {
		return LoadUnavailable, fmt.Errorf("read snapshot %s: %w", name, err)
	}

	err = store.DeserializeWith(p.codec, bytes.NewReader(data))
	switch {
	case err == nil:
		processed, invalid := store.Len()
		p.logger.Debug("snapshot loaded",
			zap.String("name", name),
			zap.Int("processed", processed),
			zap.Int("invalid", invalid),
		)
		return LoadOK, nil
	case errors.Is(err, ErrSnapshotReset):
		return LoadReset, fmt.Errorf("load %s: %w", name, err)
	default:
		return LoadRejected, fmt.Errorf("load %s: %w", name, err)
	}
}

// Save writes the account's snapshot. Backend failures are returned.
func (p *Persister) Save(ctx context.Context, account string, store *Store) error {
	name := SnapshotName(account)
	var buf bytes.Buffer
	if err := store.SerializeWith(p.codec, &buf); err != nil {
		return fmt.Errorf("serialize %s: %w", name, err)
	}
	if err := p.backend.Put(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	p.logger.Debug("snapshot saved", zap.String("name", name), zap.Int("bytes", buf.Len()))
	return nil
}
