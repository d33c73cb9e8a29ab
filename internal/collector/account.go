package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/activator"
	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
	"github.com/JakeFAU/freegame-watcher/internal/harvest"
	"github.com/JakeFAU/freegame-watcher/internal/metrics"
)

// ErrSnapshotUnavailable is returned while an account's persisted snapshot
// cannot be read. Such an account is neither collected nor checkpointed.
var ErrSnapshotUnavailable = errors.New("dedup snapshot unavailable")

// Account owns one dedup store. All store access goes through its mutex.
type Account struct {
	name      string
	mu        sync.Mutex
	store     *dedupstore.Store
	persister *dedupstore.Persister
	logger    *zap.Logger

	// unavailable is set while the last load could not read the backend.
	unavailable bool
}

// NewAccount returns an account with an empty store.
func NewAccount(name string, persister *dedupstore.Persister, logger *zap.Logger) *Account {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Account{
		name:      name,
		store:     dedupstore.New(),
		persister: persister,
		logger:    logger.With(zap.String("account", name)),
	}
}

// Name returns the account name.
func (a *Account) Name() string {
	return a.name
}

// Load restores the persisted snapshot. Rejected and reset snapshots are logged
// and reported but leave the account usable. An unreadable backend marks the
// account unavailable until a later load succeeds.
func (a *Account) Load(ctx context.Context) (dedupstore.LoadOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	outcome, err := a.persister.Load(ctx, a.name, a.store)
	a.unavailable = outcome == dedupstore.LoadUnavailable
	metrics.ObserveSnapshotLoad(outcome.String())
	switch outcome {
	case dedupstore.LoadOK:
		processed, invalid := a.store.Len()
		a.logger.Info("dedup snapshot restored", zap.Int("processed", processed), zap.Int("invalid", invalid))
	case dedupstore.LoadMissing:
		a.logger.Info("no dedup snapshot; starting empty")
	case dedupstore.LoadReset:
		a.logger.Warn("dedup snapshot damaged; store reset", zap.Error(err))
	case dedupstore.LoadRejected:
		a.logger.Warn("dedup snapshot rejected; keeping current state", zap.Error(err))
	case dedupstore.LoadUnavailable:
		a.logger.Warn("dedup snapshot unreadable; account paused until it loads", zap.Error(err))
	}
	return outcome, err
}

// Available reports whether the persisted snapshot has been read.
func (a *Account) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.unavailable
}

// Restore retries the load of an unavailable account. It returns
// ErrSnapshotUnavailable while the backend still cannot be read.
func (a *Account) Restore(ctx context.Context) error {
	if a.Available() {
		return nil
	}
	outcome, err := a.Load(ctx)
	if outcome == dedupstore.LoadUnavailable {
		return fmt.Errorf("restore %s: %w: %w", a.name, ErrSnapshotUnavailable, err)
	}
	return nil
}

// Fresh returns the entries not yet processed or invalid, preserving order.
func (a *Account) Fresh(entries []harvest.DiscoveredEntry) []harvest.DiscoveredEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]harvest.DiscoveredEntry, 0, len(entries))
	for _, e := range entries {
		if !a.store.Seen(e.Identifier) {
			out = append(out, e)
		}
	}
	return out
}

// Register records an activation result. It reports whether the store changed.
func (a *Account) Register(id harvest.GameIdentifier, result activator.Result) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch result {
	case activator.Accepted:
		return a.store.AddProcessed(id)
	case activator.Invalid:
		return a.store.AddInvalid(id)
	default:
		return false
	}
}

// Checkpoint persists the store. It refuses to run while the persisted snapshot
// is unavailable, since the write would replace it.
func (a *Account) Checkpoint(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.unavailable {
		return fmt.Errorf("checkpoint %s: %w", a.name, ErrSnapshotUnavailable)
	}
	if err := a.persister.Save(ctx, a.name, a.store); err != nil {
		return fmt.Errorf("checkpoint %s: %w", a.name, err)
	}
	return nil
}

// Contents lists the processed and invalid identifiers.
func (a *Account) Contents() (processed, invalid []harvest.GameIdentifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Processed(), a.store.Invalid()
}

// LoadAll restores every account. Snapshot failures never abort startup: the
// affected account keeps whatever state Load left it in, and an unreadable one
// is retried by Collect before it is used.
func LoadAll(ctx context.Context, accounts []*Account) error {
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, _ = a.Load(ctx)
	}
	return nil
}
