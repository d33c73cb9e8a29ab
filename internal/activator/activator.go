// Package activator hands fresh discoveries to whatever registers them with an
// account. The collector only sees the Activator interface.
package activator

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// Result is the outcome of one activation attempt.
type Result int

// Activation results. Only Accepted and Invalid are recorded in the dedup store;
// Retry leaves the entry eligible for the next cycle.
const (
	Accepted Result = iota
	Invalid
	Retry
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Invalid:
		return "invalid"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Activator registers one entry for one account. A returned error is treated
// as Retry regardless of the Result.
type Activator interface {
	Activate(ctx context.Context, account string, entry harvest.DiscoveredEntry) (Result, error)
}

// LogActivator only logs entries. It is the dry-run default.
type LogActivator struct {
	logger *zap.Logger
}

// NewLogActivator returns a LogActivator.
func NewLogActivator(logger *zap.Logger) *LogActivator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogActivator{logger: logger.Named("activator")}
}

// Activate logs entry and accepts it unless the identifier is malformed.
func (a *LogActivator) Activate(_ context.Context, account string, entry harvest.DiscoveredEntry) (Result, error) {
	if !entry.Identifier.Valid || !entry.Identifier.Kind.Valid() {
		a.logger.Info("skipping invalid identifier",
			zap.String("account", account),
			zap.Stringer("identifier", entry.Identifier),
		)
		return Invalid, nil
	}
	a.logger.Info("free game discovered",
		zap.String("account", account),
		zap.Stringer("identifier", entry.Identifier),
		zap.Stringer("flags", entry.Flags),
		zap.Time("observed_at", entry.ObservedAt()),
	)
	return Accepted, nil
}
