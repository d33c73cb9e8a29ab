// Package collector runs collection cycles: resolve mirrors, race them for the
// feed, drop what each account has already handled, activate the rest, record
// the outcomes and checkpoint the dedup stores.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/activator"
	"github.com/JakeFAU/freegame-watcher/internal/harvest"
	"github.com/JakeFAU/freegame-watcher/internal/metrics"
)

const checkpointTimeout = 10 * time.Second

// Racer fetches the feed from the fastest mirror. *race.Orchestrator satisfies it.
type Racer interface {
	Race(ctx context.Context, endpoints []string) ([]harvest.DiscoveredEntry, error)
}

// IDGenerator creates cycle identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Report summarizes the last cycle of one account.
type Report struct {
	CycleID    string    `json:"cycle_id"`
	Account    string    `json:"account"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Mirrors    int       `json:"mirrors"`
	Discovered int       `json:"discovered"`
	Fresh      int       `json:"fresh"`
	Accepted   int       `json:"accepted"`
	Invalid    int       `json:"invalid"`
	Retried    int       `json:"retried"`
	Error      string    `json:"error,omitempty"`
}

// Collector drives cycles for a fixed set of accounts. The feed is raced once per
// cycle and the result shared by every account.
type Collector struct {
	resolver  harvest.MirrorResolver
	racer     Racer
	activator activator.Activator
	accounts  []*Account
	ids       IDGenerator
	clock     harvest.Clock
	logger    *zap.Logger

	cycleMu sync.Mutex
	mu      sync.RWMutex
	reports map[string]Report
}

// New wires a Collector.
func New(
	resolver harvest.MirrorResolver,
	racer Racer,
	act activator.Activator,
	accounts []*Account,
	ids IDGenerator,
	clock harvest.Clock,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		resolver:  resolver,
		racer:     racer,
		activator: act,
		accounts:  accounts,
		ids:       ids,
		clock:     clock,
		logger:    logger.Named("collector"),
		reports:   make(map[string]Report, len(accounts)),
	}
}

// Accounts returns the managed accounts.
func (c *Collector) Accounts() []*Account {
	return c.accounts
}

// Collect runs one cycle. Overlapping calls are serialized. Per-account failures
// are combined; a resolve or race failure fails the cycle for every account.
func (c *Collector) Collect(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	started := c.clock.Now()
	defer func() { metrics.ObserveCycle(c.clock.Now().Sub(started)) }()

	cycleID, err := c.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate cycle id: %w", err)
	}
	base := Report{CycleID: cycleID, StartedAt: started}
	logger := c.logger.With(zap.String("cycle_id", cycleID))

	endpoints, err := c.resolver.Resolve(ctx)
	if err != nil {
		err = fmt.Errorf("resolve mirrors: %w", err)
		c.failAll(base, err)
		logger.Error("cycle failed", zap.Error(err))
		return err
	}
	base.Mirrors = len(endpoints)

	entries, err := c.racer.Race(ctx, endpoints)
	if err != nil {
		err = fmt.Errorf("race mirrors: %w", err)
		c.failAll(base, err)
		logger.Error("cycle failed", zap.Error(err), zap.Int("mirrors", len(endpoints)))
		return err
	}
	base.Discovered = len(entries)
	logger.Info("feed collected", zap.Int("mirrors", len(endpoints)), zap.Int("entries", len(entries)))

	var errs error
	for _, a := range c.accounts {
		report, err := c.collectAccount(ctx, a, entries, base, logger)
		c.record(report)
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (c *Collector) collectAccount(
	ctx context.Context,
	a *Account,
	entries []harvest.DiscoveredEntry,
	report Report,
	logger *zap.Logger,
) (Report, error) {
	report.Account = a.Name()
	logger = logger.With(zap.String("account", a.Name()))

	if err := a.Restore(ctx); err != nil {
		report.FinishedAt = c.clock.Now()
		report.Error = err.Error()
		logger.Error("account skipped; dedup snapshot unavailable", zap.Error(err))
		return report, err
	}

	fresh := a.Fresh(entries)
	report.Fresh = len(fresh)

	dirty := false
	var activateErr error
	for _, e := range fresh {
		if err := ctx.Err(); err != nil {
			activateErr = err
			break
		}
		result, err := c.activator.Activate(ctx, a.Name(), e)
		if err != nil {
			logger.Warn("activation failed; will retry next cycle",
				zap.Stringer("identifier", e.Identifier),
				zap.Error(err),
			)
			result = activator.Retry
		}
		metrics.ObserveActivation(result.String())
		switch result {
		case activator.Accepted:
			report.Accepted++
		case activator.Invalid:
			report.Invalid++
		default:
			report.Retried++
		}
		if a.Register(e.Identifier, result) {
			dirty = true
		}
	}

	var err error
	if dirty {
		// Recorded outcomes are checkpointed even when the cycle was cancelled.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
		err = a.Checkpoint(saveCtx)
		cancel()
		if err != nil {
			logger.Error("checkpoint failed", zap.Error(err))
		}
	}
	err = multierr.Append(activateErr, err)

	report.FinishedAt = c.clock.Now()
	if err != nil {
		report.Error = err.Error()
	}
	logger.Info("account cycle finished",
		zap.Int("fresh", report.Fresh),
		zap.Int("accepted", report.Accepted),
		zap.Int("invalid", report.Invalid),
		zap.Int("retried", report.Retried),
	)
	return report, err
}

func (c *Collector) failAll(base Report, err error) {
	base.FinishedAt = c.clock.Now()
	base.Error = err.Error()
	for _, a := range c.accounts {
		r := base
		r.Account = a.Name()
		c.record(r)
	}
}

func (c *Collector) record(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[r.Account] = r
}

// Status returns the last report of each account that has run, sorted by account.
func (c *Collector) Status() []Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Report, 0, len(c.reports))
	for _, r := range c.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}
