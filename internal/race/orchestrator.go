// Package race fans one fetch out across redundant mirrors and keeps the first
// non-empty result. Every task is cancelled and joined before Race returns.
package race

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
	"github.com/JakeFAU/freegame-watcher/internal/metrics"
)

// Defaults for Config.
const (
	DefaultDeadline    = 60 * time.Second
	DefaultConcurrency = 4
)

// Outcome labels reported to metrics and logs.
const (
	OutcomeWon       = "won"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeDeadline  = "deadline"
	OutcomeNoMirrors = "no_mirrors"
)

// Runner fetches one mirror. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, endpoint string, limiter *semaphore.Weighted) ([]harvest.DiscoveredEntry, error)
}

// Config controls Orchestrator behavior.
type Config struct {
	// Deadline bounds a whole race.
	Deadline time.Duration
	// Concurrency bounds in-flight body reads across all mirrors of one race.
	Concurrency int64
}

// Orchestrator races mirrors against each other.
type Orchestrator struct {
	runner  Runner
	cfg     Config
	shuffle func([]string)
	logger  *zap.Logger
}

// New constructs an Orchestrator, filling unset config values with defaults.
func New(runner Runner, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		runner:  runner,
		cfg:     cfg,
		shuffle: shuffle,
		logger:  logger.Named("race"),
	}
}

type settlement struct {
	endpoint string
	entries  []harvest.DiscoveredEntry
	err      error
}

// Race returns the entries of the first mirror to settle with a non-empty result.
//
// Mirrors that settle empty are dropped. If none wins, the faults seen are returned:
// a single fault as-is, several as one multierr composite. With no faults at all the
// result is empty and the error nil. Cancellation of ctx returns ctx.Err(); hitting
// the race deadline returns context.DeadlineExceeded combined with any faults.
func (o *Orchestrator) Race(ctx context.Context, endpoints []string) ([]harvest.DiscoveredEntry, error) {
	if len(endpoints) == 0 {
		o.finish(OutcomeNoMirrors, 0)
		return nil, harvest.ErrNoMirrors
	}
	if err := ctx.Err(); err != nil {
		o.finish(OutcomeCancelled, 0)
		return nil, err
	}

	order := slices.Clone(endpoints)
	o.shuffle(order)

	raceCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	limiter := semaphore.NewWeighted(o.cfg.Concurrency)
	settled := make(chan settlement, len(order))

	var wg conc.WaitGroup
	defer func() {
		cancel()
		if r := wg.WaitAndRecover(); r != nil {
			o.logger.Error("race task escaped recovery", zap.String("panic", r.String()))
		}
	}()

	for _, endpoint := range order {
		wg.Go(func() {
			settled <- o.run(raceCtx, endpoint, limiter)
		})
	}

	var faults error
	for pending := len(order); pending > 0; {
		select {
		case <-raceCtx.Done():
			if ctx.Err() == nil {
				if entries := o.drain(raceCtx, settled, &faults); entries != nil {
					return entries, nil
				}
			}
			return nil, o.interrupted(ctx, len(order), faults)
		case s := <-settled:
			pending--
			if entries := o.settle(raceCtx, s, &faults, pending); entries != nil {
				return entries, nil
			}
		}
	}

	// Tasks may all report cancellation before Done is observed.
	if raceCtx.Err() != nil {
		return nil, o.interrupted(ctx, len(order), faults)
	}
	if faults != nil {
		o.finish(OutcomeFailed, 0)
		return nil, faults
	}
	o.finish(OutcomeEmpty, 0)
	return nil, nil
}

// settle folds one settlement into the race. It returns the entries of a winner.
func (o *Orchestrator) settle(raceCtx context.Context, s settlement, faults *error, unsettled int) []harvest.DiscoveredEntry {
	switch {
	case s.err != nil:
		if raceCtx.Err() != nil && isContextErr(s.err) {
			return nil
		}
		o.logger.Warn("mirror failed", zap.String("endpoint", s.endpoint), zap.Error(s.err))
		*faults = multierr.Append(*faults, s.err)
	case len(s.entries) == 0:
		o.logger.Debug("mirror settled empty", zap.String("endpoint", s.endpoint))
	default:
		o.logger.Info("mirror won race",
			zap.String("endpoint", s.endpoint),
			zap.Int("entries", len(s.entries)),
			zap.Int("unsettled", unsettled),
		)
		o.finish(OutcomeWon, len(s.entries))
		return s.entries
	}
	return nil
}

// drain settles whatever is already queued when the deadline fires, so a winner
// that arrived alongside the deadline is not lost.
func (o *Orchestrator) drain(raceCtx context.Context, settled <-chan settlement, faults *error) []harvest.DiscoveredEntry {
	for {
		select {
		case s := <-settled:
			if entries := o.settle(raceCtx, s, faults, 0); entries != nil {
				return entries
			}
		default:
			return nil
		}
	}
}

// interrupted reports a race cut short by the caller or by the race deadline.
func (o *Orchestrator) interrupted(ctx context.Context, mirrors int, faults error) error {
	if err := ctx.Err(); err != nil {
		o.finish(OutcomeCancelled, 0)
		return err
	}
	o.finish(OutcomeDeadline, 0)
	deadlineErr := fmt.Errorf("race %d mirrors after %s: %w", mirrors, o.cfg.Deadline, context.DeadlineExceeded)
	return multierr.Append(deadlineErr, faults)
}

// run executes one task, turning a panic into a fault.
func (o *Orchestrator) run(ctx context.Context, endpoint string, limiter *semaphore.Weighted) settlement {
	s := settlement{endpoint: endpoint}
	var pc panics.Catcher
	pc.Try(func() {
		s.entries, s.err = o.runner.Run(ctx, endpoint, limiter)
	})
	if r := pc.Recovered(); r != nil {
		o.logger.Error("mirror task panicked", zap.String("endpoint", endpoint), zap.Any("panic", r.Value))
		s.entries = nil
		s.err = fmt.Errorf("mirror %s: %w", endpoint, r.AsError())
	}
	return s
}

func (o *Orchestrator) finish(outcome string, entries int) {
	metrics.ObserveRace(outcome, entries)
	o.logger.Debug("race finished", zap.String("outcome", outcome), zap.Int("entries", entries))
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func shuffle(endpoints []string) {
	rand.Shuffle(len(endpoints), func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
	})
}
