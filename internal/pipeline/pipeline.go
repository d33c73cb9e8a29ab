// Package pipeline fetches one mirror's feed page, retrying transient failures,
// and turns it into merged entries.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/freegame-watcher/internal/dedup"
	"github.com/JakeFAU/freegame-watcher/internal/harvest"
	"github.com/JakeFAU/freegame-watcher/internal/metrics"
)

// DefaultMaxBodyBytes caps how much of a feed page is read.
const DefaultMaxBodyBytes int64 = 4 << 20

// dateHeaderWindow bounds how far a response Date may drift from now and still be trusted.
const dateHeaderWindow = 24 * time.Hour

// Pacer delays requests per host. *ratelimit.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Pipeline behavior.
type Config struct {
	Retries      int
	BackoffBase  time.Duration
	MaxBodyBytes int64
	// FeedPath is appended to each mirror base URL.
	FeedPath string
	Headers  http.Header
}

// Pipeline runs fetch attempts against a single mirror.
type Pipeline struct {
	fetcher harvest.StreamFetcher
	parser  harvest.PageParser
	merger  *dedup.Merger
	clock   harvest.Clock
	pacer   Pacer
	retry   RetryPolicy
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// New constructs a Pipeline. pacer may be nil.
func New(
	fetcher harvest.StreamFetcher,
	parser harvest.PageParser,
	merger *dedup.Merger,
	clock harvest.Clock,
	pacer Pacer,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Pipeline{
		fetcher: fetcher,
		parser:  parser,
		merger:  merger,
		clock:   clock,
		pacer:   pacer,
		retry:   NewRetryPolicy(cfg.Retries, cfg.BackoffBase),
		cfg:     cfg,
		sleep:   sleepContext,
		logger:  logger.Named("pipeline"),
	}
}

// Run fetches endpoint until an attempt succeeds or the retry budget is spent.
// limiter bounds concurrent body reads and is held only for the duration of an attempt.
func (p *Pipeline) Run(ctx context.Context, endpoint string, limiter *semaphore.Weighted) ([]harvest.DiscoveredEntry, error) {
	url := FeedURL(endpoint, p.cfg.FeedPath)
	for attempt := 1; ; attempt++ {
		entries, err := p.attempt(ctx, url, limiter)
		if err == nil {
			metrics.ObserveMirrorAttempt("ok")
			p.logger.Debug("mirror attempt succeeded",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Int("entries", len(entries)),
			)
			return entries, nil
		}
		if ctx.Err() != nil {
			metrics.ObserveMirrorAttempt("cancelled")
			return nil, ctx.Err()
		}
		if !p.retry.ShouldRetry(err, attempt) {
			metrics.ObserveMirrorAttempt("failed")
			return nil, &harvest.SourceError{Endpoint: endpoint, Attempts: attempt, Err: err}
		}

		metrics.ObserveMirrorAttempt("retry")
		delay := p.retry.Backoff(attempt)
		p.logger.Debug("mirror attempt failed; backing off",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs one fetch. The limiter is released when it returns.
func (p *Pipeline) attempt(ctx context.Context, url string, limiter *semaphore.Weighted) ([]harvest.DiscoveredEntry, error) {
	if p.pacer != nil {
		if err := p.pacer.Wait(ctx, url); err != nil {
			return nil, err
		}
	}
	if limiter != nil {
		if err := limiter.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire read slot: %w", err)
		}
		defer limiter.Release(1)
	}

	resp, err := p.fetcher.GetStream(ctx, url, p.cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	if resp == nil || resp.Body == nil {
		return nil, harvest.ErrEmptyBody
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, harvest.ErrBadStatus)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %v: %w", err, harvest.ErrEmptyBody)
	}
	if len(body) == 0 {
		return nil, harvest.ErrEmptyBody
	}

	matches, err := p.parser.Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", harvest.ErrParsePage, err)
	}

	now := p.clock.Now()
	fallback, hasDate := responseDate(resp.Header, now)
	if !hasDate {
		fallback = now
	}
	candidates := make([]dedup.Candidate, 0, len(matches))
	for _, m := range matches {
		ts := harvest.TimeToMs(fallback)
		if m.TimestampMs != nil {
			ts = *m.TimestampMs
		}
		if !harvest.ValidTimestamp(ts) {
			continue
		}
		candidates = append(candidates, dedup.Candidate{Match: m, TimestampMs: ts})
	}
	return p.merger.Merge(candidates), nil
}

// responseDate returns the Date header when present, parseable, and within a day of now.
func responseDate(h http.Header, now time.Time) (time.Time, bool) {
	raw := h.Get("Date")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	if d := now.Sub(t); d > dateHeaderWindow || d < -dateHeaderWindow {
		return time.Time{}, false
	}
	return t, true
}

// FeedURL joins a mirror base URL and a feed path with exactly one slash.
func FeedURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}
