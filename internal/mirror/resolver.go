// Package mirror resolves the candidate mirror base URLs for a collection cycle.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultDirectoryTTL is how long a fetched directory is reused.
const DefaultDirectoryTTL = 10 * time.Minute

const directoryKey = "directory"

// ErrEmptyDirectory is returned when a directory lists no usable mirrors.
var ErrEmptyDirectory = errors.New("mirror directory lists no mirrors")

// Config controls the Resolver.
type Config struct {
	// Static mirrors are always offered.
	Static []string
	// DirectoryURL, when set, is fetched for more mirrors. It may serve JSON
	// ({"mirrors": [...]}) or HTML with <a class="mirror"> links.
	DirectoryURL string
	DirectoryTTL time.Duration
	UserAgent    string
	Timeout      time.Duration
}

// Resolver implements harvest.MirrorResolver.
type Resolver struct {
	cfg    Config
	cache  *cache.Cache
	logger *zap.Logger
}

// New builds a Resolver.
func New(cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DirectoryTTL <= 0 {
		cfg.DirectoryTTL = DefaultDirectoryTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Resolver{
		cfg:    cfg,
		cache:  cache.New(cfg.DirectoryTTL, 2*cfg.DirectoryTTL),
		logger: logger.Named("mirror"),
	}
}

// Resolve returns the static mirrors followed by the directory's, normalized and
// without duplicates. A failing directory is logged and skipped while static
// mirrors exist; otherwise its error is returned.
func (r *Resolver) Resolve(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(r.cfg.Static))
	seen := make(map[string]struct{})
	add := func(raw string) {
		u, ok := normalize(raw)
		if !ok {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, m := range r.cfg.Static {
		add(m)
	}

	if r.cfg.DirectoryURL == "" {
		return out, nil
	}
	listed, err := r.directory(ctx)
	if err != nil {
		if len(out) == 0 || ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("mirror directory unavailable; using static mirrors",
			zap.String("directory", r.cfg.DirectoryURL),
			zap.Int("static", len(out)),
			zap.Error(err),
		)
		return out, nil
	}
	for _, m := range listed {
		add(m)
	}
	return out, nil
}

// Invalidate drops the cached directory.
func (r *Resolver) Invalidate() {
	r.cache.Delete(directoryKey)
}

func (r *Resolver) directory(ctx context.Context) ([]string, error) {
	if cached, ok := r.cache.Get(directoryKey); ok {
		if mirrors, ok := cached.([]string); ok {
			return mirrors, nil
		}
	}
	mirrors, err := r.fetchDirectory(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.Set(directoryKey, mirrors, cache.DefaultExpiration)
	r.logger.Debug("mirror directory refreshed", zap.Int("mirrors", len(mirrors)))
	return mirrors, nil
}

type directoryDoc struct {
	Mirrors []string `json:"mirrors"`
}

func (r *Resolver) fetchDirectory(ctx context.Context) ([]string, error) {
	c := colly.NewCollector(colly.AllowURLRevisit(), colly.StdlibContext(ctx))
	if r.cfg.UserAgent != "" {
		c.UserAgent = r.cfg.UserAgent
	}
	c.SetRequestTimeout(r.cfg.Timeout)

	var (
		mirrors  []string
		fetchErr error
	)
	c.OnResponse(func(resp *colly.Response) {
		if !strings.Contains(resp.Headers.Get("Content-Type"), "json") {
			return
		}
		var doc directoryDoc
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			fetchErr = fmt.Errorf("decode directory: %w", err)
			return
		}
		mirrors = append(mirrors, doc.Mirrors...)
	})
	c.OnHTML("a.mirror[href]", func(e *colly.HTMLElement) {
		mirrors = append(mirrors, e.Request.AbsoluteURL(e.Attr("href")))
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(r.cfg.DirectoryURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch mirror directory: %w", ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch mirror directory: %w", ctxErr)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch mirror directory: %w", err)
		}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch mirror directory: %w", fetchErr)
	}
	if len(mirrors) == 0 {
		return nil, ErrEmptyDirectory
	}
	return mirrors, nil
}

// normalize accepts absolute http(s) URLs and strips trailing slashes.
func normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return strings.TrimRight(raw, "/"), true
}
