// Package httpstream implements harvest.StreamFetcher over net/http.
package httpstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// Config controls transport construction.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxConnsPerHost int
}

// Fetcher issues streaming GETs. The caller closes the returned body.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher with its own pooled transport.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: newHTTPTransport(cfg.MaxConnsPerHost),
			Timeout:   cfg.Timeout,
		},
	}
}

// GetStream issues one GET. Headers from the call override the configured user agent.
func (f *Fetcher) GetStream(ctx context.Context, url string, headers http.Header) (*harvest.StreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	for key, values := range headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	return &harvest.StreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func newHTTPTransport(maxConnsPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
