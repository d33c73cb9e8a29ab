package harvest

import (
	"context"
	"net/http"
	"time"
)

// StreamFetcher issues streaming HTTP GETs. Implementations own transport setup.
type StreamFetcher interface {
	GetStream(ctx context.Context, url string, headers http.Header) (*StreamResponse, error)
}

// PageParser extracts identifier matches from a fetched page.
type PageParser interface {
	Parse(text string) ([]RawMatch, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// MirrorResolver supplies candidate mirror base URLs for one cycle.
type MirrorResolver interface {
	Resolve(ctx context.Context) ([]string, error)
}
