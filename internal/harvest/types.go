// Package harvest defines the core types shared across the discovery pipeline.
package harvest

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Kind distinguishes store applications from packages (subscriptions).
type Kind uint8

// Identifier kinds. The numeric values are persisted by the dedup store.
const (
	KindApp     Kind = 1
	KindPackage Kind = 2
)

// String returns the short prefix used in logs and storefront commands.
func (k Kind) String() string {
	switch k {
	case KindApp:
		return "app"
	case KindPackage:
		return "sub"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindApp || k == KindPackage
}

// Key is the comparable identity of a GameIdentifier.
type Key struct {
	Kind Kind
	ID   uint32
}

// GameIdentifier names one storefront item. Equality is on Kind and ID only.
type GameIdentifier struct {
	Kind  Kind   `json:"kind"`
	ID    uint32 `json:"id"`
	Valid bool   `json:"valid"`
}

// Key returns the identity used for equality and hashing.
func (g GameIdentifier) Key() Key {
	return Key{Kind: g.Kind, ID: g.ID}
}

// Equal reports whether both identifiers refer to the same item.
func (g GameIdentifier) Equal(other GameIdentifier) bool {
	return g.Key() == other.Key()
}

func (g GameIdentifier) String() string {
	return g.Kind.String() + "/" + strconv.FormatUint(uint64(g.ID), 10)
}

// EntryFlags classifies an announcement.
type EntryFlags uint8

// Entry flags. DLC takes precedence over free-to-play.
const (
	FlagNone       EntryFlags = 0
	FlagFreeToPlay EntryFlags = 1
	FlagDLC        EntryFlags = 2
)

func (f EntryFlags) String() string {
	switch f {
	case FlagFreeToPlay:
		return "free_to_play"
	case FlagDLC:
		return "dlc"
	default:
		return "none"
	}
}

// DiscoveredEntry is one identifier observed in a feed page.
type DiscoveredEntry struct {
	Identifier GameIdentifier `json:"identifier"`
	Flags      EntryFlags     `json:"flags"`
	ObservedMs float64        `json:"observed_ms"`
}

// ObservedAt converts the epoch-millisecond timestamp to a time.Time.
func (e DiscoveredEntry) ObservedAt() time.Time {
	return time.UnixMilli(int64(e.ObservedMs)).UTC()
}

// ValidTimestamp reports whether ms is finite and strictly positive.
func ValidTimestamp(ms float64) bool {
	return !math.IsNaN(ms) && !math.IsInf(ms, 0) && ms > 0
}

// TimeToMs converts t to epoch milliseconds.
func TimeToMs(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// RawMatch is one identifier occurrence produced by a PageParser.
type RawMatch struct {
	// IDText is the base-10 numeric identifier as it appeared on the page.
	IDText   string
	KindHint Kind
	// Context is the surrounding text used to classify the entry.
	Context string
	// TimestampMs is nil when the page carried no timestamp for the match.
	TimestampMs *float64
}

// ParseID converts IDText into a uint32 identifier.
func (m RawMatch) ParseID() (uint32, error) {
	id, err := strconv.ParseUint(m.IDText, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse identifier %q: %w", m.IDText, err)
	}
	return uint32(id), nil
}

// StreamResponse is the result of a streaming GET.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	// Body may be nil when the transport produced no readable stream.
	Body io.ReadCloser
}
