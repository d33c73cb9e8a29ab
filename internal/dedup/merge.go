package dedup

import (
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// DefaultCapacity bounds the merged list of one page.
const DefaultCapacity = 256

// Default classification markers, matched case-insensitively against match context.
var (
	DefaultFreeToPlayMarkers = []string{"permanently free", "free to play", "free-to-play"}
	DefaultDLCMarkers        = []string{"free dlc"}
)

// Config controls the merge pass.
type Config struct {
	Capacity          int
	FreeToPlayMarkers []string
	DLCMarkers        []string
}

// Merger converts raw matches into a bounded, deduplicated entry list.
type Merger struct {
	capacity   int
	f2pMarkers []string
	dlcMarkers []string
	logger     *zap.Logger
}

// NewMerger builds a Merger, filling unset config values with defaults.
func NewMerger(cfg Config, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.FreeToPlayMarkers == nil {
		cfg.FreeToPlayMarkers = DefaultFreeToPlayMarkers
	}
	if cfg.DLCMarkers == nil {
		cfg.DLCMarkers = DefaultDLCMarkers
	}
	return &Merger{
		capacity:   cfg.Capacity,
		f2pMarkers: lowerAll(cfg.FreeToPlayMarkers),
		dlcMarkers: lowerAll(cfg.DLCMarkers),
		logger:     logger,
	}
}

// Capacity returns the maximum number of merged entries.
func (m *Merger) Capacity() int {
	return m.capacity
}

// Candidate is a raw match whose timestamp has already been resolved.
type Candidate struct {
	Match       harvest.RawMatch
	TimestampMs float64
}

// Merge folds candidates into an ordered list, newest insertion first.
// Duplicates keep the larger timestamp; the list never exceeds the capacity and
// each overflowing insertion evicts exactly one entry from the tail.
func (m *Merger) Merge(candidates []Candidate) []harvest.DiscoveredEntry {
	filter := NewFilter()
	out := make([]harvest.DiscoveredEntry, 0, min(len(candidates), m.capacity))

	for _, c := range candidates {
		if !harvest.ValidTimestamp(c.TimestampMs) {
			continue
		}
		id, err := c.Match.ParseID()
		if err != nil {
			m.logger.Debug("skipping unparsable identifier", zap.String("id_text", c.Match.IDText))
			continue
		}
		if !c.Match.KindHint.Valid() {
			m.logger.Debug("skipping match without kind", zap.String("id_text", c.Match.IDText))
			continue
		}
		entry := harvest.DiscoveredEntry{
			Identifier: harvest.GameIdentifier{Kind: c.Match.KindHint, ID: id, Valid: true},
			Flags:      m.Classify(c.Match.Context),
			ObservedMs: c.TimestampMs,
		}
		key := entry.Identifier.Key()

		if filter.MayContain(key) {
			if idx := indexOf(out, key); idx >= 0 {
				if entry.ObservedMs > out[idx].ObservedMs {
					out[idx] = entry
				}
				continue
			}
		}

		out = insertHead(out, entry, m.capacity)
		filter.Add(key)
	}
	return out
}

// Classify derives entry flags from surrounding text. A DLC marker replaces
// the free-to-play flag rather than adding to it.
func (m *Merger) Classify(context string) harvest.EntryFlags {
	text := strings.ToLower(context)
	flags := harvest.FlagNone
	if containsAny(text, m.f2pMarkers) {
		flags = harvest.FlagFreeToPlay
	}
	if containsAny(text, m.dlcMarkers) {
		flags = harvest.FlagDLC
	}
	return flags
}

func insertHead(list []harvest.DiscoveredEntry, entry harvest.DiscoveredEntry, capacity int) []harvest.DiscoveredEntry {
	if len(list) >= capacity {
		list = list[:capacity-1]
	}
	list = append(list, harvest.DiscoveredEntry{})
	copy(list[1:], list[:len(list)-1])
	list[0] = entry
	return list
}

func indexOf(list []harvest.DiscoveredEntry, key harvest.Key) int {
	for i := range list {
		if list[i].Identifier.Key() == key {
			return i
		}
	}
	return -1
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
