package activator

import (
	"context"
	"sync"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// Call captures one Activate invocation.
type Call struct {
	Account string
	Entry   harvest.DiscoveredEntry
}

// Memory records activations and answers from a scripted table. Unscripted
// identifiers are accepted.
type Memory struct {
	mu      sync.RWMutex
	calls   []Call
	results map[harvest.Key]Result
	errs    map[harvest.Key]error
}

// NewMemory returns an empty Memory activator.
func NewMemory() *Memory {
	return &Memory{
		results: make(map[harvest.Key]Result),
		errs:    make(map[harvest.Key]error),
	}
}

// Script sets the result returned for id.
func (m *Memory) Script(id harvest.GameIdentifier, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[id.Key()] = result
}

// Fail makes activations of id return err.
func (m *Memory) Fail(id harvest.GameIdentifier, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[id.Key()] = err
}

// Activate records the call and returns the scripted result.
func (m *Memory) Activate(_ context.Context, account string, entry harvest.DiscoveredEntry) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Account: account, Entry: entry})
	key := entry.Identifier.Key()
	if err, ok := m.errs[key]; ok {
		return Retry, err
	}
	if r, ok := m.results[key]; ok {
		return r, nil
	}
	return Accepted, nil
}

// Calls returns a copy of the recorded calls.
func (m *Memory) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
