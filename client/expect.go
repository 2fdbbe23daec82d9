package client

import (
	"sync"
	"time"
)

// expectWindow is the validity interval after an outbound request during
// which an unsolicited-looking response for the same path is still accepted
// as solicited. It bridges the gap between "I requested this" and "the path
// is not in my subscription set" without requiring a full subscription for a
// single on-demand read.
const expectWindow = 3 * time.Second

type expectTable struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	window time.Duration
}

func newExpectTable(window time.Duration) *expectTable {
	if window <= 0 {
		window = expectWindow
	}
	return &expectTable{expiry: make(map[string]time.Time), window: window}
}

// Note opens (or refreshes) the window for path: the most recent request
// wins.
func (t *expectTable) Note(path string, now time.Time) {
	t.mu.Lock()
	t.expiry[path] = now.Add(t.window)
	t.mu.Unlock()
}

// IsLive reports whether an entry exists with expiry strictly after now.
// Expired entries are lazily evicted; no background sweep runs.
func (t *expectTable) IsLive(path string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry, ok := t.expiry[path]
	if !ok {
		return false
	}
	if !expiry.After(now) {
		delete(t.expiry, path)
		return false
	}
	return true
}

// Clear removes the entry unconditionally. Used on confirmed unsubscribe and
// when a matching response consumes its window.
func (t *expectTable) Clear(path string) {
	t.mu.Lock()
	delete(t.expiry, path)
	t.mu.Unlock()
}
