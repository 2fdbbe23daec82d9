package client

import (
	"sort"
	"sync"
)

// subscriptionSet tracks the paths the client asked to be notified about.
// Membership changes optimistically at command-send time so admission checks
// succeed for self-originated traffic immediately; device confirmations are
// idempotent removals.
type subscriptionSet struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{paths: make(map[string]struct{})}
}

func (s *subscriptionSet) Add(path string) {
	s.mu.Lock()
	s.paths[path] = struct{}{}
	s.mu.Unlock()
}

func (s *subscriptionSet) Remove(path string) {
	s.mu.Lock()
	delete(s.paths, path)
	s.mu.Unlock()
}

func (s *subscriptionSet) Contains(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paths[path]
	return ok
}

func (s *subscriptionSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.paths))
	for p := range s.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
