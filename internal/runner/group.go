package runner

import (
	"strings"
	"sync"
)

// groupSemaphore bounds concurrent runs across the jobs sharing a group.
// Tokens are pre-filled up to limit.
type groupSemaphore struct {
	limit int
	ch    chan struct{}
}

func newGroupSemaphore(limit int) *groupSemaphore {
	if limit <= 0 {
		limit = 1
	}
	gs := &groupSemaphore{limit: limit, ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		gs.ch <- struct{}{}
	}
	return gs
}

func (g *groupSemaphore) tryAcquire() bool {
	if g == nil {
		return true
	}
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

func (g *groupSemaphore) release() {
	if g == nil {
		return
	}
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// groupStore holds one semaphore per group name. Asking for a group with a
// different limit swaps in a fresh semaphore; runs holding a token of the
// old one release into it and are otherwise forgotten.
type groupStore struct {
	mu     sync.Mutex
	groups map[string]*groupSemaphore
}

func (s *groupStore) get(key string, limit int) *groupSemaphore {
	k := strings.TrimSpace(key)
	if s == nil || k == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups == nil {
		s.groups = make(map[string]*groupSemaphore)
	}
	if limit <= 0 {
		limit = 1
	}
	gs := s.groups[k]
	if gs == nil || gs.limit != limit {
		gs = newGroupSemaphore(limit)
		s.groups[k] = gs
	}
	return gs
}

// prune drops groups no registered job references.
func (s *groupStore) prune(inUse map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.groups {
		if !inUse[k] {
			delete(s.groups, k)
		}
	}
}
