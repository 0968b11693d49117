package tracker

import "sync"

// runState guards against overlapping runs for the same chain. tryStart is a
// compare-and-set: it returns false while a run for the chain is in flight.
// Kept as an injected value rather than a package global so tests get a fresh
// table.
type runState struct {
	mu   sync.Mutex
	busy map[string]bool
}

func newRunState() *runState {
	return &runState{busy: make(map[string]bool)}
}

func (s *runState) tryStart(chainID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[chainID] {
		return false
	}
	s.busy[chainID] = true
	return true
}

func (s *runState) finish(chainID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, chainID)
}
