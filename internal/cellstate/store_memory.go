package cellstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore holds cell states in process memory. Used in tests and when
// the service runs without any database.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (s *MemoryStore) Load(_ context.Context, cellID string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[cellID]
	if !ok {
		return State{}, ErrNotFound
	}
	return state.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, state State) error {
	state.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.CellID] = state.Clone()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
