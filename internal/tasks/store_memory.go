package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps tasks in process memory. It backs tests and store-less
// development runs; durable deployments use the Postgres or SQLite store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) CreateTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) ResolveTask(_ context.Context, taskID string, status Status, result Result) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Terminal() {
		return Task{}, ErrAlreadyResolved
	}
	task.Status = status
	task.Result = &result
	task.UpdatedAt = time.Now().UTC()
	s.tasks[taskID] = task
	return task.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if !matches(task, f) {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func matches(task Task, f Filter) bool {
	if f.CellID != "" && task.CellID != f.CellID {
		return false
	}
	if f.Executor != "" && task.Executor != f.Executor {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if task.Status == st {
			return true
		}
	}
	return false
}
