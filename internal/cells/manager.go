// Package cells tracks which conversation cells are live in this process
// and expires idle ones so their memory can be compacted.
package cells

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
)

var ErrNotFound = errors.New("cell not found")

type Cell struct {
	ID             string    `json:"cell_id"`
	Status         Status    `json:"status"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	cells             map[string]*Cell
	inactivityTimeout time.Duration
	onExpire          func(*Cell)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		cells:             make(map[string]*Cell),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook is called for each cell that goes idle, outside the lock.
func (m *Manager) SetExpireHook(hook func(*Cell)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Ensure returns the tracked cell, creating it on first use.
func (m *Manager) Ensure(cellID string) *Cell {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[cellID]
	if !ok {
		c = &Cell{
			ID:             cellID,
			Status:         StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		}
		m.cells[cellID] = c
	}
	if c.Status == StatusIdle {
		c.Status = StatusActive
	}
	return clone(c)
}

func (m *Manager) Get(cellID string) (*Cell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cells[cellID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

// Touch records activity on a cell, reviving it if it had gone idle.
func (m *Manager) Touch(cellID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[cellID]
	if !ok {
		return ErrNotFound
	}
	c.Status = StatusActive
	c.TurnCount++
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// End retires a cell immediately, firing the expire hook without waiting
// for the janitor.
func (m *Manager) End(cellID string) error {
	m.mu.Lock()
	c, ok := m.cells[cellID]
	var snapshot *Cell
	if ok {
		c.Status = StatusIdle
		snapshot = clone(c)
	}
	hook := m.onExpire
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if hook != nil {
		hook(snapshot)
	}
	return nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.cells {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Cell

	m.mu.Lock()
	for _, c := range m.cells {
		if c.Status != StatusActive {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusIdle
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Cell) *Cell {
	out := *c
	return &out
}
