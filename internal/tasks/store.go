package tasks

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyResolved = errors.New("task already resolved")
	ErrInvalidStatus   = errors.New("invalid status transition")
	// ErrStoreUnavailable wraps backing-store failures so callers can tell
	// durable-write problems apart from domain errors.
	ErrStoreUnavailable = errors.New("task store unavailable")
)

// Filter narrows List queries. A zero field means "any".
type Filter struct {
	CellID   string
	Statuses []Status
	Executor Executor
}

// Store is the durable source of truth for tasks. Implementations persist
// every mutation before returning; in-memory state is never authoritative.
type Store interface {
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	// UpdateTask replaces the full row. Last writer wins for non-terminal rows.
	UpdateTask(ctx context.Context, task Task) error
	// ResolveTask moves a task into a terminal status with a compare-and-set
	// guard: if the row is already terminal it returns ErrAlreadyResolved and
	// leaves result untouched.
	ResolveTask(ctx context.Context, taskID string, status Status, result Result) (Task, error)
	// List returns matching tasks ordered by created_at ascending.
	List(ctx context.Context, f Filter) ([]Task, error)
	Close() error
}
