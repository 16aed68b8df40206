package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateRequest carries the caller-supplied fields for a new task.
type CreateRequest struct {
	Title    string   `json:"title"`
	Executor Executor `json:"executor,omitempty"`
	Action   string   `json:"action,omitempty"`
	WhyHuman string   `json:"why_human,omitempty"`
	Draft    Draft    `json:"draft"`
}

// Queue exposes task CRUD scoped to one owning cell. An empty cellID makes
// the queue global.
type Queue struct {
	store  Store
	cellID string
}

func NewQueue(store Store, cellID string) *Queue {
	return &Queue{store: store, cellID: strings.TrimSpace(cellID)}
}

func (q *Queue) CellID() string { return q.cellID }

func (q *Queue) Create(ctx context.Context, req CreateRequest) (Task, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return Task{}, errors.New("title is required")
	}
	if req.Executor == "" {
		req.Executor = ExecutorAI
	}
	now := time.Now().UTC()
	task := Task{
		ID:        uuid.NewString(),
		CellID:    q.cellID,
		Title:     req.Title,
		Executor:  req.Executor,
		Status:    StatusPending,
		Action:    strings.TrimSpace(req.Action),
		WhyHuman:  strings.TrimSpace(req.WhyHuman),
		Draft:     req.Draft.Normalize(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.CreateTask(ctx, task); err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// BatchCreate inserts each request independently. Partial success is allowed:
// the returned slice holds every task that was persisted, and the error joins
// the per-item failures, if any.
func (q *Queue) BatchCreate(ctx context.Context, reqs []CreateRequest) ([]Task, error) {
	out := make([]Task, 0, len(reqs))
	var errs []error
	for i, req := range reqs {
		task, err := q.Create(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", i, err))
			continue
		}
		out = append(out, task)
	}
	return out, errors.Join(errs...)
}

func (q *Queue) Get(ctx context.Context, taskID string) (Task, error) {
	return q.store.GetTask(ctx, taskID)
}

// ListPending returns tasks still waiting for work (pending or in_progress),
// oldest first. An empty executor matches both.
func (q *Queue) ListPending(ctx context.Context, executor Executor) ([]Task, error) {
	return q.store.List(ctx, Filter{
		CellID:   q.cellID,
		Statuses: []Status{StatusPending, StatusInProgress},
		Executor: executor,
	})
}

func (q *Queue) ListAwaitingHuman(ctx context.Context) ([]Task, error) {
	return q.store.List(ctx, Filter{
		CellID:   q.cellID,
		Statuses: []Status{StatusAwaitingUserAction},
		Executor: ExecutorHuman,
	})
}

// Update replaces mutable task fields and bumps updated_at.
func (q *Queue) Update(ctx context.Context, task Task) (Task, error) {
	task.UpdatedAt = time.Now().UTC()
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

// SetStatus moves a task along a legal state-machine edge. Terminal targets
// go through the store's compare-and-set so a task is never resolved twice.
func (q *Queue) SetStatus(ctx context.Context, taskID string, status Status, result *Result) (Task, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if !ValidTransition(task.Status, status) {
		if task.Terminal() {
			return task, ErrAlreadyResolved
		}
		return Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, task.Status, status)
	}

	switch status {
	case StatusCompleted, StatusFailed, StatusSkipped:
		res := Result{}
		if result != nil {
			res = *result
		}
		return q.store.ResolveTask(ctx, taskID, status, res)
	}

	task.Status = status
	task.Result = result
	task.UpdatedAt = time.Now().UTC()
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (q *Queue) Skip(ctx context.Context, taskID, reason string) (Task, error) {
	return q.SetStatus(ctx, taskID, StatusSkipped, &Result{Reason: reason})
}

func (q *Queue) Complete(ctx context.Context, taskID string, result *Result) (Task, error) {
	return q.SetStatus(ctx, taskID, StatusCompleted, result)
}

func (q *Queue) Fail(ctx context.Context, taskID, errText string) (Task, error) {
	return q.SetStatus(ctx, taskID, StatusFailed, &Result{Error: errText})
}

// Pause suspends a non-terminal task, remembering the state to resume into.
func (q *Queue) Pause(ctx context.Context, taskID string) (Task, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Terminal() {
		return task, ErrAlreadyResolved
	}
	if task.Status == StatusPaused {
		return task, nil
	}
	task.PriorStatus = task.Status
	task.Status = StatusPaused
	return q.Update(ctx, task)
}

func (q *Queue) Resume(ctx context.Context, taskID string) (Task, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Status != StatusPaused {
		return Task{}, fmt.Errorf("%w: resume is only valid from paused", ErrInvalidStatus)
	}
	prior := task.PriorStatus
	if prior == "" {
		prior = StatusPending
	}
	task.Status = prior
	task.PriorStatus = ""
	return q.Update(ctx, task)
}

// BindNotification records where the task card was posted.
func (q *Queue) BindNotification(ctx context.Context, taskID string, binding Binding) (Task, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	task.Binding = &binding
	return q.Update(ctx, task)
}
