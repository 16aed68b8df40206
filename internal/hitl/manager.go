// Package hitl orchestrates human-in-the-loop task approval: it creates
// gated tasks, presents them on the approval channel, and parks callers on
// per-task waiters until a human decision (or a timeout) arrives.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/okvist/waypost/internal/agent"
	"github.com/okvist/waypost/internal/approval"
	"github.com/okvist/waypost/internal/cellstate"
	"github.com/okvist/waypost/internal/observability"
	"github.com/okvist/waypost/internal/tasks"
)

// ErrNoPendingWaiter means AwaitApproval was called for a task this process
// never armed (or one whose waiter was already consumed).
var ErrNoPendingWaiter = errors.New("no pending waiter for task")

// ExecutorFunc performs the approved side effect (post the tweet, send the
// email). A returned error flips the task to failed instead of completed.
type ExecutorFunc func(ctx context.Context, task tasks.Task) error

type Config struct {
	CellID         string
	MaxTurns       int
	DefaultTimeout time.Duration
	Executor       ExecutorFunc
}

// Manager is the central orchestrator. It owns the pending-waiter table:
// one buffered channel per task awaiting a human decision, resolved exactly
// once. No other component touches that table.
type Manager struct {
	queue    *tasks.Queue
	notifier *approval.Notifier
	states   cellstate.Store
	adapter  agent.Adapter
	executor ExecutorFunc
	metrics  *observability.Metrics

	cellID         string
	maxTurns       int
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan tasks.Result
}

func NewManager(
	queue *tasks.Queue,
	transport approval.Transport,
	states cellstate.Store,
	adapter agent.Adapter,
	metrics *observability.Metrics,
	cfg Config,
) *Manager {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Hour
	}
	m := &Manager{
		queue:          queue,
		states:         states,
		adapter:        adapter,
		executor:       cfg.Executor,
		metrics:        metrics,
		cellID:         cfg.CellID,
		maxTurns:       cfg.MaxTurns,
		defaultTimeout: cfg.DefaultTimeout,
		pending:        make(map[string]chan tasks.Result),
	}
	m.notifier = approval.NewNotifier(queue, transport, m, metrics)
	return m
}

// Start runs the approval channel event loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	return m.notifier.Run(ctx)
}

// CreateTask persists a human-gated task, presents its card and arms a
// waiter. A failed presentation leaves the task pending and arms nothing,
// so the caller can retry.
func (m *Manager) CreateTask(ctx context.Context, req tasks.CreateRequest) (tasks.Task, error) {
	req.Executor = tasks.ExecutorHuman
	task, err := m.queue.Create(ctx, req)
	if err != nil {
		return tasks.Task{}, err
	}
	if m.metrics != nil {
		m.metrics.TasksCreated.WithLabelValues(string(task.Draft.Type)).Inc()
	}

	if _, err := m.notifier.PresentTask(ctx, task.ID); err != nil {
		return tasks.Task{}, fmt.Errorf("present task %s: %w", task.ID, err)
	}
	m.armWaiter(task.ID)

	// Presentation bound a notification and moved the task to
	// awaiting_user_action; return that row, not the pre-present snapshot.
	task, err = m.queue.Get(ctx, task.ID)
	if err != nil {
		return tasks.Task{}, err
	}
	return task, nil
}

// AwaitApproval blocks until the task's waiter is resolved, the timeout
// elapses, or ctx is cancelled. A zero timeout uses the configured default.
// On timeout the task is skipped with reason "Timeout"; a human decision
// racing in just before the skip wins and is returned instead.
func (m *Manager) AwaitApproval(ctx context.Context, taskID string, timeout time.Duration) (tasks.Result, error) {
	m.mu.Lock()
	ch, ok := m.pending[taskID]
	m.mu.Unlock()
	if !ok {
		return tasks.Result{}, fmt.Errorf("%w: %s", ErrNoPendingWaiter, taskID)
	}

	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		m.dropWaiter(taskID)
		return res, nil
	case <-timer.C:
		m.dropWaiter(taskID)
		// A decision may have slipped in between the timer firing and the
		// waiter being dropped.
		select {
		case res := <-ch:
			return res, nil
		default:
		}
		if _, err := m.queue.Skip(ctx, taskID, "Timeout"); err != nil && !errors.Is(err, tasks.ErrAlreadyResolved) {
			log.Printf("hitl: skip timed-out task %s: %v", taskID, err)
		}
		if m.metrics != nil {
			m.metrics.TaskDecisions.WithLabelValues(tasks.ActionTimeout).Inc()
		}
		return tasks.Result{UserAction: tasks.ActionTimeout}, nil
	case <-ctx.Done():
		m.dropWaiter(taskID)
		return tasks.Result{}, ctx.Err()
	}
}

// PostSocialHITL drafts a social post, presents it for approval and blocks
// until the human decides.
func (m *Manager) PostSocialHITL(ctx context.Context, platform, message string) (tasks.Result, error) {
	task, err := m.CreateTask(ctx, tasks.CreateRequest{
		Title:    "Post to " + strings.ToUpper(platform),
		Action:   "post_social",
		WhyHuman: "Review before publishing",
		Draft: tasks.Draft{
			Type:   tasks.DraftSocial,
			Social: &tasks.SocialDraft{Platform: platform, Message: message},
		},
	})
	if err != nil {
		return tasks.Result{}, err
	}
	return m.AwaitApproval(ctx, task.ID, 0)
}

// SendEmailHITL drafts an email, presents it for approval and blocks until
// the human decides.
func (m *Manager) SendEmailHITL(ctx context.Context, to []string, subject, body string) (tasks.Result, error) {
	task, err := m.CreateTask(ctx, tasks.CreateRequest{
		Title:    "Send email",
		Action:   "send_email",
		WhyHuman: "Requires approval before sending",
		Draft: tasks.Draft{
			Type:  tasks.DraftEmail,
			Email: &tasks.EmailDraft{To: to, Subject: subject, Body: body},
		},
	})
	if err != nil {
		return tasks.Result{}, err
	}
	return m.AwaitApproval(ctx, task.ID, 0)
}

// Run handles one conversational turn: append it to cell state, get the
// agent's reply, append that too, persist, and compress once the raw-turn
// buffer hits its cap. Compression failures are logged, never surfaced.
func (m *Manager) Run(ctx context.Context, input string, onDelta agent.DeltaHandler) (string, error) {
	state, err := cellstate.LoadOrNew(ctx, m.states, m.cellID)
	if err != nil {
		return "", err
	}
	state.MaxTurns = m.maxTurns
	if state.MaxTurns <= 0 {
		state.MaxTurns = cellstate.DefaultMaxTurns
	}
	state.AddTurn("user", input)

	res, err := m.adapter.StreamResponse(ctx, agent.Request{
		CellID:       m.cellID,
		InputText:    input,
		StateContext: state.Render(),
	}, onDelta)
	if err != nil {
		return "", fmt.Errorf("agent response: %w", err)
	}

	state.AddTurn("assistant", res.Text)
	if err := m.states.Save(ctx, state); err != nil {
		return "", err
	}

	if len(state.RecentTurns) >= state.MaxTurns {
		m.compress(ctx, &state)
	}
	return res.Text, nil
}

// Sleep compresses the cell state out of band and announces it on the
// channel.
func (m *Manager) Sleep(ctx context.Context) error {
	state, err := cellstate.LoadOrNew(ctx, m.states, m.cellID)
	if err != nil {
		return err
	}
	state.MaxTurns = m.maxTurns
	m.compress(ctx, &state)
	if err := m.notifier.Notify(ctx, "😴 Sleeping — memory compressed."); err != nil {
		log.Printf("hitl: sleep notice: %v", err)
	}
	return nil
}

func (m *Manager) compress(ctx context.Context, state *cellstate.State) {
	merged, err := cellstate.Compress(ctx, state, m.summarize)
	outcome := "skipped"
	switch {
	case err != nil:
		outcome = "failed"
		log.Printf("hitl: compress cell %s: %v", state.CellID, err)
	case merged:
		outcome = "merged"
		if err := m.states.Save(ctx, *state); err != nil {
			log.Printf("hitl: save compressed cell %s: %v", state.CellID, err)
		}
	}
	if m.metrics != nil {
		m.metrics.CompressionRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) summarize(ctx context.Context, prompt string) (string, error) {
	return agent.Complete(ctx, m.adapter, agent.Request{CellID: m.cellID, InputText: prompt})
}

// ResumePending re-arms waiters for tasks left awaiting_user_action by a
// previous process. Their original callers are gone, but re-armed waiters
// let inbound decisions resolve cleanly and keep the gauge honest.
func (m *Manager) ResumePending(ctx context.Context) (int, error) {
	waiting, err := m.queue.ListAwaitingHuman(ctx)
	if err != nil {
		return 0, err
	}
	armed := 0
	m.mu.Lock()
	for _, task := range waiting {
		if _, ok := m.pending[task.ID]; ok {
			continue
		}
		m.pending[task.ID] = make(chan tasks.Result, 1)
		armed++
	}
	m.mu.Unlock()
	if m.metrics != nil && armed > 0 {
		m.metrics.PendingWaiters.Add(float64(armed))
	}
	return armed, nil
}

func (m *Manager) GetTask(ctx context.Context, taskID string) (tasks.Task, error) {
	return m.queue.Get(ctx, taskID)
}

func (m *Manager) ListAwaitingHuman(ctx context.Context) ([]tasks.Task, error) {
	return m.queue.ListAwaitingHuman(ctx)
}

// OnApprove runs the post-approval side effect. The store has already
// marked the task completed; an executor failure flips it to failed so the
// record reflects what actually happened.
func (m *Manager) OnApprove(ctx context.Context, task tasks.Task) {
	result := tasks.Result{UserAction: tasks.ActionApproved}
	if m.executor != nil {
		if err := m.executor(ctx, task); err != nil {
			log.Printf("hitl: executor for task %s: %v", task.ID, err)
			result.Error = err.Error()
			task.Status = tasks.StatusFailed
			task.Result = &tasks.Result{UserAction: tasks.ActionApproved, Error: err.Error()}
			if _, uerr := m.queue.Update(ctx, task); uerr != nil {
				log.Printf("hitl: mark task %s failed: %v", task.ID, uerr)
			}
		}
	}
	m.resolve(task.ID, result)
}

func (m *Manager) OnEdit(ctx context.Context, task tasks.Task, newContent string) {
	m.resolve(task.ID, tasks.Result{UserAction: tasks.ActionEdited, NewContent: newContent})
}

func (m *Manager) OnCancel(ctx context.Context, task tasks.Task) {
	m.resolve(task.ID, tasks.Result{UserAction: tasks.ActionCancelled})
}

func (m *Manager) armWaiter(taskID string) {
	m.mu.Lock()
	m.pending[taskID] = make(chan tasks.Result, 1)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.PendingWaiters.Inc()
	}
}

func (m *Manager) dropWaiter(taskID string) {
	m.mu.Lock()
	_, ok := m.pending[taskID]
	delete(m.pending, taskID)
	m.mu.Unlock()
	if ok && m.metrics != nil {
		m.metrics.PendingWaiters.Dec()
	}
}

// resolve delivers a result to the armed waiter, exactly once. The entry
// stays in the table so a caller that awaits after the decision landed
// still receives it; only AwaitApproval removes entries. Resolving an
// absent or already-resolved waiter is a silent no-op.
func (m *Manager) resolve(taskID string, result tasks.Result) {
	m.mu.Lock()
	ch, ok := m.pending[taskID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}
