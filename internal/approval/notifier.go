package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/okvist/waypost/internal/observability"
	"github.com/okvist/waypost/internal/tasks"
)

// Callbacks receive lifecycle hooks once a human decision has been persisted.
// Implementations must not block the event loop for long.
type Callbacks interface {
	OnApprove(ctx context.Context, task tasks.Task)
	OnEdit(ctx context.Context, task tasks.Task, newContent string)
	OnCancel(ctx context.Context, task tasks.Task)
}

// NopCallbacks satisfies Callbacks with no behavior.
type NopCallbacks struct{}

func (NopCallbacks) OnApprove(context.Context, tasks.Task)      {}
func (NopCallbacks) OnEdit(context.Context, tasks.Task, string) {}
func (NopCallbacks) OnCancel(context.Context, tasks.Task)       {}

// Notifier posts task cards through a Transport and applies the decisions
// that come back. Edit mode is tracked per reply reference: after an "edit"
// press, the next free-text message from that party replaces the draft body
// and the card is presented again.
type Notifier struct {
	queue     *tasks.Queue
	transport Transport
	callbacks Callbacks
	metrics   *observability.Metrics

	mu           sync.Mutex
	awaitingEdit map[string]string // reply ref -> task id
}

func NewNotifier(queue *tasks.Queue, transport Transport, callbacks Callbacks, metrics *observability.Metrics) *Notifier {
	if callbacks == nil {
		callbacks = NopCallbacks{}
	}
	return &Notifier{
		queue:        queue,
		transport:    transport,
		callbacks:    callbacks,
		metrics:      metrics,
		awaitingEdit: make(map[string]string),
	}
}

func (n *Notifier) TransportName() string { return n.transport.Name() }

// PresentTask renders the task card, posts it and moves the task to
// awaiting_user_action. On a send failure the task keeps its current status
// so it can be presented again later.
func (n *Notifier) PresentTask(ctx context.Context, taskID string) (tasks.Binding, error) {
	task, err := n.queue.Get(ctx, taskID)
	if err != nil {
		return tasks.Binding{}, err
	}
	if task.Terminal() {
		return tasks.Binding{}, tasks.ErrAlreadyResolved
	}

	binding, err := n.transport.SendCard(ctx, Card{
		TaskID:  task.ID,
		Text:    RenderCard(task),
		Actions: defaultActions,
	})
	if err != nil {
		if n.metrics != nil {
			n.metrics.ChannelSendErrors.WithLabelValues(n.transport.Name()).Inc()
		}
		return tasks.Binding{}, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	if _, err := n.queue.BindNotification(ctx, task.ID, binding); err != nil {
		return binding, err
	}
	if task.Status != tasks.StatusAwaitingUserAction {
		if _, err := n.queue.SetStatus(ctx, task.ID, tasks.StatusAwaitingUserAction, nil); err != nil {
			return binding, err
		}
	}
	return binding, nil
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	return n.transport.Notify(ctx, text)
}

// Run pumps transport events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	events := make(chan Event, 64)
	errc := make(chan error, 1)
	go func() { errc <- n.transport.Run(ctx, events) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case ev := <-events:
			n.HandleEvent(ctx, ev)
		}
	}
}

func (n *Notifier) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case KindDecision:
		n.handleDecision(ctx, ev)
	case KindFreeText:
		n.handleFreeText(ctx, ev)
	}
}

func (n *Notifier) handleDecision(ctx context.Context, ev Event) {
	task, err := n.queue.Get(ctx, ev.TaskID)
	if errors.Is(err, tasks.ErrNotFound) {
		n.notify(ctx, "⚠️ That task no longer exists.")
		return
	}
	if err != nil {
		log.Printf("approval: load task %s: %v", ev.TaskID, err)
		return
	}

	switch ev.Action {
	case ActionApprove:
		resolved, err := n.queue.Complete(ctx, task.ID, &tasks.Result{UserAction: tasks.ActionApproved})
		if errors.Is(err, tasks.ErrAlreadyResolved) {
			n.notify(ctx, "⚠️ Task was already resolved.")
			return
		}
		if err != nil {
			log.Printf("approval: complete task %s: %v", task.ID, err)
			return
		}
		n.recordDecision(tasks.ActionApproved, task)
		n.updateCard(ctx, task, "✅ "+task.Title+" — approved")
		n.callbacks.OnApprove(ctx, resolved)

	case ActionCancel:
		resolved, err := n.queue.SetStatus(ctx, task.ID, tasks.StatusSkipped, &tasks.Result{
			UserAction: tasks.ActionCancelled,
			Reason:     "User cancelled",
		})
		if errors.Is(err, tasks.ErrAlreadyResolved) {
			n.notify(ctx, "⚠️ Task was already resolved.")
			return
		}
		if err != nil {
			log.Printf("approval: cancel task %s: %v", task.ID, err)
			return
		}
		n.recordDecision(tasks.ActionCancelled, task)
		n.updateCard(ctx, task, "❌ "+task.Title+" — cancelled")
		n.callbacks.OnCancel(ctx, resolved)

	case ActionEdit:
		if task.Terminal() {
			n.notify(ctx, "⚠️ Task was already resolved.")
			return
		}
		n.mu.Lock()
		n.awaitingEdit[ev.ReplyRef] = task.ID
		n.mu.Unlock()
		n.updateCard(ctx, task, "✏️ "+task.Title+"\n\nSend the replacement text as your next message.")
	}
}

func (n *Notifier) handleFreeText(ctx context.Context, ev Event) {
	n.mu.Lock()
	taskID, ok := n.awaitingEdit[ev.ReplyRef]
	if ok {
		delete(n.awaitingEdit, ev.ReplyRef)
	}
	n.mu.Unlock()
	if !ok {
		// Free text outside edit mode is not ours to handle.
		return
	}

	task, err := n.queue.Get(ctx, taskID)
	if errors.Is(err, tasks.ErrNotFound) {
		n.notify(ctx, "⚠️ That task no longer exists.")
		return
	}
	if err != nil {
		log.Printf("approval: load task %s: %v", taskID, err)
		return
	}
	if task.Terminal() {
		n.notify(ctx, "⚠️ Task was already resolved.")
		return
	}

	task.Draft = task.Draft.MergeContent(ev.Text)
	task.Status = tasks.StatusInProgress
	task.Result = &tasks.Result{UserAction: tasks.ActionEdited, NewContent: ev.Text}
	updated, err := n.queue.Update(ctx, task)
	if err != nil {
		log.Printf("approval: apply edit to task %s: %v", task.ID, err)
		return
	}
	n.recordDecision(tasks.ActionEdited, updated)
	n.callbacks.OnEdit(ctx, updated, ev.Text)

	// Present the revised draft for another round of review.
	if _, err := n.PresentTask(ctx, updated.ID); err != nil {
		log.Printf("approval: re-present task %s: %v", updated.ID, err)
	}
}

func (n *Notifier) recordDecision(action string, task tasks.Task) {
	if n.metrics == nil {
		return
	}
	n.metrics.TaskDecisions.WithLabelValues(action).Inc()
	// UpdatedAt was last bumped when the card went out.
	n.metrics.ObserveApprovalWait(time.Since(task.UpdatedAt))
}

func (n *Notifier) updateCard(ctx context.Context, task tasks.Task, text string) {
	if task.Binding == nil {
		return
	}
	if err := n.transport.EditMessage(ctx, *task.Binding, text); err != nil {
		log.Printf("approval: edit card for task %s: %v", task.ID, err)
	}
}

func (n *Notifier) notify(ctx context.Context, text string) {
	if err := n.transport.Notify(ctx, text); err != nil {
		log.Printf("approval: notify: %v", err)
	}
}
