package approval

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/okvist/waypost/internal/tasks"
)

type mockTransport struct {
	mu      sync.Mutex
	sendErr error
	cards   []Card
	edits   []string
	notices []string
}

func (m *mockTransport) Name() string { return "mock" }

func (m *mockTransport) SendCard(_ context.Context, card Card) (tasks.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tasks.Binding{}, m.sendErr
	}
	m.cards = append(m.cards, card)
	return tasks.Binding{
		Channel:    "mock",
		ChatRef:    "op",
		MessageRef: strconv.Itoa(len(m.cards)),
	}, nil
}

func (m *mockTransport) EditMessage(_ context.Context, _ tasks.Binding, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, text)
	return nil
}

func (m *mockTransport) Notify(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
	return nil
}

func (m *mockTransport) Run(ctx context.Context, _ chan<- Event) error {
	<-ctx.Done()
	return nil
}

type recordingCallbacks struct {
	mu        sync.Mutex
	approved  []string
	cancelled []string
	edited    []string
}

func (r *recordingCallbacks) OnApprove(_ context.Context, task tasks.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approved = append(r.approved, task.ID)
}

func (r *recordingCallbacks) OnEdit(_ context.Context, task tasks.Task, newContent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edited = append(r.edited, newContent)
}

func (r *recordingCallbacks) OnCancel(_ context.Context, task tasks.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, task.ID)
}

func newNotifierFixture(t *testing.T) (*Notifier, *tasks.Queue, *mockTransport, *recordingCallbacks) {
	t.Helper()
	queue := tasks.NewQueue(tasks.NewMemoryStore(), "cell-1")
	transport := &mockTransport{}
	callbacks := &recordingCallbacks{}
	return NewNotifier(queue, transport, callbacks, nil), queue, transport, callbacks
}

func mustCreateHumanTask(t *testing.T, queue *tasks.Queue) tasks.Task {
	t.Helper()
	task, err := queue.Create(context.Background(), tasks.CreateRequest{
		Title:    "Post launch announcement",
		Executor: tasks.ExecutorHuman,
		WhyHuman: "Public post needs sign-off",
		Draft: tasks.Draft{
			Type:   tasks.DraftSocial,
			Social: &tasks.SocialDraft{Platform: "twitter", Message: "We are live!"},
		},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestPresentTaskPostsCardAndAwaitsAction(t *testing.T) {
	ctx := context.Background()
	notifier, queue, transport, _ := newNotifierFixture(t)
	task := mustCreateHumanTask(t, queue)

	binding, err := notifier.PresentTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("present failed: %v", err)
	}
	if binding.MessageRef == "" {
		t.Fatal("expected a message binding")
	}
	if len(transport.cards) != 1 || !strings.Contains(transport.cards[0].Text, task.Title) {
		t.Fatalf("unexpected cards: %+v", transport.cards)
	}

	got, err := queue.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != tasks.StatusAwaitingUserAction {
		t.Fatalf("expected awaiting_user_action, got %s", got.Status)
	}
	if got.Binding == nil || got.Binding.MessageRef != binding.MessageRef {
		t.Fatalf("binding not persisted: %+v", got.Binding)
	}
}

func TestPresentTaskSendFailureLeavesTaskPending(t *testing.T) {
	ctx := context.Background()
	notifier, queue, transport, _ := newNotifierFixture(t)
	transport.sendErr = errors.New("boom")
	task := mustCreateHumanTask(t, queue)

	_, err := notifier.PresentTask(ctx, task.ID)
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}

	got, _ := queue.Get(ctx, task.ID)
	if got.Status != tasks.StatusPending {
		t.Fatalf("expected pending after send failure, got %s", got.Status)
	}
}

func TestApproveCompletesTaskAndFiresCallback(t *testing.T) {
	ctx := context.Background()
	notifier, queue, transport, callbacks := newNotifierFixture(t)
	task := mustCreateHumanTask(t, queue)
	if _, err := notifier.PresentTask(ctx, task.ID); err != nil {
		t.Fatalf("present failed: %v", err)
	}

	notifier.HandleEvent(ctx, Event{Kind: KindDecision, Action: ActionApprove, TaskID: task.ID, ReplyRef: "op"})

	got, _ := queue.Get(ctx, task.ID)
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.UserAction != tasks.ActionApproved {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
	if len(callbacks.approved) != 1 || callbacks.approved[0] != task.ID {
		t.Fatalf("expected approve callback, got %+v", callbacks.approved)
	}
	if len(transport.edits) != 1 || !strings.Contains(transport.edits[0], "approved") {
		t.Fatalf("expected card update, got %+v", transport.edits)
	}
}

func TestSecondApproveNotifiesAlreadyResolved(t *testing.T) {
	ctx := context.Background()
	notifier, queue, transport, callbacks := newNotifierFixture(t)
	task := mustCreateHumanTask(t, queue)
	if _, err := notifier.PresentTask(ctx, task.ID); err != nil {
		t.Fatalf("present failed: %v", err)
	}

	ev := Event{Kind: KindDecision, Action: ActionApprove, TaskID: task.ID, ReplyRef: "op"}
	notifier.HandleEvent(ctx, ev)
	notifier.HandleEvent(ctx, ev)

	if len(callbacks.approved) != 1 {
		t.Fatalf("expected a single approve callback, got %d", len(callbacks.approved))
	}
	if len(transport.notices) != 1 || !strings.Contains(transport.notices[0], "already resolved") {
		t.Fatalf("expected already-resolved notice, got %+v", transport.notices)
	}
}

func TestCancelSkipsTask(t *testing.T) {
	ctx := context.Background()
	notifier, queue, _, callbacks := newNotifierFixture(t)
	task := mustCreateHumanTask(t, queue)
	if _, err := notifier.PresentTask(ctx, task.ID); err != nil {
		t.Fatalf("present failed: %v", err)
	}

	notifier.HandleEvent(ctx, Event{Kind: KindDecision, Action: ActionCancel, TaskID: task.ID, ReplyRef: "op"})

	got, _ := queue.Get(ctx, task.ID)
	if got.Status != tasks.StatusSkipped {
		t.Fatalf("expected skipped, got %s", got.Status)
	}
	if got.Result == nil || got.Result.UserAction != tasks.ActionCancelled || got.Result.Reason != "User cancelled" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
	if len(callbacks.cancelled) != 1 {
		t.Fatalf("expected cancel callback, got %+v", callbacks.cancelled)
	}
}

func TestEditFlowMergesContentAndRepresents(t *testing.T) {
	ctx := context.Background()
	notifier, queue, transport, callbacks := newNotifierFixture(t)
	task := mustCreateHumanTask(t, queue)
	if _, err := notifier.PresentTask(ctx, task.ID); err != nil {
		t.Fatalf("present failed: %v", err)
	}

	notifier.HandleEvent(ctx, Event{Kind: KindDecision, Action: ActionEdit, TaskID: task.ID, ReplyRef: "op"})
	if len(transport.edits) != 1 || !strings.Contains(transport.edits[0], "replacement text") {
		t.Fatalf("expected edit prompt, got %+v", transport.edits)
	}

	notifier.HandleEvent(ctx, Event{Kind: KindFreeText, ReplyRef: "op", Text: "We are live, finally!"})

	got, _ := queue.Get(ctx, task.ID)
	if got.Draft.Social == nil || got.Draft.Social.Message != "We are live, finally!" {
		t.Fatalf("draft not merged: %+v", got.Draft.Social)
	}
	if got.Status != tasks.StatusAwaitingUserAction {
		t.Fatalf("expected re-presented task to await action, got %s", got.Status)
	}
	if len(transport.cards) != 2 || !strings.Contains(transport.cards[1].Text, "We are live, finally!") {
		t.Fatalf("expected a fresh card with merged content, got %+v", transport.cards)
	}
	if len(callbacks.edited) != 1 || callbacks.edited[0] != "We are live, finally!" {
		t.Fatalf("expected edit callback, got %+v", callbacks.edited)
	}

	// A second free-text message is no longer in edit mode.
	notifier.HandleEvent(ctx, Event{Kind: KindFreeText, ReplyRef: "op", Text: "ignore me"})
	got, _ = queue.Get(ctx, task.ID)
	if got.Draft.Social.Message != "We are live, finally!" {
		t.Fatalf("draft changed outside edit mode: %+v", got.Draft.Social)
	}
}

func TestDecisionForUnknownTaskNotifies(t *testing.T) {
	ctx := context.Background()
	notifier, _, transport, _ := newNotifierFixture(t)

	notifier.HandleEvent(ctx, Event{Kind: KindDecision, Action: ActionApprove, TaskID: "nope", ReplyRef: "op"})

	if len(transport.notices) != 1 || !strings.Contains(transport.notices[0], "no longer exists") {
		t.Fatalf("expected not-found notice, got %+v", transport.notices)
	}
}

func TestFreeTextOutsideEditModeIgnored(t *testing.T) {
	ctx := context.Background()
	notifier, _, transport, callbacks := newNotifierFixture(t)

	notifier.HandleEvent(ctx, Event{Kind: KindFreeText, ReplyRef: "op", Text: "hello"})

	if len(transport.cards) != 0 || len(transport.notices) != 0 {
		t.Fatalf("expected no transport traffic, got cards=%d notices=%d", len(transport.cards), len(transport.notices))
	}
	if len(callbacks.edited) != 0 {
		t.Fatalf("expected no edit callback, got %+v", callbacks.edited)
	}
}
