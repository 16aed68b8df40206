package cellstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAddTurnEvictsOldestBeyondCap(t *testing.T) {
	state := NewState("cell-1")
	for i := 0; i < 25; i++ {
		state.AddTurn("user", fmt.Sprintf("turn %d", i))
	}

	if len(state.RecentTurns) != DefaultMaxTurns {
		t.Fatalf("expected %d turns, got %d", DefaultMaxTurns, len(state.RecentTurns))
	}
	if state.RecentTurns[0].Content != "turn 5" {
		t.Fatalf("expected oldest surviving turn to be 'turn 5', got %q", state.RecentTurns[0].Content)
	}
	if last := state.RecentTurns[len(state.RecentTurns)-1]; last.Content != "turn 24" {
		t.Fatalf("expected newest turn 'turn 24', got %q", last.Content)
	}
}

func TestAddTurnTrimsOversizedContent(t *testing.T) {
	state := NewState("cell-1")
	state.AddTurn("user", strings.Repeat("a", 5000))

	if got := len(state.RecentTurns[0].Content); got != maxTurnContentLen {
		t.Fatalf("expected content trimmed to %d, got %d", maxTurnContentLen, got)
	}
}

func TestAddTurnHonorsCustomCap(t *testing.T) {
	state := NewState("cell-1")
	state.MaxTurns = 3
	for i := 0; i < 5; i++ {
		state.AddTurn("user", fmt.Sprintf("turn %d", i))
	}
	if len(state.RecentTurns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(state.RecentTurns))
	}
}

func TestMarkCompletedRemovesMatchingNextAction(t *testing.T) {
	state := NewState("cell-1")
	state.AddNextAction("(AI)", "send weekly email")
	state.AddNextAction("(You)", "review budget")

	state.MarkCompleted("send weekly email")

	if len(state.NextActions.Completed) != 1 || state.NextActions.Completed[0] != "send weekly email" {
		t.Fatalf("unexpected completed list: %+v", state.NextActions.Completed)
	}
	if len(state.NextActions.Next) != 1 || state.NextActions.Next[0].Action != "review budget" {
		t.Fatalf("unexpected next list: %+v", state.NextActions.Next)
	}
}

func TestRenderIncludesAllLayers(t *testing.T) {
	state := NewState("cell-1")
	state.HistorySummary = "shipped v1"
	state.LiveState["site"] = ProjectStatus{Status: "live", Next: "announce"}
	state.Intent.Goals = append(state.Intent.Goals, "grow audience")
	state.AddNextAction("(AI)", "draft announcement")

	out := state.Render()
	for _, want := range []string{"## CELL STATE", "History: shipped v1", `"status":"live"`, "grow audience", "draft announcement"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEmptySummaryShowsNone(t *testing.T) {
	state := NewState("cell-1")
	if out := state.Render(); !strings.Contains(out, "History: None") {
		t.Fatalf("expected 'History: None':\n%s", out)
	}
}

func TestCompressSkipsBelowMinimumTurns(t *testing.T) {
	state := NewState("cell-1")
	for i := 0; i < 4; i++ {
		state.AddTurn("user", "short exchange")
	}
	called := false
	merged, err := Compress(context.Background(), &state, func(context.Context, string) (string, error) {
		called = true
		return "", nil
	})
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if merged || called {
		t.Fatalf("expected silent skip, merged=%v called=%v", merged, called)
	}
	if len(state.RecentTurns) != 4 {
		t.Fatalf("turns changed on skip: %d", len(state.RecentTurns))
	}
}

func TestCompressMergesLayersAndClearsTurns(t *testing.T) {
	state := NewState("cell-1")
	for i := 0; i < 6; i++ {
		state.AddTurn("user", fmt.Sprintf("message %d", i))
	}

	var prompt string
	merged, err := Compress(context.Background(), &state, func(_ context.Context, p string) (string, error) {
		prompt = p
		return `Sure, here you go:
{
  "history_summary": "user planned a launch",
  "live_state": {"launch": {"status": "scheduled", "next": "write post"}},
  "intent": {"goals": ["ship v2"], "preferences": {"tone": "casual"}},
  "next_actions": {"completed": [], "next": [{"label": "(AI)", "action": "write post"}]}
} hope that helps`, nil
	})
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if !merged {
		t.Fatal("expected a merge")
	}
	if !strings.Contains(prompt, "[USER]: message 0") {
		t.Fatalf("prompt missing turns:\n%s", prompt)
	}

	if state.HistorySummary != "user planned a launch" {
		t.Fatalf("unexpected summary: %q", state.HistorySummary)
	}
	if state.LiveState["launch"].Status != "scheduled" {
		t.Fatalf("unexpected live state: %+v", state.LiveState)
	}
	if state.Intent.Preferences["tone"] != "casual" {
		t.Fatalf("unexpected intent: %+v", state.Intent)
	}
	if len(state.NextActions.Next) != 1 || state.NextActions.Next[0].Action != "write post" {
		t.Fatalf("unexpected next actions: %+v", state.NextActions)
	}
	if len(state.RecentTurns) != 0 {
		t.Fatalf("expected cleared turns, got %d", len(state.RecentTurns))
	}
}

func TestCompressParseFailureLeavesStateUntouched(t *testing.T) {
	state := NewState("cell-1")
	state.HistorySummary = "before"
	for i := 0; i < 6; i++ {
		state.AddTurn("user", "message")
	}

	merged, err := Compress(context.Background(), &state, func(context.Context, string) (string, error) {
		return "no json here", nil
	})
	if !errors.Is(err, ErrCompressionFailed) {
		t.Fatalf("expected ErrCompressionFailed, got %v", err)
	}
	if merged {
		t.Fatal("expected no merge")
	}
	if state.HistorySummary != "before" || len(state.RecentTurns) != 6 {
		t.Fatalf("state changed on failure: summary=%q turns=%d", state.HistorySummary, len(state.RecentTurns))
	}
}

func TestCompressRequiresAllLayerKeys(t *testing.T) {
	state := NewState("cell-1")
	for i := 0; i < 6; i++ {
		state.AddTurn("user", "message")
	}

	_, err := Compress(context.Background(), &state, func(context.Context, string) (string, error) {
		return `{"history_summary": "s", "live_state": {}}`, nil
	})
	if !errors.Is(err, ErrCompressionFailed) {
		t.Fatalf("expected ErrCompressionFailed, got %v", err)
	}
	if len(state.RecentTurns) != 6 {
		t.Fatalf("turns changed on failure: %d", len(state.RecentTurns))
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Load(ctx, "cell-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	state, err := LoadOrNew(ctx, store, "cell-1")
	if err != nil {
		t.Fatalf("load or new: %v", err)
	}
	state.AddTurn("user", "hello")
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, "cell-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.RecentTurns) != 1 || loaded.RecentTurns[0].Content != "hello" {
		t.Fatalf("unexpected loaded state: %+v", loaded.RecentTurns)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be set on save")
	}
}
