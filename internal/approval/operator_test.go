package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okvist/waypost/internal/protocol"
)

func TestOperatorHubRequiresAClient(t *testing.T) {
	hub := NewOperatorHub()
	_, err := hub.SendCard(context.Background(), Card{TaskID: "t1", Text: "card"})
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
}

func TestOperatorHubBroadcastsCards(t *testing.T) {
	hub := NewOperatorHub()
	_, out, detach := hub.Attach()
	defer detach()

	binding, err := hub.SendCard(context.Background(), Card{
		TaskID:  "t1",
		Text:    "📋 Review",
		Actions: defaultActions,
	})
	if err != nil {
		t.Fatalf("send card failed: %v", err)
	}

	select {
	case frame := <-out:
		card, ok := frame.(protocol.TaskCard)
		if !ok {
			t.Fatalf("unexpected frame type %T", frame)
		}
		if card.TaskID != "t1" || card.MessageRef != binding.MessageRef {
			t.Fatalf("unexpected card: %+v", card)
		}
		if len(card.Actions) != 3 {
			t.Fatalf("expected 3 actions, got %v", card.Actions)
		}
	default:
		t.Fatal("expected a broadcast frame")
	}
}

func TestOperatorHubInboundReachesRun(t *testing.T) {
	hub := NewOperatorHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 1)
	go func() { _ = hub.Run(ctx, events) }()

	hub.Inbound("conn-1", protocol.Decision{Type: protocol.TypeDecision, Action: "cancel", TaskID: "t2"})

	select {
	case ev := <-events:
		if ev.Kind != KindDecision || ev.Action != ActionCancel || ev.TaskID != "t2" || ev.ReplyRef != "conn-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
