package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okvist/waypost/internal/tasks"
)

func TestTelegramSendCardBindsMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["chat_id"] != "22" {
			t.Fatalf("unexpected chat id: %v", payload["chat_id"])
		}
		markup, ok := payload["reply_markup"].(map[string]interface{})
		if !ok {
			t.Fatalf("missing reply markup: %v", payload)
		}
		rows, ok := markup["inline_keyboard"].([]interface{})
		if !ok || len(rows) != 1 {
			t.Fatalf("unexpected keyboard: %v", markup)
		}
		buttons := rows[0].([]interface{})
		if len(buttons) != 3 {
			t.Fatalf("expected 3 buttons, got %d", len(buttons))
		}
		first := buttons[0].(map[string]interface{})
		if first["callback_data"] != "approve:task-1" {
			t.Fatalf("unexpected callback data: %v", first["callback_data"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"result": map[string]interface{}{
				"message_id": 77,
				"chat":       map[string]interface{}{"id": 22},
			},
		})
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "token", ChatID: "22", APIRoot: server.URL})
	binding, err := tg.SendCard(context.Background(), Card{
		TaskID:  "task-1",
		Text:    "📋 Post update",
		Actions: defaultActions,
	})
	if err != nil {
		t.Fatalf("send card failed: %v", err)
	}
	if binding.MessageRef != "77" || binding.ChatRef != "22" {
		t.Fatalf("unexpected binding: %+v", binding)
	}
	if binding.Channel != "telegram" {
		t.Fatalf("unexpected channel: %s", binding.Channel)
	}
}

func TestTelegramPollEmitsDecisionFromCallback(t *testing.T) {
	answered := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"ok": true,
				"result": []map[string]interface{}{
					{
						"update_id": 101,
						"callback_query": map[string]interface{}{
							"id":   "cb-1",
							"data": "approve:task-9",
							"message": map[string]interface{}{
								"message_id": 77,
								"chat":       map[string]interface{}{"id": 22},
							},
						},
					},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/answerCallbackQuery"):
			answered = true
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "token", ChatID: "22", APIRoot: server.URL})
	events := make(chan Event, 4)
	if err := tg.pollOnce(context.Background(), events); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if !answered {
		t.Fatal("expected callback acknowledgement")
	}

	select {
	case ev := <-events:
		if ev.Kind != KindDecision || ev.Action != ActionApprove {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.TaskID != "task-9" || ev.ReplyRef != "22" {
			t.Fatalf("unexpected event refs: %+v", ev)
		}
	default:
		t.Fatal("expected a decision event")
	}
}

func TestTelegramPollEmitsFreeText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"result": []map[string]interface{}{
				{
					"update_id": 102,
					"message": map[string]interface{}{
						"message_id": 78,
						"text":       "shorter version please",
						"chat":       map[string]interface{}{"id": 22},
					},
				},
			},
		})
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "token", ChatID: "22", APIRoot: server.URL})
	events := make(chan Event, 4)
	if err := tg.pollOnce(context.Background(), events); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != KindFreeText || ev.Text != "shorter version please" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a free-text event")
	}
}

func TestTelegramEditMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/editMessageText") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["message_id"] != float64(77) {
			t.Fatalf("unexpected message id: %v", payload["message_id"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "token", ChatID: "22", APIRoot: server.URL})
	err := tg.EditMessage(context.Background(), tasks.Binding{
		Channel: "telegram", ChatRef: "22", MessageRef: "77",
	}, "✅ done")
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
}

func TestTelegramAPIErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "description": "chat not found"})
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "token", ChatID: "22", APIRoot: server.URL})
	err := tg.Notify(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}
