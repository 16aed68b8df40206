package protocol

import (
	"errors"
	"testing"
)

func TestParseDecision(t *testing.T) {
	raw := []byte(`{"type":"decision","action":"approve","task_id":"t-1"}`)
	parsed, err := ParseOperatorMessage(raw)
	if err != nil {
		t.Fatalf("ParseOperatorMessage() error = %v", err)
	}
	msg, ok := parsed.(Decision)
	if !ok {
		t.Fatalf("parsed type = %T, want Decision", parsed)
	}
	if msg.Action != "approve" || msg.TaskID != "t-1" {
		t.Fatalf("parsed = %+v", msg)
	}
}

func TestParseDecisionRejectsUnknownAction(t *testing.T) {
	raw := []byte(`{"type":"decision","action":"shrug","task_id":"t-1"}`)
	if _, err := ParseOperatorMessage(raw); err == nil {
		t.Fatalf("ParseOperatorMessage() error = nil, want invalid action")
	}
}

func TestParseDecisionRequiresTaskID(t *testing.T) {
	raw := []byte(`{"type":"decision","action":"cancel"}`)
	if _, err := ParseOperatorMessage(raw); err == nil {
		t.Fatalf("ParseOperatorMessage() error = nil, want missing task_id")
	}
}

func TestParseFreeText(t *testing.T) {
	raw := []byte(`{"type":"free_text","text":"new body"}`)
	parsed, err := ParseOperatorMessage(raw)
	if err != nil {
		t.Fatalf("ParseOperatorMessage() error = %v", err)
	}
	msg, ok := parsed.(FreeText)
	if !ok {
		t.Fatalf("parsed type = %T, want FreeText", parsed)
	}
	if msg.Text != "new body" {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestParseUnsupportedType(t *testing.T) {
	raw := []byte(`{"type":"task_card","task_id":"t-1"}`)
	_, err := ParseOperatorMessage(raw)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}
