package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the operator surface.
type MessageType string

const (
	TypeDecision   MessageType = "decision"
	TypeFreeText   MessageType = "free_text"
	TypeTaskCard   MessageType = "task_card"
	TypeNotice     MessageType = "notice"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Decision is the button-press equivalent: approve, edit or cancel a task.
type Decision struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	TaskID string      `json:"task_id"`
}

// FreeText carries replacement content while the operator is in edit mode.
type FreeText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// TaskCard is the rendered task presented for review.
type TaskCard struct {
	Type       MessageType `json:"type"`
	TaskID     string      `json:"task_id"`
	MessageRef string      `json:"message_ref"`
	Text       string      `json:"text"`
	Actions    []string    `json:"actions,omitempty"`
	// Replaces marks in-place updates of a previously sent card.
	Replaces string `json:"replaces,omitempty"`
}

type Notice struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseOperatorMessage decodes an inbound operator frame into its typed form.
func ParseOperatorMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeDecision:
		var msg Decision
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case "approve", "edit", "cancel":
		default:
			return nil, fmt.Errorf("invalid decision action %q", msg.Action)
		}
		if msg.TaskID == "" {
			return nil, errors.New("invalid decision: missing task_id")
		}
		return msg, nil
	case TypeFreeText:
		var msg FreeText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid free_text: missing text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
