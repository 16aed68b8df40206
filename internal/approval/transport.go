// Package approval presents task cards to a human and turns their replies
// into decision events, independent of the notification medium.
package approval

import (
	"context"
	"errors"

	"github.com/okvist/waypost/internal/tasks"
)

// ErrChannelUnavailable marks a transport send failure. The task stays
// pending; retrying is the caller's decision.
var ErrChannelUnavailable = errors.New("approval channel unavailable")

type EventKind string

const (
	KindDecision EventKind = "decision"
	KindFreeText EventKind = "free_text"
)

type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionEdit    DecisionAction = "edit"
	ActionCancel  DecisionAction = "cancel"
)

// Event is an inbound signal from the channel transport. Decision events
// carry Action and TaskID; free-text events carry Text. ReplyRef identifies
// the replying party so edit mode can be scoped to them.
type Event struct {
	Kind     EventKind
	Action   DecisionAction
	TaskID   string
	ReplyRef string
	Text     string
}

// Card is a rendered task ready to be posted with actionable controls.
type Card struct {
	TaskID  string
	Text    string
	Actions []DecisionAction
}

// Transport is a push-notification medium able to post and edit messages
// and to deliver inbound events from a single serialized stream.
type Transport interface {
	Name() string
	SendCard(ctx context.Context, card Card) (tasks.Binding, error)
	EditMessage(ctx context.Context, binding tasks.Binding, text string) error
	Notify(ctx context.Context, text string) error
	// Run blocks, feeding inbound events until ctx is cancelled.
	Run(ctx context.Context, events chan<- Event) error
}

var defaultActions = []DecisionAction{ActionApprove, ActionEdit, ActionCancel}
