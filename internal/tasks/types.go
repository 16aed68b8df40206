package tasks

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusInProgress         Status = "in_progress"
	StatusAwaitingUserAction Status = "awaiting_user_action"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusSkipped            Status = "skipped"
	StatusPaused             Status = "paused"
)

type Executor string

const (
	ExecutorAI    Executor = "ai"
	ExecutorHuman Executor = "human"
)

type DraftType string

const (
	DraftSocial   DraftType = "social_draft"
	DraftEmail    DraftType = "email_draft"
	DraftCalendar DraftType = "calendar_draft"
	DraftOther    DraftType = "other"
)

// Draft is the payload of a proposed action awaiting human confirmation.
// Exactly one variant matching Type is populated.
type Draft struct {
	Type     DraftType      `json:"type"`
	Social   *SocialDraft   `json:"social,omitempty"`
	Email    *EmailDraft    `json:"email,omitempty"`
	Calendar *CalendarDraft `json:"calendar,omitempty"`
	Other    *OtherDraft    `json:"other,omitempty"`
}

type SocialDraft struct {
	Platform string `json:"platform"`
	Message  string `json:"message"`
}

type EmailDraft struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

type CalendarDraft struct {
	Title     string   `json:"title"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Attendees []string `json:"attendees,omitempty"`
}

type OtherDraft struct {
	Content string `json:"content"`
}

// UserAction values recorded in a task result.
const (
	ActionApproved  = "approved"
	ActionEdited    = "edited"
	ActionCancelled = "cancelled"
	ActionTimeout   = "timeout"
)

// Result is the outcome payload of a resolved task.
type Result struct {
	UserAction string `json:"user_action,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	NewContent string `json:"new_content,omitempty"`
}

// Binding records where the task card was posted so it can be edited in place.
type Binding struct {
	Channel    string `json:"channel"`
	ChatRef    string `json:"chat_ref,omitempty"`
	MessageRef string `json:"message_ref"`
}

type Task struct {
	ID       string   `json:"id"`
	CellID   string   `json:"cell_id,omitempty"`
	Title    string   `json:"title"`
	Executor Executor `json:"executor"`
	Status   Status   `json:"status"`
	// PriorStatus holds the state a paused task resumes into.
	PriorStatus Status    `json:"prior_status,omitempty"`
	Action      string    `json:"action,omitempty"`
	WhyHuman    string    `json:"why_human,omitempty"`
	Draft       Draft     `json:"draft"`
	Result      *Result   `json:"result,omitempty"`
	Binding     *Binding  `json:"notification_binding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

func (t Task) Clone() Task {
	out := t
	out.Draft = t.Draft.Clone()
	if t.Result != nil {
		r := *t.Result
		out.Result = &r
	}
	if t.Binding != nil {
		b := *t.Binding
		out.Binding = &b
	}
	return out
}

func (d Draft) Clone() Draft {
	out := d
	if d.Social != nil {
		s := *d.Social
		out.Social = &s
	}
	if d.Email != nil {
		e := *d.Email
		e.To = append([]string(nil), d.Email.To...)
		out.Email = &e
	}
	if d.Calendar != nil {
		c := *d.Calendar
		c.Attendees = append([]string(nil), d.Calendar.Attendees...)
		out.Calendar = &c
	}
	if d.Other != nil {
		o := *d.Other
		out.Other = &o
	}
	return out
}

// MergeContent writes human-provided replacement text into the field an edit
// targets for this draft type and returns the updated draft.
func (d Draft) MergeContent(text string) Draft {
	out := d.Clone()
	switch out.Type {
	case DraftEmail:
		if out.Email == nil {
			out.Email = &EmailDraft{}
		}
		out.Email.Body = text
	case DraftSocial:
		if out.Social == nil {
			out.Social = &SocialDraft{}
		}
		out.Social.Message = text
	case DraftCalendar:
		if out.Calendar == nil {
			out.Calendar = &CalendarDraft{}
		}
		out.Calendar.Title = text
	default:
		if out.Other == nil {
			out.Other = &OtherDraft{}
		}
		out.Other.Content = text
	}
	return out
}

func (d Draft) Normalize() Draft {
	out := d
	if strings.TrimSpace(string(out.Type)) == "" {
		out.Type = DraftOther
	}
	return out
}

// ValidTransition reports whether a status edge is allowed. Pausing is legal
// from any non-terminal state; resuming returns to the recorded prior state.
func ValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		switch to {
		case StatusInProgress, StatusAwaitingUserAction, StatusSkipped, StatusFailed, StatusPaused:
			return true
		}
	case StatusInProgress:
		switch to {
		case StatusAwaitingUserAction, StatusCompleted, StatusFailed, StatusSkipped, StatusPaused:
			return true
		}
	case StatusAwaitingUserAction:
		switch to {
		case StatusCompleted, StatusInProgress, StatusSkipped, StatusFailed, StatusPaused:
			return true
		}
	case StatusPaused:
		switch to {
		case StatusPending, StatusInProgress, StatusAwaitingUserAction:
			return true
		}
	}
	return false
}
