// Package cellstate keeps the layered memory of a conversation cell: the
// raw recent turns plus the compressed layers (history summary, live
// project state, intent, next actions) distilled from them.
package cellstate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMaxTurns caps the raw turn buffer before compression kicks in.
	DefaultMaxTurns = 20

	// Individual turn contents are trimmed so one giant paste cannot
	// dominate the buffer.
	maxTurnContentLen = 2000
)

type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ProjectStatus is one entry of the live-state layer.
type ProjectStatus struct {
	Status  string `json:"status,omitempty"`
	Done    string `json:"done,omitempty"`
	Blocker string `json:"blocker,omitempty"`
	Next    string `json:"next,omitempty"`
}

type Intent struct {
	Goals       []string          `json:"goals"`
	Preferences map[string]string `json:"preferences"`
}

type NextAction struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

type NextActions struct {
	Completed []string     `json:"completed"`
	Next      []NextAction `json:"next"`
}

// State is the full persisted memory of one cell.
type State struct {
	CellID         string                   `json:"cell_id"`
	RecentTurns    []Turn                   `json:"recent_turns"`
	HistorySummary string                   `json:"history_summary"`
	LiveState      map[string]ProjectStatus `json:"live_state"`
	Intent         Intent                   `json:"intent"`
	NextActions    NextActions              `json:"next_actions"`
	UpdatedAt      time.Time                `json:"updated_at"`

	// MaxTurns overrides DefaultMaxTurns when positive. Not persisted.
	MaxTurns int `json:"-"`
}

func NewState(cellID string) State {
	return State{
		CellID:      cellID,
		LiveState:   map[string]ProjectStatus{},
		Intent:      Intent{Goals: []string{}, Preferences: map[string]string{}},
		NextActions: NextActions{Completed: []string{}, Next: []NextAction{}},
	}
}

func (s *State) maxTurns() int {
	if s.MaxTurns > 0 {
		return s.MaxTurns
	}
	return DefaultMaxTurns
}

// AddTurn appends a turn, trimming oversized content and evicting the oldest
// turns beyond the cap.
func (s *State) AddTurn(role, content string) {
	if runes := []rune(content); len(runes) > maxTurnContentLen {
		content = string(runes[:maxTurnContentLen])
	}
	s.RecentTurns = append(s.RecentTurns, Turn{
		Role:    role,
		Content: content,
		At:      time.Now().UTC(),
	})
	if max := s.maxTurns(); len(s.RecentTurns) > max {
		keep := s.RecentTurns[len(s.RecentTurns)-max:]
		s.RecentTurns = append([]Turn(nil), keep...)
	}
}

// MarkCompleted records a finished action and drops any matching entry from
// the next-actions list.
func (s *State) MarkCompleted(actionLabel string) {
	s.NextActions.Completed = append(s.NextActions.Completed, actionLabel)
	next := s.NextActions.Next[:0]
	for _, n := range s.NextActions.Next {
		if n.Action != actionLabel {
			next = append(next, n)
		}
	}
	s.NextActions.Next = next
}

func (s *State) AddNextAction(label, action string) {
	s.NextActions.Next = append(s.NextActions.Next, NextAction{Label: label, Action: action})
}

// Render produces the prompt block injected ahead of agent calls.
func (s *State) Render() string {
	live, _ := json.Marshal(s.LiveState)
	intent, _ := json.Marshal(s.Intent)
	actions, _ := json.Marshal(s.NextActions)

	summary := s.HistorySummary
	if summary == "" {
		summary = "None"
	}
	var b strings.Builder
	b.WriteString("## CELL STATE\n")
	fmt.Fprintf(&b, "History: %s\n", summary)
	fmt.Fprintf(&b, "Live: %s\n", live)
	fmt.Fprintf(&b, "Intent: %s\n", intent)
	fmt.Fprintf(&b, "Next: %s", actions)
	return b.String()
}

func (s State) Clone() State {
	out := s
	out.RecentTurns = append([]Turn(nil), s.RecentTurns...)
	out.LiveState = make(map[string]ProjectStatus, len(s.LiveState))
	for k, v := range s.LiveState {
		out.LiveState[k] = v
	}
	out.Intent.Goals = append([]string(nil), s.Intent.Goals...)
	out.Intent.Preferences = make(map[string]string, len(s.Intent.Preferences))
	for k, v := range s.Intent.Preferences {
		out.Intent.Preferences[k] = v
	}
	out.NextActions.Completed = append([]string(nil), s.NextActions.Completed...)
	out.NextActions.Next = append([]NextAction(nil), s.NextActions.Next...)
	return out
}
