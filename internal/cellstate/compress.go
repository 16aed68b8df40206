package cellstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrCompressionFailed marks a compression attempt that produced unusable
// output. The state is left exactly as it was.
var ErrCompressionFailed = errors.New("cell state compression failed")

// Summarizer turns a compression prompt into raw model output.
type Summarizer func(ctx context.Context, prompt string) (string, error)

const (
	minTurnsToCompress   = 5
	summaryContextLimit  = 500
	turnsTextPromptLimit = 3000
)

// Compress folds the raw turn buffer into the layered state via the
// summarizer. It reports whether a merge happened: fewer than five buffered
// turns (or a nil summarizer) is a silent skip. Any model or parse failure
// returns ErrCompressionFailed with the state untouched, so a bad
// compression can never lose memory.
func Compress(ctx context.Context, s *State, summarize Summarizer) (bool, error) {
	if summarize == nil || len(s.RecentTurns) < minTurnsToCompress {
		return false, nil
	}

	raw, err := summarize(ctx, compressionPrompt(s))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}

	layers, err := parseLayers(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}

	s.HistorySummary = layers.HistorySummary
	s.LiveState = layers.LiveState
	s.Intent = layers.Intent
	s.NextActions = layers.NextActions
	s.RecentTurns = nil
	return true, nil
}

func compressionPrompt(s *State) string {
	var turns strings.Builder
	for i, t := range s.RecentTurns {
		if i > 0 {
			turns.WriteByte('\n')
		}
		fmt.Fprintf(&turns, "[%s]: %s", strings.ToUpper(t.Role), t.Content)
	}
	turnsText := turns.String()
	if runes := []rune(turnsText); len(runes) > turnsTextPromptLimit {
		turnsText = string(runes[:turnsTextPromptLimit])
	}

	summary := s.HistorySummary
	if runes := []rune(summary); len(runes) > summaryContextLimit {
		summary = string(runes[:summaryContextLimit])
	}

	return fmt.Sprintf(`Compress into JSON layers. Output ONLY valid JSON:
{
  "history_summary": "factual events + decisions (append to: %s)",
  "live_state": {"project": {"status":"...", "done":"...", "blocker":"...", "next":"..."}},
  "intent": {"goals":["..."], "preferences":{}},
  "next_actions": {"completed":["..."], "next":[{"label":"(AI)","action":"..."}]}
}

TURNS:
%s`, summary, turnsText)
}

type layers struct {
	HistorySummary string
	LiveState      map[string]ProjectStatus
	Intent         Intent
	NextActions    NextActions
}

// parseLayers extracts the outermost JSON object from the model output and
// requires all four layer keys. Chatter around the object is tolerated;
// missing layers are not.
func parseLayers(raw string) (layers, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return layers{}, errors.New("no JSON object in output")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		return layers{}, fmt.Errorf("decode layers: %v", err)
	}
	for _, key := range []string{"history_summary", "live_state", "intent", "next_actions"} {
		if _, ok := fields[key]; !ok {
			return layers{}, fmt.Errorf("missing layer %q", key)
		}
	}

	var out layers
	if err := json.Unmarshal(fields["history_summary"], &out.HistorySummary); err != nil {
		return layers{}, fmt.Errorf("decode history_summary: %v", err)
	}
	if err := json.Unmarshal(fields["live_state"], &out.LiveState); err != nil {
		return layers{}, fmt.Errorf("decode live_state: %v", err)
	}
	if err := json.Unmarshal(fields["intent"], &out.Intent); err != nil {
		return layers{}, fmt.Errorf("decode intent: %v", err)
	}
	if err := json.Unmarshal(fields["next_actions"], &out.NextActions); err != nil {
		return layers{}, fmt.Errorf("decode next_actions: %v", err)
	}
	if out.LiveState == nil {
		out.LiveState = map[string]ProjectStatus{}
	}
	return out, nil
}
