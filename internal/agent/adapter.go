// Package agent bridges the backend to the language-model runtime that
// drafts replies and compresses cell state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is the normalized request sent to the model runtime. StateContext
// carries the rendered cell-state block injected ahead of the user input.
type Request struct {
	CellID       string `json:"cell_id"`
	TurnID       string `json:"turn_id,omitempty"`
	InputText    string `json:"input_text"`
	StateContext string `json:"state_context,omitempty"`
}

// Response is the final response after streaming deltas.
type Response struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter abstracts a reasoning backend.
type Adapter interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

type Config struct {
	Mode    string
	HTTPURL string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported agent adapter mode %q", cfg.Mode)
	}
}

// Complete collects a full response without streaming.
func Complete(ctx context.Context, a Adapter, req Request) (string, error) {
	res, err := a.StreamResponse(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
