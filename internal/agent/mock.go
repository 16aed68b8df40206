package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no runtime is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	base := strings.TrimSpace(req.InputText)
	if base == "" {
		base = "I am listening."
	}
	text := fmt.Sprintf("I heard you: %s", base)
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}
