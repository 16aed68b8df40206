package cellstate

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("cell state not found")

// Store persists one State row per cell. Save is an upsert.
type Store interface {
	Load(ctx context.Context, cellID string) (State, error)
	Save(ctx context.Context, state State) error
	Close() error
}

// LoadOrNew returns the stored state for the cell, or a fresh empty one if
// the cell has never been saved.
func LoadOrNew(ctx context.Context, store Store, cellID string) (State, error) {
	state, err := store.Load(ctx, cellID)
	if errors.Is(err, ErrNotFound) {
		return NewState(cellID), nil
	}
	if err != nil {
		return State{}, err
	}
	return state, nil
}
