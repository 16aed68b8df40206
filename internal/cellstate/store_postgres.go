package cellstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore reuses an existing pool; the caller owns its lifetime.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initCellStateSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initCellStateSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS cell_states (
		cell_id TEXT PRIMARY KEY,
		history_summary TEXT NOT NULL DEFAULT '',
		live_state JSONB NOT NULL DEFAULT '{}'::jsonb,
		intent JSONB NOT NULL DEFAULT '{}'::jsonb,
		next_actions JSONB NOT NULL DEFAULT '{}'::jsonb,
		recent_turns JSONB NOT NULL DEFAULT '[]'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("init cell_states schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, cellID string) (State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT cell_id, history_summary, live_state, intent, next_actions, recent_turns, updated_at
		   FROM cell_states WHERE cell_id=$1`, cellID)

	var (
		state                        State
		live, intent, actions, turns []byte
	)
	err := row.Scan(&state.CellID, &state.HistorySummary, &live, &intent, &actions, &turns, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load cell state: %w", err)
	}
	if err := decodeStateJSON(&state, live, intent, actions, turns); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state State) error {
	live, intent, actions, turns, err := encodeStateJSON(state)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cell_states (cell_id, history_summary, live_state, intent, next_actions, recent_turns, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (cell_id) DO UPDATE SET
			history_summary=EXCLUDED.history_summary,
			live_state=EXCLUDED.live_state,
			intent=EXCLUDED.intent,
			next_actions=EXCLUDED.next_actions,
			recent_turns=EXCLUDED.recent_turns,
			updated_at=EXCLUDED.updated_at`,
		state.CellID, state.HistorySummary, live, intent, actions, turns, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save cell state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return nil }

func encodeStateJSON(state State) (live, intent, actions, turns []byte, err error) {
	if live, err = json.Marshal(state.LiveState); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode live_state: %w", err)
	}
	if intent, err = json.Marshal(state.Intent); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode intent: %w", err)
	}
	if actions, err = json.Marshal(state.NextActions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode next_actions: %w", err)
	}
	if state.RecentTurns == nil {
		state.RecentTurns = []Turn{}
	}
	if turns, err = json.Marshal(state.RecentTurns); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode recent_turns: %w", err)
	}
	return live, intent, actions, turns, nil
}

func decodeStateJSON(state *State, live, intent, actions, turns []byte) error {
	if len(live) > 0 {
		if err := json.Unmarshal(live, &state.LiveState); err != nil {
			return fmt.Errorf("decode live_state: %w", err)
		}
	}
	if len(intent) > 0 {
		if err := json.Unmarshal(intent, &state.Intent); err != nil {
			return fmt.Errorf("decode intent: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &state.NextActions); err != nil {
			return fmt.Errorf("decode next_actions: %w", err)
		}
	}
	if len(turns) > 0 {
		if err := json.Unmarshal(turns, &state.RecentTurns); err != nil {
			return fmt.Errorf("decode recent_turns: %w", err)
		}
	}
	if state.LiveState == nil {
		state.LiveState = map[string]ProjectStatus{}
	}
	return nil
}
