package cellstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/okvist/waypost/internal/db"
)

// SQLiteStore persists cell states in the shared embedded database.
type SQLiteStore struct {
	db *db.DB
}

func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) Load(ctx context.Context, cellID string) (State, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT cell_id, history_summary, live_state, intent, next_actions, recent_turns, updated_at
		   FROM cell_states WHERE cell_id = ?`, cellID)

	var (
		state                        State
		live, intent, actions, turns string
		updatedAt                    int64
	)
	err := row.Scan(&state.CellID, &state.HistorySummary, &live, &intent, &actions, &turns, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load cell state: %w", err)
	}
	state.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := decodeStateJSON(&state, []byte(live), []byte(intent), []byte(actions), []byte(turns)); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state State) error {
	live, intent, actions, turns, err := encodeStateJSON(state)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().ExecContext(ctx,
		`INSERT INTO cell_states (cell_id, history_summary, live_state, intent, next_actions, recent_turns, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cell_id) DO UPDATE SET
			history_summary = excluded.history_summary,
			live_state = excluded.live_state,
			intent = excluded.intent,
			next_actions = excluded.next_actions,
			recent_turns = excluded.recent_turns,
			updated_at = excluded.updated_at`,
		state.CellID, state.HistorySummary, string(live), string(intent), string(actions), string(turns),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save cell state: %w", err)
	}
	return nil
}

// Close is a no-op; the shared db.DB is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }
