package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okvist/waypost/internal/db"
)

// SQLiteStore persists tasks in the shared embedded database.
type SQLiteStore struct {
	db *db.DB
}

func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task Task) error {
	draft, result, binding, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().ExecContext(ctx,
		`INSERT INTO tasks (id, cell_id, title, executor, status, prior_status, action, why_human,
			draft, result, binding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.CellID,
		task.Title,
		string(task.Executor),
		string(task.Status),
		string(task.PriorStatus),
		task.Action,
		task.WhyHuman,
		string(draft),
		nullableJSON(result),
		nullableJSON(binding),
		task.CreatedAt.UnixNano(),
		task.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert task: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task Task) error {
	draft, result, binding, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET cell_id = ?, title = ?, executor = ?, status = ?, prior_status = ?,
			action = ?, why_human = ?, draft = ?, result = ?, binding = ?, updated_at = ?
		 WHERE id = ?`,
		task.CellID,
		task.Title,
		string(task.Executor),
		string(task.Status),
		string(task.PriorStatus),
		task.Action,
		task.WhyHuman,
		string(draft),
		nullableJSON(result),
		nullableJSON(binding),
		task.UpdatedAt.UnixNano(),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update task: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update task: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ResolveTask(ctx context.Context, taskID string, status Status, result Result) (Task, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return Task{}, fmt.Errorf("encode result: %w", err)
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, updated_at = ?
		  WHERE id = ? AND status NOT IN ('completed','failed','skipped')`,
		string(status), string(resultJSON), time.Now().UnixNano(), taskID,
	)
	if err != nil {
		return Task{}, fmt.Errorf("%w: resolve task: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Task{}, fmt.Errorf("%w: resolve task: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		if _, getErr := s.GetTask(ctx, taskID); getErr != nil {
			return Task{}, getErr
		}
		return Task{}, ErrAlreadyResolved
	}
	return s.GetTask(ctx, taskID)
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, cell_id, title, executor, status, prior_status, action, why_human,
			draft, COALESCE(result, ''), COALESCE(binding, ''), created_at, updated_at
		   FROM tasks WHERE id = ?`, taskID)
	task, err := scanSQLiteTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("%w: get task: %v", ErrStoreUnavailable, err)
	}
	return task, nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Task, error) {
	query := `SELECT id, cell_id, title, executor, status, prior_status, action, why_human,
		draft, COALESCE(result, ''), COALESCE(binding, ''), created_at, updated_at
	  FROM tasks WHERE 1=1`
	args := []any{}
	if f.CellID != "" {
		query += ` AND cell_id = ?`
		args = append(args, f.CellID)
	}
	if f.Executor != "" {
		query += ` AND executor = ?`
		args = append(args, string(f.Executor))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make([]Task, 0, 8)
	for rows.Next() {
		task, err := scanSQLiteTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate task rows: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Close is a no-op; the shared db.DB is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }

func scanSQLiteTask(scan func(dest ...any) error) (Task, error) {
	var (
		task                    Task
		executor, status, prior string
		draftJSON               string
		resultJSON, bindingJSON string
		createdAt, updatedAt    int64
	)
	if err := scan(
		&task.ID,
		&task.CellID,
		&task.Title,
		&executor,
		&status,
		&prior,
		&task.Action,
		&task.WhyHuman,
		&draftJSON,
		&resultJSON,
		&bindingJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Executor = Executor(executor)
	task.Status = Status(status)
	task.PriorStatus = Status(prior)
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	task.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := decodeTaskJSON(&task, []byte(draftJSON), []byte(resultJSON), []byte(bindingJSON)); err != nil {
		return Task{}, err
	}
	return task, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
