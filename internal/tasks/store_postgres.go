package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore reuses an existing pool; the caller owns its lifetime.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initTaskSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			cell_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			executor TEXT NOT NULL,
			status TEXT NOT NULL,
			prior_status TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			why_human TEXT NOT NULL DEFAULT '',
			draft JSONB NOT NULL DEFAULT '{}'::jsonb,
			result JSONB NULL,
			binding JSONB NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_cell_status_created ON tasks (cell_id, status, created_at ASC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	draft, result, binding, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (
			id, cell_id, title, executor, status, prior_status, action, why_human,
			draft, result, binding, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		task.ID,
		task.CellID,
		task.Title,
		string(task.Executor),
		string(task.Status),
		string(task.PriorStatus),
		task.Action,
		task.WhyHuman,
		draft,
		result,
		binding,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert task: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) error {
	draft, result, binding, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET
			cell_id=$2, title=$3, executor=$4, status=$5, prior_status=$6,
			action=$7, why_human=$8, draft=$9, result=$10, binding=$11, updated_at=$12
		 WHERE id=$1`,
		task.ID,
		task.CellID,
		task.Title,
		string(task.Executor),
		string(task.Status),
		string(task.PriorStatus),
		task.Action,
		task.WhyHuman,
		draft,
		result,
		binding,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: update task: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResolveTask(ctx context.Context, taskID string, status Status, result Result) (Task, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return Task{}, fmt.Errorf("encode result: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET status=$2, result=$3, updated_at=now()
		  WHERE id=$1 AND status NOT IN ('completed','failed','skipped')
		 RETURNING `+taskColumns,
		taskID, string(status), resultJSON,
	)
	task, err := scanTaskRow(row)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Task{}, fmt.Errorf("%w: resolve task: %v", ErrStoreUnavailable, err)
	}
	// Either the row is missing or it is already terminal.
	if _, getErr := s.GetTask(ctx, taskID); getErr != nil {
		return Task{}, getErr
	}
	return Task{}, ErrAlreadyResolved
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	task, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("%w: get task: %v", ErrStoreUnavailable, err)
	}
	return task, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if f.CellID != "" {
		args = append(args, f.CellID)
		query += fmt.Sprintf(" AND cell_id=$%d", len(args))
	}
	if f.Executor != "" {
		args = append(args, string(f.Executor))
		query += fmt.Sprintf(" AND executor=$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make([]Task, 0, 8)
	for rows.Next() {
		task, err := scanTaskRow(rows)
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

func (s *PostgresStore) Close() error { return nil }

const taskColumns = `id, cell_id, title, executor, status, prior_status, action, why_human,
	draft, result, binding, created_at, updated_at`

func encodeTaskJSON(task Task) (draft, result, binding []byte, err error) {
	draft, err = json.Marshal(task.Draft)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode draft: %w", err)
	}
	if task.Result != nil {
		result, err = json.Marshal(task.Result)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode result: %w", err)
		}
	}
	if task.Binding != nil {
		binding, err = json.Marshal(task.Binding)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode binding: %w", err)
		}
	}
	return draft, result, binding, nil
}

func scanTaskRow(row pgx.Row) (Task, error) {
	var (
		task                    Task
		executor, status, prior string
		draftJSON               []byte
		resultJSON, bindingJSON []byte
	)
	if err := row.Scan(
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
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Executor = Executor(executor)
	task.Status = Status(status)
	task.PriorStatus = Status(prior)
	if err := decodeTaskJSON(&task, draftJSON, resultJSON, bindingJSON); err != nil {
		return Task{}, err
	}
	return task, nil
}

func decodeTaskJSON(task *Task, draftJSON, resultJSON, bindingJSON []byte) error {
	if len(draftJSON) > 0 {
		if err := json.Unmarshal(draftJSON, &task.Draft); err != nil {
			return fmt.Errorf("decode draft: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		task.Result = &Result{}
		if err := json.Unmarshal(resultJSON, task.Result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	if len(bindingJSON) > 0 {
		task.Binding = &Binding{}
		if err := json.Unmarshal(bindingJSON, task.Binding); err != nil {
			return fmt.Errorf("decode binding: %w", err)
		}
	}
	return nil
}
