// Package db owns the embedded SQLite connection shared by the task and
// cell-state stores when the service runs without Postgres.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

type DB struct {
	conn *sql.DB
	path string
}

func NewSQLiteDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "waypost.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	database := &DB{conn: conn, path: dbPath}
	if err := database.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return database, nil
}

func (d *DB) initSchema() error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}

	version, err := readSchemaVersion(tx)
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("db schema version %d is newer than runtime version %d", version, currentSchemaVersion)
	}
	if version < 1 {
		if err := migrateToInitialSchema(tx); err != nil {
			return fmt.Errorf("migrate schema %d -> 1: %w", version, err)
		}
		if err := writeSchemaVersion(tx, 1); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func readSchemaVersion(tx *sql.Tx) (int, error) {
	var versionText string
	err := tx.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&versionText)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	version, parseErr := strconv.Atoi(versionText)
	if parseErr != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionText, parseErr)
	}
	if version < 0 {
		return 0, fmt.Errorf("invalid schema version %d", version)
	}
	return version, nil
}

func migrateToInitialSchema(tx *sql.Tx) error {
	createTasks := `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	cell_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	executor TEXT NOT NULL,
	status TEXT NOT NULL,
	prior_status TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL DEFAULT '',
	why_human TEXT NOT NULL DEFAULT '',
	draft JSON NOT NULL DEFAULT '{}',
	result JSON,
	binding JSON,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`
	if _, err := tx.Exec(createTasks); err != nil {
		return err
	}

	createCellStates := `
CREATE TABLE IF NOT EXISTS cell_states (
	cell_id TEXT PRIMARY KEY,
	history_summary TEXT NOT NULL DEFAULT '',
	live_state JSON NOT NULL DEFAULT '{}',
	intent JSON NOT NULL DEFAULT '{}',
	next_actions JSON NOT NULL DEFAULT '{}',
	recent_turns JSON NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);`
	if _, err := tx.Exec(createCellStates); err != nil {
		return err
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_cell_status_created ON tasks(cell_id, status, created_at ASC)`); err != nil {
		return err
	}
	return nil
}

func writeSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`
INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(version))
	return err
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Close() error {
	return d.conn.Close()
}
