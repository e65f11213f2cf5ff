package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore persists tasks, check logs and webhook settings in one SQLite file
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer connection avoids "database is locked" under concurrent ticks
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		logger: logger.Named("storage"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL DEFAULT 0,
			username TEXT,
			secret TEXT,
			command TEXT,
			interval_value INTEGER NOT NULL,
			interval_unit TEXT NOT NULL,
			run_state TEXT NOT NULL DEFAULT 'stopped',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_run_state ON tasks(run_state);

		CREATE TABLE IF NOT EXISTS check_logs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			outcome TEXT NOT NULL,
			response_time_ms INTEGER,
			error_detail TEXT,
			output TEXT,
			attempts INTEGER NOT NULL,
			checked_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_check_logs_task_id ON check_logs(task_id, checked_at);
		CREATE INDEX IF NOT EXISTS idx_check_logs_checked_at ON check_logs(checked_at);

		CREATE TABLE IF NOT EXISTS webhook_config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			webhook_url TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
