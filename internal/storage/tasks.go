package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/port-monitor/internal/model"
)

const taskColumns = `id, name, kind, host, port, username, secret, command,
	interval_value, interval_unit, run_state, created_at, updated_at`

// taskRow is the flat column layout of a task
type taskRow struct {
	kind     model.TaskKind
	host     string
	port     int
	username sql.NullString
	secret   sql.NullString
	command  sql.NullString
}

func flatten(t model.Target) (taskRow, error) {
	switch target := t.(type) {
	case model.PortTarget:
		return taskRow{kind: model.TaskKindPort, host: target.Host, port: target.Port}, nil
	case model.ScriptTarget:
		return taskRow{
			kind:     model.TaskKindScript,
			host:     target.Host,
			port:     target.Port,
			username: sql.NullString{String: target.Credentials.Username, Valid: true},
			secret:   sql.NullString{String: target.Credentials.Secret, Valid: true},
			command:  sql.NullString{String: target.Command, Valid: true},
		}, nil
	default:
		return taskRow{}, model.ErrMissingTarget
	}
}

func (r taskRow) target() (model.Target, error) {
	switch r.kind {
	case model.TaskKindPort:
		return model.PortTarget{Host: r.host, Port: r.port}, nil
	case model.TaskKindScript:
		return model.ScriptTarget{
			Host:        r.host,
			Port:        r.port,
			Credentials: model.Credentials{Username: r.username.String, Secret: r.secret.String},
			Command:     r.command.String,
		}, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", r.kind)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var r taskRow
	err := row.Scan(
		&task.ID,
		&task.Name,
		&r.kind,
		&r.host,
		&r.port,
		&r.username,
		&r.secret,
		&r.command,
		&task.Interval.Value,
		&task.Interval.Unit,
		&task.RunState,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if task.Target, err = r.target(); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask stores a new stopped task, assigning id and timestamps
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	r, err := flatten(task.Target)
	if err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now()
	task.CreatedAt, task.UpdatedAt = now, now
	task.RunState = model.RunStateStopped

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Name, r.kind, r.host, r.port, r.username, r.secret, r.command,
		task.Interval.Value, task.Interval.Unit, task.RunState, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UpdateTask replaces the definition of a task and marks it stopped
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *model.Task) error {
	r, err := flatten(task.Target)
	if err != nil {
		return err
	}
	task.UpdatedAt = time.Now()
	task.RunState = model.RunStateStopped

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			name = ?, kind = ?, host = ?, port = ?, username = ?, secret = ?, command = ?,
			interval_value = ?, interval_unit = ?, run_state = ?, updated_at = ?
		WHERE id = ?`,
		task.Name, r.kind, r.host, r.port, r.username, r.secret, r.command,
		task.Interval.Value, task.Interval.Unit, task.RunState, task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return expectRow(res)
}

// SetRunState persists whether a task should be running
func (s *SQLiteStore) SetRunState(ctx context.Context, id string, state model.RunState) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET run_state = ?, updated_at = ? WHERE id = ?",
		state, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set run state: %w", err)
	}
	return expectRow(res)
}

// DeleteTask removes a task together with its check logs
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM check_logs WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete check logs: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadTask returns model.ErrTaskNotFound for an unknown id
func (s *SQLiteStore) LoadTask(ctx context.Context, id string) (*model.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks, newest first
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*model.Task, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY created_at DESC")
}

// ListRunningTasks returns the tasks persisted as running
func (s *SQLiteStore) ListRunningTasks(ctx context.Context) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE run_state = ? ORDER BY created_at",
		model.RunStateRunning)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

func expectRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}
