package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
)

// DefaultLogLimit is used when a log listing asks for no limit
const DefaultLogLimit = 50

// AppendLog stores one check result. Results are never updated.
func (s *SQLiteStore) AppendLog(ctx context.Context, result model.CheckResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	var responseTime sql.NullInt64
	if result.ResponseTimeMs != nil {
		responseTime = sql.NullInt64{Int64: *result.ResponseTimeMs, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_logs (
			id, task_id, kind, outcome, response_time_ms, error_detail, output, attempts, checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.TaskID,
		result.Kind,
		result.Outcome,
		responseTime,
		sql.NullString{String: result.ErrorDetail, Valid: result.ErrorDetail != ""},
		sql.NullString{String: result.Output, Valid: result.Output != ""},
		result.Attempts,
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append check log: %w", err)
	}
	return nil
}

// ListLogs returns the latest results of a task, newest first
func (s *SQLiteStore) ListLogs(ctx context.Context, taskID string, limit int) ([]model.CheckResult, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, kind, outcome, response_time_ms, error_detail, output, attempts, checked_at
		FROM check_logs
		WHERE task_id = ?
		ORDER BY checked_at DESC, rowid DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check logs: %w", err)
	}
	defer rows.Close()

	results := make([]model.CheckResult, 0)
	for rows.Next() {
		var r model.CheckResult
		var responseTime sql.NullInt64
		var errorDetail, output sql.NullString

		err := rows.Scan(
			&r.ID,
			&r.TaskID,
			&r.Kind,
			&r.Outcome,
			&responseTime,
			&errorDetail,
			&output,
			&r.Attempts,
			&r.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check log: %w", err)
		}

		if responseTime.Valid {
			ms := responseTime.Int64
			r.ResponseTimeMs = &ms
		}
		r.ErrorDetail = errorDetail.String
		r.Output = output.String
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// DeleteLogsBefore removes results checked before the given time
func (s *SQLiteStore) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM check_logs WHERE checked_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete check logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old check logs",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}
