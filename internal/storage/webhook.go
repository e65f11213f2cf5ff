package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WebhookConfig is one saved webhook endpoint. Rows are append-only and the
// newest one wins.
type WebhookConfig struct {
	ID         int64     `json:"id"`
	WebhookURL string    `json:"webhook_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveWebhookEndpoint appends a new endpoint
func (s *SQLiteStore) SaveWebhookEndpoint(ctx context.Context, url string) (*WebhookConfig, error) {
	cfg := &WebhookConfig{WebhookURL: url, CreatedAt: time.Now()}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO webhook_config (webhook_url, created_at) VALUES (?, ?)",
		cfg.WebhookURL, cfg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save webhook config: %w", err)
	}
	if cfg.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get webhook config id: %w", err)
	}
	return cfg, nil
}

// LatestWebhookConfig returns the most recently saved endpoint, or nil
func (s *SQLiteStore) LatestWebhookConfig(ctx context.Context) (*WebhookConfig, error) {
	var cfg WebhookConfig
	err := s.db.QueryRowContext(ctx,
		"SELECT id, webhook_url, created_at FROM webhook_config ORDER BY id DESC LIMIT 1").
		Scan(&cfg.ID, &cfg.WebhookURL, &cfg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook config: %w", err)
	}
	return &cfg, nil
}

// GetWebhookEndpoint returns the latest endpoint and whether one is set
func (s *SQLiteStore) GetWebhookEndpoint(ctx context.Context) (string, bool, error) {
	cfg, err := s.LatestWebhookConfig(ctx)
	if err != nil || cfg == nil || cfg.WebhookURL == "" {
		return "", false, err
	}
	return cfg.WebhookURL, true, nil
}
