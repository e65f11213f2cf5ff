package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
)

// ResultSubject is the subject results of a task are published on
func ResultSubject(taskID string) string {
	return fmt.Sprintf(resultSubjectFmt, taskID)
}

// Publisher fans check results out to JetStream
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	maxAge time.Duration
}

// NewPublisher creates a result publisher. maxAge bounds how long the stream
// keeps results.
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger, maxAge time.Duration) *Publisher {
	if maxAge <= 0 {
		maxAge = DefaultStreamMaxAge
	}
	return &Publisher{
		js:     js,
		logger: logger.Named("events"),
		maxAge: maxAge,
	}
}

// EnsureStream creates the result stream unless it already exists
func (p *Publisher) EnsureStream() error {
	_, err := p.js.StreamInfo(ResultStreamName)
	if err == nil {
		p.logger.Info("Using existing result stream", zap.String("name", ResultStreamName))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     ResultStreamName,
		Subjects: []string{resultSubjectAll},
		Storage:  nats.FileStorage,
		MaxAge:   p.maxAge,
		MaxMsgs:  streamMaxMsgs,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	p.logger.Info("Created result stream", zap.String("name", ResultStreamName))
	return nil
}

// Publish queues one result for its task subject and returns without
// waiting for the stream to acknowledge it. Failed acks are reported to the
// JetStream context's PublishAsyncErrHandler.
func (p *Publisher) Publish(ctx context.Context, result model.CheckResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if _, err := p.js.PublishAsync(ResultSubject(result.TaskID), data); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	p.logger.Debug("Result published",
		zap.String("result_id", result.ID),
		zap.String("task_id", result.TaskID))
	return nil
}

// Wait blocks until every queued result is acknowledged or ctx is done
func (p *Publisher) Wait(ctx context.Context) error {
	select {
	case <-p.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("results still pending: %w", ctx.Err())
	}
}
