package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
)

// LogAppender is the durable check log
type LogAppender interface {
	AppendLog(ctx context.Context, result model.CheckResult) error
}

// ResultPublisher announces results to other consumers
type ResultPublisher interface {
	Publish(ctx context.Context, result model.CheckResult) error
}

// DefaultPublishTimeout bounds how long a tick may spend handing a result to
// the publisher
const DefaultPublishTimeout = 250 * time.Millisecond

// RecordingSink appends results to the log and then publishes them. Only the
// log write can fail a call; publishing is best effort.
type RecordingSink struct {
	log            LogAppender
	publisher      ResultPublisher
	logger         *zap.Logger
	publishTimeout time.Duration
}

// SinkOption customizes a RecordingSink
type SinkOption func(*RecordingSink)

// WithPublishTimeout replaces DefaultPublishTimeout
func WithPublishTimeout(d time.Duration) SinkOption {
	return func(s *RecordingSink) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// NewRecordingSink creates a sink. publisher may be nil.
func NewRecordingSink(log LogAppender, publisher ResultPublisher, logger *zap.Logger, opts ...SinkOption) *RecordingSink {
	s := &RecordingSink{
		log:            log,
		publisher:      publisher,
		logger:         logger.Named("sink"),
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendLog implements the scheduler's log collaborator
func (s *RecordingSink) AppendLog(ctx context.Context, result model.CheckResult) error {
	if err := s.log.AppendLog(ctx, result); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, result); err != nil {
		s.logger.Warn("Failed to publish check result",
			zap.String("task_id", result.TaskID),
			zap.String("result_id", result.ID),
			zap.Error(err))
	}
	return nil
}
