package alert

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
)

// WebhookSource returns the most recently saved webhook endpoint
type WebhookSource interface {
	GetWebhookEndpoint(ctx context.Context) (string, bool, error)
}

// DeliveryObserver is told about every delivery attempt
type DeliveryObserver func(err error)

// Dispatcher turns failed checks into webhook alerts
type Dispatcher struct {
	logger   *zap.Logger
	source   WebhookSource
	notifier Notifier
	observe  DeliveryObserver
}

// DispatcherOption customizes a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithNotifier replaces the default webhook notifier
func WithNotifier(n Notifier) DispatcherOption {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithObserver registers a callback invoked after each delivery attempt
func WithObserver(fn DeliveryObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observe = fn }
}

// NewDispatcher creates an alert dispatcher reading endpoints from source
func NewDispatcher(source WebhookSource, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:   logger.Named("alert"),
		source:   source,
		notifier: NewWebhookNotifier(DefaultWebhookTimeout),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyFailure sends one alert for a failed result. Errors are logged and
// never returned; without a configured endpoint it does nothing.
func (d *Dispatcher) NotifyFailure(ctx context.Context, task *model.Task, result model.CheckResult) {
	if !result.Failed() {
		return
	}
	event := model.NewAlertEvent(task, result)
	if err := d.deliver(ctx, event); err != nil && !errors.Is(err, ErrWebhookNotConfigured) {
		d.logger.Error("Failed to deliver alert",
			zap.String("task_id", task.ID),
			zap.String("task", task.Name),
			zap.Error(err))
	}
}

// SendTest delivers a sample alert and reports the outcome to the caller
func (d *Dispatcher) SendTest(ctx context.Context) error {
	return d.deliver(ctx, model.AlertEvent{
		TaskName:    "Test task",
		Kind:        model.TaskKindPort,
		Target:      "test.example.com:80",
		ErrorDetail: "This is a test alert",
		Attempts:    1,
		OccurredAt:  time.Now(),
	})
}

func (d *Dispatcher) deliver(ctx context.Context, event model.AlertEvent) error {
	endpoint, ok, err := d.source.GetWebhookEndpoint(ctx)
	if err != nil {
		return err
	}
	if !ok || endpoint == "" {
		d.logger.Debug("Webhook not configured, skipping alert", zap.String("task", event.TaskName))
		return ErrWebhookNotConfigured
	}

	err = d.notifier.Send(ctx, endpoint, BuildCard(event))
	if d.observe != nil {
		d.observe(err)
	}
	if err != nil {
		return err
	}

	d.logger.Info("Alert delivered",
		zap.String("task", event.TaskName),
		zap.String("target", event.Target))
	return nil
}
