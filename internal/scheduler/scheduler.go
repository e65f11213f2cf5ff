package scheduler

import (
	"context"

	"github.com/t77yq/port-monitor/internal/model"
)

// TaskSource loads persisted tasks
type TaskSource interface {
	// LoadTask returns model.ErrTaskNotFound for an unknown id
	LoadTask(ctx context.Context, id string) (*model.Task, error)

	// ListRunningTasks returns every task persisted with RunStateRunning
	ListRunningTasks(ctx context.Context) ([]*model.Task, error)
}

// LogAppender records check results
type LogAppender interface {
	AppendLog(ctx context.Context, result model.CheckResult) error
}

// Notifier delivers alerts for failed results. It must not return errors to
// the caller; delivery problems are its own to log.
type Notifier interface {
	NotifyFailure(ctx context.Context, task *model.Task, result model.CheckResult)
}

// Checker evaluates a task once
type Checker interface {
	Check(ctx context.Context, task *model.Task) model.CheckResult
}

// Deps are the collaborators of a Scheduler
type Deps struct {
	Tasks   TaskSource
	Log     LogAppender
	Checker Checker
	Alerts  Notifier
}

// Counters are cumulative since the scheduler was created
type Counters struct {
	ChecksTotal  uint64
	ChecksFailed uint64
	TicksSkipped uint64
}
