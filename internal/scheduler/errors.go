package scheduler

import "errors"

var (
	// ErrSchedulerClosed is returned after Shutdown has been called
	ErrSchedulerClosed = errors.New("scheduler is shut down")

	// ErrMissingTaskID is returned when a task without id is started
	ErrMissingTaskID = errors.New("task has no id")

	// ErrNilTask is returned when no task is given
	ErrNilTask = errors.New("task is nil")
)
