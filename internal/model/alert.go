package model

import "time"

// AlertEvent is built from a failing CheckResult, delivered once and dropped
type AlertEvent struct {
	TaskName    string    `json:"task_name"`
	Kind        TaskKind  `json:"kind"`
	Target      string    `json:"target"`
	ErrorDetail string    `json:"error_detail"`
	Output      string    `json:"output,omitempty"`
	Attempts    int       `json:"attempts"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewAlertEvent derives the alert for a failed check of task
func NewAlertEvent(task *Task, result CheckResult) AlertEvent {
	event := AlertEvent{
		TaskName:    task.Name,
		Kind:        task.Kind(),
		ErrorDetail: result.ErrorDetail,
		Output:      result.Output,
		Attempts:    result.Attempts,
		OccurredAt:  result.Timestamp,
	}
	if task.Target != nil {
		event.Target = task.Target.Address()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	return event
}
