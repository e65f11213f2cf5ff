package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/t77yq/port-monitor/internal/model"
)

var errUnknownKind = errors.New(`kind must be "port" or "script"`)

// taskRequest is the flat create/update payload
type taskRequest struct {
	Name          string             `json:"name"`
	Kind          model.TaskKind     `json:"kind"`
	Host          string             `json:"host"`
	Port          int                `json:"port"`
	Username      string             `json:"username"`
	Secret        string             `json:"secret"`
	Command       string             `json:"command"`
	IntervalValue int                `json:"interval_value"`
	IntervalUnit  model.IntervalUnit `json:"interval_unit"`
}

func (r taskRequest) toTask() (*model.Task, error) {
	task := &model.Task{
		Name:     strings.TrimSpace(r.Name),
		Interval: model.Interval{Value: r.IntervalValue, Unit: r.IntervalUnit},
	}

	switch r.Kind {
	case model.TaskKindPort, "":
		task.Target = model.PortTarget{Host: strings.TrimSpace(r.Host), Port: r.Port}
	case model.TaskKindScript:
		task.Target = model.ScriptTarget{
			Host:        strings.TrimSpace(r.Host),
			Port:        r.Port,
			Credentials: model.Credentials{Username: r.Username, Secret: r.Secret},
			Command:     r.Command,
		}
	default:
		return nil, errUnknownKind
	}

	if task.Name == "" {
		return nil, errors.New("name is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// taskResponse never carries the secret
type taskResponse struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Kind          model.TaskKind     `json:"kind"`
	Host          string             `json:"host"`
	Port          int                `json:"port"`
	Username      string             `json:"username,omitempty"`
	Command       string             `json:"command,omitempty"`
	IntervalValue int                `json:"interval_value"`
	IntervalUnit  model.IntervalUnit `json:"interval_unit"`
	RunState      model.RunState     `json:"status"`
	NextRun       *time.Time         `json:"next_run,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func newTaskResponse(task *model.Task) taskResponse {
	resp := taskResponse{
		ID:            task.ID,
		Name:          task.Name,
		Kind:          task.Kind(),
		IntervalValue: task.Interval.Value,
		IntervalUnit:  task.Interval.Unit,
		RunState:      task.RunState,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}
	switch target := task.Target.(type) {
	case model.PortTarget:
		resp.Host, resp.Port = target.Host, target.Port
	case model.ScriptTarget:
		resp.Host, resp.Port = target.Host, target.Port
		if resp.Port == 0 {
			resp.Port = model.DefaultSSHPort
		}
		resp.Username = target.Credentials.Username
		resp.Command = target.Command
	}
	return resp
}

type webhookRequest struct {
	WebhookURL string `json:"webhook_url"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
