package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(zap.NewNop(), filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func portTask(name string) *model.Task {
	return &model.Task{
		Name:     name,
		Target:   model.PortTarget{Host: "10.0.0.1", Port: 5432},
		Interval: model.Interval{Value: 30, Unit: model.UnitSeconds},
	}
}

func TestSQLiteStore_TaskLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task := portTask("db")
	require.NoError(t, store.CreateTask(ctx, task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.RunStateStopped, task.RunState)

	loaded, err := store.LoadTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "db", loaded.Name)
	assert.Equal(t, model.PortTarget{Host: "10.0.0.1", Port: 5432}, loaded.Target)
	assert.Equal(t, task.Interval, loaded.Interval)

	require.NoError(t, store.SetRunState(ctx, task.ID, model.RunStateRunning))
	running, err := store.ListRunningTasks(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, task.ID, running[0].ID)

	loaded.Name = "orders-db"
	loaded.Interval = model.Interval{Value: 5, Unit: model.UnitMinutes}
	require.NoError(t, store.UpdateTask(ctx, loaded))

	updated, err := store.LoadTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders-db", updated.Name)
	assert.Equal(t, model.RunStateStopped, updated.RunState, "editing stops the task")
	assert.Equal(t, model.UnitMinutes, updated.Interval.Unit)

	running, err = store.ListRunningTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestSQLiteStore_ScriptTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task := &model.Task{
		Name: "nginx",
		Target: model.ScriptTarget{
			Host:        "10.0.0.2",
			Port:        2222,
			Credentials: model.Credentials{Username: "ops", Secret: "pw"},
			Command:     "systemctl is-active nginx",
		},
		Interval: model.Interval{Value: 1, Unit: model.UnitHours},
	}
	require.NoError(t, store.CreateTask(ctx, task))

	loaded, err := store.LoadTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Target, loaded.Target)
	assert.Equal(t, model.TaskKindScript, loaded.Kind())
}

func TestSQLiteStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.LoadTask(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrTaskNotFound)

	missing := portTask("x")
	missing.ID = "missing"
	assert.ErrorIs(t, store.UpdateTask(ctx, missing), model.ErrTaskNotFound)
	assert.ErrorIs(t, store.SetRunState(ctx, "missing", model.RunStateRunning), model.ErrTaskNotFound)
	assert.ErrorIs(t, store.DeleteTask(ctx, "missing"), model.ErrTaskNotFound)
}

func TestSQLiteStore_Logs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task := portTask("db")
	require.NoError(t, store.CreateTask(ctx, task))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		r := model.CheckResult{
			TaskID:    task.ID,
			Kind:      model.TaskKindPort,
			Outcome:   model.OutcomeSuccess,
			Attempts:  1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		r.ResponseTimeMs = model.Millis(time.Duration(i+1) * time.Millisecond)
		if i == 4 {
			r.Outcome = model.OutcomeFailed
			r.ResponseTimeMs = nil
			r.ErrorDetail = "Connection timeout (failed after 3 retries)"
			r.Attempts = 4
		}
		require.NoError(t, store.AppendLog(ctx, r))
	}

	logs, err := store.ListLogs(ctx, task.ID, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, model.OutcomeFailed, logs[0].Outcome)
	assert.Equal(t, 4, logs[0].Attempts)
	assert.Nil(t, logs[0].ResponseTimeMs)
	assert.Equal(t, "Connection timeout (failed after 3 retries)", logs[0].ErrorDetail)
	require.NotNil(t, logs[1].ResponseTimeMs)
	assert.Equal(t, int64(4), *logs[1].ResponseTimeMs)
	assert.True(t, logs[1].Timestamp.After(logs[2].Timestamp))

	all, err := store.ListLogs(ctx, task.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	deleted, err := store.DeleteLogsBefore(ctx, base.Add(150*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	require.NoError(t, store.DeleteTask(ctx, task.ID))
	all, err = store.ListLogs(ctx, task.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteStore_WebhookLatestWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.GetWebhookEndpoint(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.SaveWebhookEndpoint(ctx, "https://open.feishu.cn/hook/a")
	require.NoError(t, err)
	second, err := store.SaveWebhookEndpoint(ctx, "https://open.feishu.cn/hook/b")
	require.NoError(t, err)

	url, ok, err := store.GetWebhookEndpoint(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://open.feishu.cn/hook/b", url)

	latest, err := store.LatestWebhookConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "monitor.db")

	store, err := NewSQLiteStore(zap.NewNop(), path)
	require.NoError(t, err)
	task := portTask("db")
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(zap.NewNop(), path)
	require.NoError(t, err)
	defer store.Close()

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
}
