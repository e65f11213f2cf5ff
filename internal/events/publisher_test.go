package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
	"github.com/t77yq/port-monitor/internal/testutil"
)

func sampleResult(taskID string) model.CheckResult {
	return model.CheckResult{
		ID:          "r-" + taskID,
		TaskID:      taskID,
		Kind:        model.TaskKindPort,
		Outcome:     model.OutcomeFailed,
		ErrorDetail: "Connection timeout (failed after 3 retries)",
		Attempts:    4,
		Timestamp:   time.Now(),
	}
}

func TestPublisher(t *testing.T) {
	js := testutil.SetupJetStream(t)
	pub := NewPublisher(js, zap.NewNop(), time.Hour)

	t.Run("Ensure Stream", func(t *testing.T) {
		require.NoError(t, pub.EnsureStream())
		require.NoError(t, testutil.WaitForStream(t, js, ResultStreamName, 5*time.Second))

		stream, err := js.StreamInfo(ResultStreamName)
		require.NoError(t, err)
		assert.Equal(t, []string{"check.result.*"}, stream.Config.Subjects)
		assert.Equal(t, time.Hour, stream.Config.MaxAge)

		// second call reuses the stream
		require.NoError(t, pub.EnsureStream())
	})

	t.Run("Publish", func(t *testing.T) {
		var mu sync.Mutex
		var got []model.CheckResult
		sub, err := js.Subscribe(ResultSubject("task-a"), func(msg *nats.Msg) {
			var r model.CheckResult
			assert.NoError(t, json.Unmarshal(msg.Data, &r))
			mu.Lock()
			defer mu.Unlock()
			got = append(got, r)
		}, nats.DeliverNew())
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.NoError(t, pub.Publish(context.Background(), sampleResult("task-b")))
		require.NoError(t, pub.Publish(context.Background(), sampleResult("task-a")))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, pub.Wait(ctx))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		}, 5*time.Second, 20*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "task-a", got[0].TaskID)
		assert.Equal(t, 4, got[0].Attempts)
		assert.Equal(t, model.OutcomeFailed, got[0].Outcome)
	})

	t.Run("Stream Keeps Results", func(t *testing.T) {
		stream, err := js.StreamInfo(ResultStreamName)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), stream.State.Msgs)
	})

	t.Run("Canceled Context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, pub.Publish(ctx, sampleResult("task-c")), context.Canceled)
	})
}

func TestResultSubject(t *testing.T) {
	assert.Equal(t, "check.result.abc", ResultSubject("abc"))
}

type memLog struct {
	results []model.CheckResult
	err     error
}

func (m *memLog) AppendLog(_ context.Context, r model.CheckResult) error {
	if m.err != nil {
		return m.err
	}
	m.results = append(m.results, r)
	return nil
}

type fakePublisher struct {
	published []model.CheckResult
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, r model.CheckResult) error {
	f.published = append(f.published, r)
	return f.err
}

func TestRecordingSink(t *testing.T) {
	t.Run("Appends Then Publishes", func(t *testing.T) {
		log, pub := &memLog{}, &fakePublisher{}
		sink := NewRecordingSink(log, pub, zap.NewNop())

		require.NoError(t, sink.AppendLog(context.Background(), sampleResult("t1")))
		assert.Len(t, log.results, 1)
		assert.Len(t, pub.published, 1)
	})

	t.Run("Publish Failure Is Not Fatal", func(t *testing.T) {
		log, pub := &memLog{}, &fakePublisher{err: errors.New("no responders")}
		sink := NewRecordingSink(log, pub, zap.NewNop())

		require.NoError(t, sink.AppendLog(context.Background(), sampleResult("t1")))
		assert.Len(t, log.results, 1)
	})

	t.Run("Log Failure Skips Publish", func(t *testing.T) {
		log, pub := &memLog{err: errors.New("disk full")}, &fakePublisher{}
		sink := NewRecordingSink(log, pub, zap.NewNop())

		assert.EqualError(t, sink.AppendLog(context.Background(), sampleResult("t1")), "disk full")
		assert.Empty(t, pub.published)
	})

	t.Run("Without Publisher", func(t *testing.T) {
		log := &memLog{}
		sink := NewRecordingSink(log, nil, zap.NewNop())
		require.NoError(t, sink.AppendLog(context.Background(), sampleResult("t1")))
		assert.Len(t, log.results, 1)
	})
}

type stallingPublisher struct {
	ctxErr error
}

func (p *stallingPublisher) Publish(ctx context.Context, _ model.CheckResult) error {
	<-ctx.Done()
	p.ctxErr = ctx.Err()
	return ctx.Err()
}

func TestRecordingSink_StalledPublisherIsBounded(t *testing.T) {
	log, pub := &memLog{}, &stallingPublisher{}
	sink := NewRecordingSink(log, pub, zap.NewNop(), WithPublishTimeout(50*time.Millisecond))

	start := time.Now()
	require.NoError(t, sink.AppendLog(context.Background(), sampleResult("t1")))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, log.results, 1)
	assert.ErrorIs(t, pub.ctxErr, context.DeadlineExceeded)
}

func TestRecordingSink_NATSDown(t *testing.T) {
	srv, js := testutil.StartJetStream(t)
	pub := NewPublisher(js, zap.NewNop(), time.Hour)
	require.NoError(t, pub.EnsureStream())
	srv.Shutdown()

	log := &memLog{}
	sink := NewRecordingSink(log, pub, zap.NewNop())

	start := time.Now()
	require.NoError(t, sink.AppendLog(context.Background(), sampleResult("t1")))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, log.results, 1)
}
