package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobagent/orchestrator/internal/domain"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Config{PollInterval: 10 * time.Millisecond})
}

func TestBroker_PublishConsume_RoundTrip(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	payload := domain.NewJobApplicationTask(domain.JobApplicationPayload{
		JobID:         "j1",
		ApplicationID: 1,
		UserData:      domain.UserData{Name: "Ada", Email: "ada@example.com"},
	})

	taskID, err := b.Publish(ctx, domain.QueueJobApplication, payload, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := b.Consume(ctx, domain.QueueJobApplication, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, domain.QueueJobApplication, task.Type)
	assert.Equal(t, "j1", task.Payload.JobApplication.JobID)
}

func TestBroker_Consume_NonBlockingReturnsNilWhenEmpty(t *testing.T) {
	b := newTestBroker(t)
	task, err := b.Consume(context.Background(), domain.QueueJobApplication, 0)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestBroker_Publish_RejectsUnknownQueue(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Publish(context.Background(), domain.QueueName("bogus"), domain.TaskPayload{}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestBroker_Priority_HigherDequeuesFirst(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	low := domain.NewJobApplicationTask(domain.JobApplicationPayload{JobID: "low"})
	high := domain.NewJobApplicationTask(domain.JobApplicationPayload{JobID: "high"})

	_, err := b.Publish(ctx, domain.QueueJobApplication, low, 0)
	require.NoError(t, err)
	_, err = b.Publish(ctx, domain.QueueJobApplication, high, 10)
	require.NoError(t, err)

	task, err := b.Consume(ctx, domain.QueueJobApplication, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "high", task.Payload.JobApplication.JobID)
}

func TestBroker_FIFO_WithinSamePriority(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	first := domain.NewJobApplicationTask(domain.JobApplicationPayload{JobID: "first"})
	second := domain.NewJobApplicationTask(domain.JobApplicationPayload{JobID: "second"})

	_, err := b.Publish(ctx, domain.QueueJobApplication, first, 0)
	require.NoError(t, err)
	_, err = b.Publish(ctx, domain.QueueJobApplication, second, 0)
	require.NoError(t, err)

	task1, err := b.Consume(ctx, domain.QueueJobApplication, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task1)
	assert.Equal(t, "first", task1.Payload.JobApplication.JobID)

	task2, err := b.Consume(ctx, domain.QueueJobApplication, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task2)
	assert.Equal(t, "second", task2.Payload.JobApplication.JobID)
}

func TestBroker_PublishResult_TTLStored(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.PublishResult(ctx, "task-1", []byte(`{"ok":true}`)))

	val, err := b.rdb.Get(ctx, resultKey("task-1")).Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, val)
}

func TestBroker_Heartbeat_LastHeartbeat(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, ok, err := b.LastHeartbeat(ctx, "automation")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Heartbeat(ctx, "automation", []byte(`{"status":"ok"}`)))

	payload, ok, err := b.LastHeartbeat(ctx, "automation")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"status":"ok"}`, string(payload))
}

func TestBroker_Stat_ReportsDepth(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	depth, err := b.Stat(ctx, domain.QueueJobApplication)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	_, err = b.Publish(ctx, domain.QueueJobApplication, domain.NewJobApplicationTask(domain.JobApplicationPayload{JobID: "x"}), 0)
	require.NoError(t, err)

	depth, err = b.Stat(ctx, domain.QueueJobApplication)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}
