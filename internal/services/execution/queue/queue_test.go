package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid-go/pkg/logger"
)

func setupQueue(t *testing.T, cfg Config) (*Queue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, cfg, logger.NewNop()), mr
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q, _ := setupQueue(t, DefaultConfig())
	ctx := context.Background()

	job := &Job{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		TriggeredBy: "webhook",
		TriggerData: map[string]interface{}{"orderId": "ord-1"},
	}
	require.NoError(t, q.Enqueue(ctx, job))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "ord-1", got.TriggerData["orderId"])
	assert.False(t, got.EnqueuedAt.IsZero())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, _ := setupQueue(t, DefaultConfig())

	got, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q, _ := setupQueue(t, DefaultConfig())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, &Job{ExecutionID: id, WorkflowID: "wf-1"}))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got.ExecutionID)
	}
}

func TestQueue_TriggerRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerRPS = 1
	cfg.TriggerBurst = 2
	q, _ := setupQueue(t, cfg)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{ExecutionID: "1", WorkflowID: "wf-hot"}))
	require.NoError(t, q.Enqueue(ctx, &Job{ExecutionID: "2", WorkflowID: "wf-hot"}))

	err := q.Enqueue(ctx, &Job{ExecutionID: "3", WorkflowID: "wf-hot"})
	assert.ErrorIs(t, err, ErrRateLimited)

	// Limits are per workflow.
	assert.NoError(t, q.Enqueue(ctx, &Job{ExecutionID: "4", WorkflowID: "wf-cold"}))
}

func TestQueue_RequeueBypassesRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerRPS = 1
	cfg.TriggerBurst = 1
	q, _ := setupQueue(t, cfg)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{ExecutionID: "1", WorkflowID: "wf-1"}))
	assert.NoError(t, q.Requeue(ctx, &Job{ExecutionID: "1", WorkflowID: "wf-1", Attempt: 1}))
}

func TestQueue_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseBackoff = 100 * time.Millisecond
	cfg.MaxBackoff = 500 * time.Millisecond
	q, _ := setupQueue(t, cfg)

	assert.Equal(t, 100*time.Millisecond, q.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, q.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, q.Backoff(2))
	// Capped
	assert.Equal(t, 500*time.Millisecond, q.Backoff(3))
	assert.Equal(t, 500*time.Millisecond, q.Backoff(10))
}

func TestQueue_DeadLetter(t *testing.T) {
	cfg := DefaultConfig()
	q, _ := setupQueue(t, cfg)
	ctx := context.Background()

	job := &Job{ExecutionID: "exec-1", WorkflowID: "wf-1", Attempt: 3, LastError: "boom"}
	require.NoError(t, q.DeadLetter(ctx, job))

	// Dead-lettered jobs are parked on a separate list, not redelivered.
	got, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWorkerPool_RetriesThenDeadLetters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxJobAttempts = 3
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	q, _ := setupQueue(t, cfg)
	ctx := context.Background()

	var calls atomic.Int32
	dead := make(chan *Job, 1)

	handler := func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("always fails")
	}
	onDead := func(ctx context.Context, job *Job, lastErr error) {
		dead <- job
	}

	pool := NewWorkerPool(q, 1, handler, onDead, logger.NewNop())
	pool.Start(ctx)
	defer pool.Stop(context.Background())

	require.NoError(t, q.Enqueue(ctx, &Job{ExecutionID: "exec-1", WorkflowID: "wf-1"}))

	select {
	case job := <-dead:
		assert.Equal(t, "exec-1", job.ExecutionID)
		assert.Equal(t, 3, job.Attempt)
		assert.Equal(t, "always fails", job.LastError)
	case <-time.After(5 * time.Second):
		t.Fatal("job was never dead-lettered")
	}

	assert.Equal(t, int32(3), calls.Load())
}

func TestWorkerPool_SuccessfulJobRunsOnce(t *testing.T) {
	cfg := DefaultConfig()
	q, _ := setupQueue(t, cfg)
	ctx := context.Background()

	done := make(chan *Job, 1)
	handler := func(ctx context.Context, job *Job) error {
		done <- job
		return nil
	}

	pool := NewWorkerPool(q, 2, handler, nil, logger.NewNop())
	pool.Start(ctx)
	defer pool.Stop(context.Background())

	require.NoError(t, q.Enqueue(ctx, &Job{ExecutionID: "exec-1", WorkflowID: "wf-1"}))

	select {
	case job := <-done:
		assert.Equal(t, "exec-1", job.ExecutionID)
	case <-time.After(5 * time.Second):
		t.Fatal("job was never handled")
	}

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}
