// Package queue decouples "workflow triggered" from "workflow executed": a
// redis-backed job list consumed by a worker pool, with job-level retry,
// a dead-letter list and per-workflow trigger rate limiting.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/flowgrid-go/pkg/logger"
	"github.com/flowgrid-go/pkg/metrics"
)

const (
	defaultQueueKey      = "flowgrid:queue:executions"
	defaultDeadLetterKey = "flowgrid:queue:dead"
)

// ErrRateLimited is returned when a workflow exceeds its trigger budget.
var ErrRateLimited = errors.New("trigger rate limit exceeded for workflow")

// Job is one unit of dispatch work: run this execution of this workflow.
type Job struct {
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId"`
	TriggeredBy string                 `json:"triggeredBy"`
	TriggerData map[string]interface{} `json:"triggerData"`
	Attempt     int                    `json:"attempt"`
	EnqueuedAt  time.Time              `json:"enqueuedAt"`
	LastError   string                 `json:"lastError,omitempty"`
}

type Config struct {
	QueueKey       string
	DeadLetterKey  string
	MaxJobAttempts int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	TriggerRPS     int
	TriggerBurst   int
}

func DefaultConfig() Config {
	return Config{
		QueueKey:       defaultQueueKey,
		DeadLetterKey:  defaultDeadLetterKey,
		MaxJobAttempts: 3,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		TriggerRPS:     50,
		TriggerBurst:   100,
	}
}

// Queue is the redis list transport. Delivery is at-least-once: a job is
// re-enqueued on failure until its attempt budget runs out, then parked on
// the dead-letter list.
type Queue struct {
	client *redis.Client
	cfg    Config
	logger logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(client *redis.Client, cfg Config, log logger.Logger) *Queue {
	if cfg.QueueKey == "" {
		cfg.QueueKey = defaultQueueKey
	}
	if cfg.DeadLetterKey == "" {
		cfg.DeadLetterKey = defaultDeadLetterKey
	}
	if cfg.MaxJobAttempts < 1 {
		cfg.MaxJobAttempts = 3
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &Queue{
		client:   client,
		cfg:      cfg,
		logger:   log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enqueue pushes a fresh job after checking the workflow's trigger rate.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if q.cfg.TriggerRPS > 0 && !q.limiter(job.WorkflowID).Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, job.WorkflowID)
	}

	job.EnqueuedAt = time.Now()
	return q.push(ctx, q.cfg.QueueKey, job)
}

// Requeue pushes a failed job back for another attempt. Retries bypass the
// trigger rate limiter.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	metrics.QueueJobRetriesTotal.Inc()
	return q.push(ctx, q.cfg.QueueKey, job)
}

// DeadLetter parks a job that exhausted its attempts.
func (q *Queue) DeadLetter(ctx context.Context, job *Job) error {
	metrics.QueueDeadLetterTotal.Inc()
	return q.push(ctx, q.cfg.DeadLetterKey, job)
}

// Dequeue blocks up to timeout for the next job. Returns (nil, nil) when
// the wait times out with nothing to do.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, q.cfg.QueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(result))
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("corrupt job payload: %w", err)
	}

	q.observeDepth(ctx)
	return &job, nil
}

// Depth returns the number of waiting jobs.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.cfg.QueueKey).Result()
}

// Backoff returns the delay before re-dispatching the given attempt:
// exponential, doubling per attempt, capped.
func (q *Queue) Backoff(attempt int) time.Duration {
	delay := q.cfg.BaseBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	return delay
}

func (q *Queue) MaxAttempts() int {
	return q.cfg.MaxJobAttempts
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, key, payload).Err(); err != nil {
		return err
	}
	q.observeDepth(ctx)
	return nil
}

func (q *Queue) observeDepth(ctx context.Context) {
	if depth, err := q.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}

func (q *Queue) limiter(workflowID string) *rate.Limiter {
	q.mu.Lock()
	defer q.mu.Unlock()

	limiter, ok := q.limiters[workflowID]
	if !ok {
		burst := q.cfg.TriggerBurst
		if burst < 1 {
			burst = q.cfg.TriggerRPS
		}
		limiter = rate.NewLimiter(rate.Limit(q.cfg.TriggerRPS), burst)
		q.limiters[workflowID] = limiter
	}
	return limiter
}
