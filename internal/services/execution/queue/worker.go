package queue

import (
	"context"
	"sync"
	"time"

	"github.com/flowgrid-go/pkg/logger"
)

// Handler runs one job to completion. A returned error triggers job-level
// retry with backoff; this is distinct from node-level retry inside the
// run.
type Handler func(ctx context.Context, job *Job) error

// DeadHandler is invoked once a job exhausts its attempts, so the
// execution can be finalized with a queue-class error.
type DeadHandler func(ctx context.Context, job *Job, lastErr error)

// WorkerPool consumes jobs from the queue. Each worker processes one
// execution end-to-end; executions run concurrently only across workers.
type WorkerPool struct {
	queue   *Queue
	handler Handler
	onDead  DeadHandler
	workers int
	logger  logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWorkerPool(q *Queue, workers int, handler Handler, onDead DeadHandler, log logger.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		queue:   q,
		handler: handler,
		onDead:  onDead,
		workers: workers,
		logger:  log,
		stopCh:  make(chan struct{}),
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("dispatch workers started", "workers", p.workers)
}

// Stop waits for in-flight jobs to finish or the context to expire.
func (p *WorkerPool) Stop(ctx context.Context) error {
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to dequeue job", "error", err)
			select {
			case <-time.After(time.Second):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		p.process(ctx, log, job)
	}
}

// process runs the handler and applies job-level retry. A process crash
// would lose only the job this worker held; every other execution is
// isolated in its own worker loop.
func (p *WorkerPool) process(ctx context.Context, log logger.Logger, job *Job) {
	err := p.handler(ctx, job)
	if err == nil {
		return
	}

	log.Warn("job failed",
		"executionId", job.ExecutionID, "workflowId", job.WorkflowID,
		"attempt", job.Attempt+1, "error", err)

	job.Attempt++
	job.LastError = err.Error()

	if job.Attempt >= p.queue.MaxAttempts() {
		if dlErr := p.queue.DeadLetter(ctx, job); dlErr != nil {
			log.Error("failed to dead-letter job", "executionId", job.ExecutionID, "error", dlErr)
		}
		if p.onDead != nil {
			p.onDead(ctx, job, err)
		}
		return
	}

	select {
	case <-time.After(p.queue.Backoff(job.Attempt - 1)):
	case <-ctx.Done():
		return
	case <-p.stopCh:
		// Re-enqueue without waiting so the job survives shutdown.
	}

	if rqErr := p.queue.Requeue(ctx, job); rqErr != nil {
		log.Error("failed to requeue job", "executionId", job.ExecutionID, "error", rqErr)
	}
}
