// Package service implements the engine's boundary operations: trigger a
// workflow, run a dispatched job, query and cancel executions.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/internal/engine/runctx"
	"github.com/flowgrid-go/internal/engine/scheduler"
	executionrepo "github.com/flowgrid-go/internal/services/execution/repository"
	"github.com/flowgrid-go/internal/services/execution/queue"
	workflowrepo "github.com/flowgrid-go/internal/services/workflow/repository"
	"github.com/flowgrid-go/pkg/database"
	"github.com/flowgrid-go/pkg/events"
	"github.com/flowgrid-go/pkg/logger"
	"github.com/flowgrid-go/pkg/metrics"
)

var tracer = otel.Tracer("flowgrid/engine/execution")

type ExecutionService struct {
	executions *executionrepo.ExecutionRepository
	workflows  *workflowrepo.WorkflowRepository
	queue      *queue.Queue
	scheduler  *scheduler.Scheduler
	events     events.EventBus
	logger     logger.Logger
}

func NewExecutionService(
	executions *executionrepo.ExecutionRepository,
	workflows *workflowrepo.WorkflowRepository,
	q *queue.Queue,
	sched *scheduler.Scheduler,
	bus events.EventBus,
	log logger.Logger,
) *ExecutionService {
	return &ExecutionService{
		executions: executions,
		workflows:  workflows,
		queue:      q,
		scheduler:  sched,
		events:     bus,
		logger:     log,
	}
}

// TriggerWorkflow validates the graph, creates a pending execution and
// enqueues a dispatch job. It never executes the graph synchronously;
// validation errors are the only failures surfaced to the trigger caller.
func (s *ExecutionService) TriggerWorkflow(ctx context.Context, workflowID, triggeredBy string, triggerData map[string]interface{}) (string, error) {
	def, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if v := s.scheduler.Validate(def); !v.Valid {
		return "", fmt.Errorf("workflow %s failed validation: %s", workflowID, strings.Join(v.Errors, "; "))
	}

	execution := workflow.NewExecution(workflowID, def.Version, triggeredBy, triggerData)
	if err := s.executions.Create(ctx, execution); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	job := &queue.Job{
		ExecutionID: execution.ID,
		WorkflowID:  workflowID,
		TriggeredBy: triggeredBy,
		TriggerData: triggerData,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if updateErr := s.executions.UpdateStatus(ctx, execution.ID, workflow.ExecutionFailed, err.Error()); updateErr != nil {
			s.logger.Error("failed to fail unqueued execution",
				"executionId", execution.ID, "error", updateErr)
		}
		return "", fmt.Errorf("failed to enqueue execution: %w", err)
	}

	s.publish(ctx, events.NewEvent(events.ExecutionQueued, execution.ID, workflowID, nil))

	s.logger.Info("workflow triggered",
		"workflowId", workflowID, "executionId", execution.ID, "triggeredBy", triggeredBy)
	return execution.ID, nil
}

// HandleJob drives one dispatched execution to a terminal status. Returned
// errors are infrastructure failures and trigger job-level retry; a run
// that finishes failed is already finalized and returns nil.
func (s *ExecutionService) HandleJob(ctx context.Context, job *queue.Job) error {
	status, err := s.executions.GetStatus(ctx, job.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", job.ExecutionID, err)
	}
	// Redelivered or cancelled-before-start jobs are dropped here.
	if status.IsTerminal() {
		return nil
	}

	def, err := s.workflows.GetByID(ctx, job.WorkflowID)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "execution:"+job.ExecutionID,
		trace.WithAttributes(
			attribute.String("execution.id", job.ExecutionID),
			attribute.String("workflow.id", job.WorkflowID),
			attribute.String("triggered.by", job.TriggeredBy),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if err := s.executions.UpdateStatus(ctx, job.ExecutionID, workflow.ExecutionRunning, ""); err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}
	s.publish(ctx, events.NewEvent(events.ExecutionStarted, job.ExecutionID, job.WorkflowID, nil))

	store := runctx.NewStore(job.ExecutionID, job.TriggerData, s.executions, s.logger)
	started := time.Now()

	result := s.scheduler.Run(ctx, def, scheduler.RunOptions{
		ExecutionID: job.ExecutionID,
		TriggerData: job.TriggerData,
		Store:       store,
		Cancelled:   s.cancelledCheck(job.ExecutionID),
	})

	if err := s.executions.SaveMetrics(ctx, job.ExecutionID, result.Metrics); err != nil {
		s.logger.Error("failed to persist execution metrics",
			"executionId", job.ExecutionID, "error", err)
	}

	// A failed final status write must not be swallowed: leave the record
	// running for reconciliation and let the job retry finalization.
	if err := s.executions.UpdateStatus(ctx, job.ExecutionID, result.Status, result.Error); err != nil {
		s.logger.Error("failed to finalize execution status",
			"executionId", job.ExecutionID, "status", result.Status, "error", err)
		return fmt.Errorf("failed to finalize execution %s: %w", job.ExecutionID, err)
	}

	span.SetAttributes(attribute.String("execution.status", string(result.Status)))
	if result.Status == workflow.ExecutionFailed {
		span.SetStatus(codes.Error, result.Error)
	}

	duration := time.Since(started)
	metrics.ExecutionsTotal.WithLabelValues(job.WorkflowID, string(result.Status), job.TriggeredBy).Inc()
	metrics.ExecutionDuration.WithLabelValues(job.WorkflowID).Observe(duration.Seconds())

	eventType := events.ExecutionCompleted
	switch result.Status {
	case workflow.ExecutionFailed:
		eventType = events.ExecutionFailed
	case workflow.ExecutionCancelled:
		eventType = events.ExecutionCancelled
	}
	s.publish(ctx, events.NewEvent(eventType, job.ExecutionID, job.WorkflowID,
		map[string]interface{}{"error": result.Error}))

	s.logger.Info("execution finished",
		"executionId", job.ExecutionID, "status", result.Status, "duration", duration)
	return nil
}

// HandleDeadJob finalizes an execution whose job exhausted its retries.
// The error class is the queue's, distinct from node failures.
func (s *ExecutionService) HandleDeadJob(ctx context.Context, job *queue.Job, lastErr error) {
	errMsg := fmt.Sprintf("%v: %v", workflow.ErrJobExhausted, lastErr)

	if err := s.executions.UpdateStatus(ctx, job.ExecutionID, workflow.ExecutionFailed, errMsg); err != nil {
		s.logger.Error("failed to finalize dead job",
			"executionId", job.ExecutionID, "error", err)
		return
	}
	log := workflow.NewExecutionLog(job.ExecutionID, "", workflow.LogLevelError, errMsg,
		map[string]interface{}{"attempts": job.Attempt}, 0)
	if err := s.executions.AppendLog(ctx, log); err != nil {
		s.logger.Error("failed to log dead job", "executionId", job.ExecutionID, "error", err)
	}

	s.publish(ctx, events.NewEvent(events.ExecutionFailed, job.ExecutionID, job.WorkflowID,
		map[string]interface{}{"error": errMsg}))
}

// GetExecution returns the execution with its ordered logs, or nil for an
// unknown id.
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	return s.executions.GetExecution(ctx, id)
}

// CancelExecution requests cooperative cancellation. The walk observes it
// at the next node boundary.
func (s *ExecutionService) CancelExecution(ctx context.Context, id string) error {
	if err := s.executions.Cancel(ctx, id); err != nil {
		return err
	}

	execution, err := s.executions.GetExecution(ctx, id)
	if err == nil && execution != nil {
		s.publish(ctx, events.NewEvent(events.ExecutionCancelled, id, execution.WorkflowID, nil))
	}
	return nil
}

func (s *ExecutionService) ListExecutions(ctx context.Context, filter executionrepo.ExecutionFilter, pagination *database.Pagination) ([]*workflow.Execution, error) {
	return s.executions.List(ctx, filter, pagination)
}

func (s *ExecutionService) cancelledCheck(executionID string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		status, err := s.executions.GetStatus(ctx, executionID)
		if err != nil {
			return false
		}
		return status == workflow.ExecutionCancelled
	}
}

func (s *ExecutionService) publish(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "type", event.Type, "error", err)
	}
}
