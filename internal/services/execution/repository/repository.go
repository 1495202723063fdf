package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/pkg/database"
)

// ExecutionRepository is the durable store for executions and their
// append-only logs. Writes for one execution id flow through one worker at
// a time; UpdateStatus runs its read-check-write inside a transaction so a
// concurrent cancel request cannot clobber a terminal status.
type ExecutionRepository struct {
	db *database.DB
}

func NewExecutionRepository(db *database.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *workflow.Execution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(execution).Error
}

// UpdateStatus transitions the execution's status. Entering running sets
// startedAt; entering a terminal status sets completedAt exactly once.
// Re-applying the current terminal status is a no-op; any other write to a
// terminal execution is rejected.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id string, status workflow.ExecutionStatus, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var execution workflow.Execution
		if err := tx.Where("id = ?", id).
			First(&execution).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("execution %s not found", id)
			}
			return err
		}

		if execution.Status.IsTerminal() {
			if execution.Status == status {
				return nil
			}
			return fmt.Errorf("execution %s is already %s", id, execution.Status)
		}

		updates := map[string]interface{}{"status": status}
		if errMsg != "" {
			updates["error"] = errMsg
		}

		now := time.Now()
		switch {
		case status == workflow.ExecutionRunning && execution.StartedAt.IsZero():
			updates["started_at"] = now
		case status.IsTerminal() && execution.CompletedAt == nil:
			updates["completed_at"] = &now
		}

		return tx.Model(&workflow.Execution{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
}

// AppendLog appends one log entry. Prior entries are never mutated or
// deleted; the log history is the audit trail.
func (r *ExecutionRepository) AppendLog(ctx context.Context, log *workflow.ExecutionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// SaveContext persists the accumulated node outputs and the node the walk
// is currently at.
func (r *ExecutionRepository) SaveContext(ctx context.Context, id string, snapshot map[string]interface{}, currentNode string) error {
	// Struct-based update so the json serializer applies to the context
	// column.
	return r.db.WithContext(ctx).Model(&workflow.Execution{}).
		Where("id = ?", id).
		Updates(&workflow.Execution{Context: snapshot, CurrentNode: currentNode}).Error
}

// SaveMetrics records the final node counters for an execution.
func (r *ExecutionRepository) SaveMetrics(ctx context.Context, id string, m workflow.ExecutionMetrics) error {
	return r.db.WithContext(ctx).Model(&workflow.Execution{}).
		Where("id = ?", id).
		Updates(&workflow.Execution{Metrics: m}).Error
}

// GetExecution loads an execution with its logs ordered by timestamp
// ascending. An unknown id returns (nil, nil) so callers can 404.
func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	var execution workflow.Execution
	err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC")
		}).
		Where("id = ?", id).
		First(&execution).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// Cancel marks the execution cancelled and appends an informational log.
// Cancellation is cooperative: an in-flight node call is not interrupted,
// the walk observes the status at the next node boundary.
func (r *ExecutionRepository) Cancel(ctx context.Context, id string) error {
	if err := r.UpdateStatus(ctx, id, workflow.ExecutionCancelled, ""); err != nil {
		return err
	}
	log := workflow.NewExecutionLog(id, "", workflow.LogLevelInfo, "execution cancelled", nil, 0)
	return r.AppendLog(ctx, log)
}

// GetStatus returns just the current status, used by the cooperative
// cancellation check between nodes.
func (r *ExecutionRepository) GetStatus(ctx context.Context, id string) (workflow.ExecutionStatus, error) {
	var execution workflow.Execution
	err := r.db.WithContext(ctx).
		Select("status").
		Where("id = ?", id).
		First(&execution).Error
	if err != nil {
		return "", err
	}
	return execution.Status, nil
}

// ExecutionFilter narrows List results.
type ExecutionFilter struct {
	WorkflowID    string
	Status        workflow.ExecutionStatus
	TriggeredBy   string
	StartedAfter  time.Time
	StartedBefore time.Time
}

func (r *ExecutionRepository) List(ctx context.Context, filter ExecutionFilter, pagination *database.Pagination) ([]*workflow.Execution, error) {
	query := r.db.WithContext(ctx).Model(&workflow.Execution{})

	if filter.WorkflowID != "" {
		query = query.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TriggeredBy != "" {
		query = query.Where("triggered_by = ?", filter.TriggeredBy)
	}
	if !filter.StartedAfter.IsZero() {
		query = query.Where("started_at >= ?", filter.StartedAfter)
	}
	if !filter.StartedBefore.IsZero() {
		query = query.Where("started_at <= ?", filter.StartedBefore)
	}

	var executions []*workflow.Execution
	err := r.db.Paginate(ctx, &executions, pagination, query)
	return executions, err
}

// CleanupOldExecutions deletes executions past the retention window. Logs
// cascade with their execution.
func (r *ExecutionRepository) CleanupOldExecutions(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&workflow.Execution{}).
			Where("created_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("execution_id IN ?", ids).
			Delete(&workflow.ExecutionLog{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).
			Delete(&workflow.Execution{}).Error
	})
}
