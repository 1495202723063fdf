// Package repository is the engine's read-side view of workflow storage.
// Definitions are owned by the workflow-management collaborator; the
// engine only ever loads them.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/pkg/database"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

type WorkflowRepository struct {
	db *database.DB
}

func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// GetByID loads the current version of a workflow definition.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*workflow.WorkflowDefinition, error) {
	var def workflow.WorkflowDefinition
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListActive returns active definitions, used by the schedule trigger to
// find workflows with schedule nodes.
func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*workflow.WorkflowDefinition, error) {
	var defs []*workflow.WorkflowDefinition
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&defs).Error
	return defs, err
}

// Save upserts a definition. Exists for tests and seeding; the editor
// collaborator owns the write path in production.
func (r *WorkflowRepository) Save(ctx context.Context, def *workflow.WorkflowDefinition) error {
	return r.db.WithContext(ctx).Save(def).Error
}
