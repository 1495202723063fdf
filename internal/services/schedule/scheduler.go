// Package schedule fires workflows whose trigger node carries a cron
// expression. Entries are reconciled against the active workflow set on a
// fixed interval, so edits and deactivations are picked up without a
// restart.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/internal/services/workflow/repository"
	"github.com/flowgrid-go/pkg/logger"
)

// Triggerer starts an execution for a workflow. Satisfied by the execution
// service.
type Triggerer interface {
	TriggerWorkflow(ctx context.Context, workflowID, triggeredBy string, triggerData map[string]interface{}) (string, error)
}

type Scheduler struct {
	workflows *repository.WorkflowRepository
	triggerer Triggerer
	logger    logger.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]scheduleEntry

	refreshEvery time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

type scheduleEntry struct {
	id   cron.EntryID
	expr string
}

func New(workflows *repository.WorkflowRepository, triggerer Triggerer, log logger.Logger) *Scheduler {
	return &Scheduler{
		workflows:    workflows,
		triggerer:    triggerer,
		logger:       log,
		cron:         cron.New(cron.WithSeconds()),
		entries:      make(map[string]scheduleEntry),
		refreshEvery: time.Minute,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if err := s.refresh(ctx); err != nil {
		s.logger.Error("failed to load scheduled workflows", "error", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.refreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.refresh(ctx); err != nil {
					s.logger.Error("failed to refresh scheduled workflows", "error", err)
				}
			}
		}
	}()
}

// Stop halts the refresh loop and waits for in-flight cron jobs.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refresh(ctx context.Context) error {
	defs, err := s.workflows.ListActive(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		expr := scheduleExpression(def)
		if expr == "" {
			continue
		}
		seen[def.ID] = true

		if entry, ok := s.entries[def.ID]; ok {
			if entry.expr == expr {
				continue
			}
			s.cron.Remove(entry.id)
		}

		workflowID := def.ID
		id, err := s.cron.AddFunc(expr, func() { s.fire(workflowID) })
		if err != nil {
			s.logger.Warn("invalid cron expression",
				"workflowId", def.ID, "expression", expr, "error", err)
			delete(s.entries, def.ID)
			continue
		}
		s.entries[def.ID] = scheduleEntry{id: id, expr: expr}
		s.logger.Info("workflow scheduled", "workflowId", def.ID, "expression", expr)
	}

	// Drop entries for workflows that were deactivated or lost their
	// schedule trigger.
	for workflowID, entry := range s.entries {
		if !seen[workflowID] {
			s.cron.Remove(entry.id)
			delete(s.entries, workflowID)
			s.logger.Info("workflow unscheduled", "workflowId", workflowID)
		}
	}
	return nil
}

func (s *Scheduler) fire(workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executionID, err := s.triggerer.TriggerWorkflow(ctx, workflowID, "schedule", map[string]interface{}{
		"firedAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("scheduled trigger failed", "workflowId", workflowID, "error", err)
		return
	}
	s.logger.Info("scheduled trigger fired",
		"workflowId", workflowID, "executionId", executionID)
}

func scheduleExpression(def *workflow.WorkflowDefinition) string {
	for _, node := range def.Nodes {
		if node.Type != workflow.NodeTypeSchedule {
			continue
		}
		if expr, ok := node.Config["cron"].(string); ok {
			return expr
		}
	}
	return ""
}
