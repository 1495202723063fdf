// Package runctx holds the mutable, append-only record of one execution:
// per-node outputs and logs, flushed incrementally through a persistence
// sink. A Store is owned by exactly one run and never shared across
// concurrent executions.
package runctx

import (
	"context"
	"sync"
	"time"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/pkg/logger"
)

// TriggerKey is the context key the trigger payload is recorded under, so
// templates can reference {{trigger.field}}.
const TriggerKey = "trigger"

// Sink receives incremental writes as a run progresses. Sink failures must
// not fail the run; they are reported out-of-band and the run continues.
type Sink interface {
	AppendLog(ctx context.Context, log *workflow.ExecutionLog) error
	SaveContext(ctx context.Context, executionID string, snapshot map[string]interface{}, currentNode string) error
}

// Store accumulates node outputs and logs for a single execution.
type Store struct {
	mu          sync.Mutex
	executionID string
	outputs     map[string]interface{}
	logs        []workflow.ExecutionLog
	sink        Sink
	log         logger.Logger
}

func NewStore(executionID string, triggerData map[string]interface{}, sink Sink, log logger.Logger) *Store {
	outputs := map[string]interface{}{}
	if triggerData != nil {
		outputs[TriggerKey] = triggerData
	}
	return &Store{
		executionID: executionID,
		outputs:     outputs,
		sink:        sink,
		log:         log,
	}
}

// SetOutput records a node's output under its id. Outputs are only ever
// added, never overwritten or removed.
func (s *Store) SetOutput(ctx context.Context, nodeID string, output interface{}) {
	s.mu.Lock()
	s.outputs[nodeID] = output
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SaveContext(ctx, s.executionID, snapshot, nodeID); err != nil {
			s.log.Error("failed to persist execution context",
				"executionId", s.executionID, "nodeId", nodeID, "error", err)
		}
	}
}

// Snapshot returns a shallow copy of the accumulated context for template
// resolution.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() map[string]interface{} {
	snapshot := make(map[string]interface{}, len(s.outputs))
	for k, v := range s.outputs {
		snapshot[k] = v
	}
	return snapshot
}

// Append records a log entry for the execution and flushes it to the sink
// before returning, so entries are durable before the scheduler advances.
func (s *Store) Append(ctx context.Context, nodeID, level, message string, data map[string]interface{}, duration time.Duration) {
	entry := workflow.NewExecutionLog(s.executionID, nodeID, level, message, data, duration)

	s.mu.Lock()
	s.logs = append(s.logs, *entry)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.AppendLog(ctx, entry); err != nil {
			s.log.Error("failed to persist execution log",
				"executionId", s.executionID, "nodeId", nodeID, "error", err)
		}
	}
}

// Logs returns a copy of the log entries recorded so far.
func (s *Store) Logs() []workflow.ExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]workflow.ExecutionLog, len(s.logs))
	copy(out, s.logs)
	return out
}
