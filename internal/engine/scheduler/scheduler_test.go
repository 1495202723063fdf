package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/internal/engine/executor"
	"github.com/flowgrid-go/internal/engine/runctx"
	"github.com/flowgrid-go/pkg/logger"
)

// recorder tracks every node invocation across a run.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	inputs map[string]map[string]interface{}
}

func newRecorder() *recorder {
	return &recorder{inputs: make(map[string]map[string]interface{})}
}

func (r *recorder) record(nodeID string, input map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, nodeID)
	r.inputs[nodeID] = input
}

func (r *recorder) callCount(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == nodeID {
			n++
		}
	}
	return n
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// fakeExecutor delegates to fn, recording each call.
type fakeExecutor struct {
	rec *recorder
	fn  func(node workflow.Node, input map[string]interface{}) (map[string]interface{}, error)
}

func (f *fakeExecutor) Execute(_ context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	f.rec.record(node.ID, input)
	if f.fn != nil {
		return f.fn(node, input)
	}
	return map[string]interface{}{"done": node.ID}, nil
}

func (f *fakeExecutor) GetTimeout() time.Duration { return time.Second }

func newTestScheduler(rec *recorder, overrides map[string]func(workflow.Node, map[string]interface{}) (map[string]interface{}, error)) *Scheduler {
	registry := executor.NewRegistry(logger.NewNop())
	for _, nodeType := range []string{
		workflow.NodeTypeWebhook,
		workflow.NodeTypeSchedule,
		workflow.NodeTypeSendEmail,
		workflow.NodeTypeHTTPRequest,
		workflow.NodeTypeCondition,
		workflow.NodeTypeTransform,
	} {
		registry.Register(nodeType, &fakeExecutor{rec: rec, fn: overrides[nodeType]})
	}
	return New(registry, logger.NewNop())
}

func newStore(triggerData map[string]interface{}) *runctx.Store {
	return runctx.NewStore("exec-test", triggerData, nil, logger.NewNop())
}

func simpleSettings(strategy string) workflow.Settings {
	return workflow.Settings{
		ErrorHandling: workflow.ErrorHandling{Strategy: strategy},
		Concurrency:   1,
	}
}

func TestScheduler_TopologicalOrderEachNodeOnce(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, nil)

	// Diamond: trigger -> a, trigger -> b, a -> join, b -> join.
	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "a", Type: workflow.NodeTypeHTTPRequest},
			{ID: "b", Type: workflow.NodeTypeHTTPRequest},
			{ID: "join", Type: workflow.NodeTypeSendEmail},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "a"},
			{ID: "e2", Source: "trigger", Target: "b"},
			{ID: "e3", Source: "a", Target: "join"},
			{ID: "e4", Source: "b", Target: "join"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionCompleted, result.Status)
	// Every node exactly once, ties broken by edge declaration order.
	assert.Equal(t, []string{"trigger", "a", "b", "join"}, rec.order())
	assert.Equal(t, 4, result.Metrics.CompletedNodes)
	assert.Equal(t, 0, result.Metrics.FailedNodes)
}

func TestScheduler_CyclicGraphRunsNothing(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, nil)

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "a", Type: workflow.NodeTypeHTTPRequest},
			{ID: "b", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "a"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionFailed, result.Status)
	assert.Contains(t, result.Error, "cycle")
	assert.Empty(t, rec.order())
}

func TestScheduler_MissingTriggerRunsNothing(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, nil)

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "a", Type: workflow.NodeTypeHTTPRequest},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionFailed, result.Status)
	assert.Empty(t, rec.order())
}

func TestScheduler_ConditionPrunesDeadBranch(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, map[string]func(workflow.Node, map[string]interface{}) (map[string]interface{}, error){
		workflow.NodeTypeCondition: func(node workflow.Node, _ map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"condition": true}, nil
		},
	})

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "check", Type: workflow.NodeTypeCondition},
			{ID: "onTrue", Type: workflow.NodeTypeSendEmail},
			{ID: "onFalse", Type: workflow.NodeTypeSendEmail},
			{ID: "afterFalse", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "check"},
			{ID: "e2", Source: "check", Target: "onTrue", SourceHandle: workflow.HandleTrue},
			{ID: "e3", Source: "check", Target: "onFalse", SourceHandle: workflow.HandleFalse},
			{ID: "e4", Source: "onFalse", Target: "afterFalse"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionCompleted, result.Status)
	assert.Equal(t, 1, rec.callCount("onTrue"))
	// The false branch and everything downstream of it never execute.
	assert.Equal(t, 0, rec.callCount("onFalse"))
	assert.Equal(t, 0, rec.callCount("afterFalse"))
	assert.Equal(t, 2, result.Metrics.SkippedNodes)
	assert.Equal(t, 3, result.Metrics.CompletedNodes)
}

func TestScheduler_RetryStrategyInvokesExactBudget(t *testing.T) {
	rec := newRecorder()
	var mu sync.Mutex
	failures := 2
	s := newTestScheduler(rec, map[string]func(workflow.Node, map[string]interface{}) (map[string]interface{}, error){
		workflow.NodeTypeHTTPRequest: func(node workflow.Node, _ map[string]interface{}) (map[string]interface{}, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return nil, errors.New("flaky upstream")
			}
			return map[string]interface{}{"status": 200}, nil
		},
	})

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "call", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "call"},
		},
		Settings: workflow.Settings{
			ErrorHandling: workflow.ErrorHandling{Strategy: workflow.StrategyRetry},
			RetryPolicy: workflow.RetryPolicy{
				MaxAttempts:     3,
				BackoffStrategy: workflow.BackoffFixed,
				InitialDelayMs:  1,
			},
			Concurrency: 1,
		},
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionCompleted, result.Status)
	// Two failures then success: exactly three invocations, no more.
	assert.Equal(t, 3, rec.callCount("call"))
}

func TestScheduler_RetryStrategyExhaustsAndFails(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, map[string]func(workflow.Node, map[string]interface{}) (map[string]interface{}, error){
		workflow.NodeTypeHTTPRequest: func(node workflow.Node, _ map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("always down")
		},
	})

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "call", Type: workflow.NodeTypeHTTPRequest},
			{ID: "after", Type: workflow.NodeTypeSendEmail},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "call"},
			{ID: "e2", Source: "call", Target: "after"},
		},
		Settings: workflow.Settings{
			ErrorHandling: workflow.ErrorHandling{Strategy: workflow.StrategyRetry},
			RetryPolicy: workflow.RetryPolicy{
				MaxAttempts:     2,
				BackoffStrategy: workflow.BackoffFixed,
				InitialDelayMs:  1,
			},
			Concurrency: 1,
		},
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionFailed, result.Status)
	assert.Equal(t, 2, rec.callCount("call"))
	assert.Equal(t, 0, rec.callCount("after"))
	assert.Contains(t, result.Error, "call")
}

func TestScheduler_FailStrategyStopsWalk(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, map[string]func(workflow.Node, map[string]interface{}) (map[string]interface{}, error){
		workflow.NodeTypeHTTPRequest: func(node workflow.Node, _ map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("boom")
		},
	})

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "call", Type: workflow.NodeTypeHTTPRequest},
			{ID: "after", Type: workflow.NodeTypeSendEmail},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "call"},
			{ID: "e2", Source: "call", Target: "after"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionFailed, result.Status)
	assert.Equal(t, 1, rec.callCount("call"))
	assert.Equal(t, 0, rec.callCount("after"))
	assert.Equal(t, 1, result.Metrics.FailedNodes)
}

func TestScheduler_ContinueStrategyRunsIndependentBranches(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, map[string]func(workflow.Node, map[string]interface{}) (map[string]interface{}, error){
		workflow.NodeTypeHTTPRequest: func(node workflow.Node, _ map[string]interface{}) (map[string]interface{}, error) {
			if node.ID == "bad" {
				return nil, errors.New("boom")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	})

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "bad", Type: workflow.NodeTypeHTTPRequest},
			{ID: "afterBad", Type: workflow.NodeTypeSendEmail},
			{ID: "good", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "bad"},
			{ID: "e2", Source: "bad", Target: "afterBad"},
			{ID: "e3", Source: "trigger", Target: "good"},
		},
		Settings: simpleSettings(workflow.StrategyContinue),
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	// The independent branch ran; the failed node's dependents did not.
	assert.Equal(t, workflow.ExecutionFailed, result.Status)
	assert.Equal(t, 1, rec.callCount("good"))
	assert.Equal(t, 0, rec.callCount("afterBad"))
	assert.Equal(t, 1, result.Metrics.FailedNodes)
	assert.Equal(t, 1, result.Metrics.SkippedNodes)
}

func TestScheduler_CooperativeCancellation(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, nil)

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "a", Type: workflow.NodeTypeHTTPRequest},
			{ID: "b", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	var polls int
	result := s.Run(context.Background(), def, RunOptions{
		Store: newStore(nil),
		Cancelled: func(ctx context.Context) bool {
			polls++
			// Cancel after the trigger's boundary check.
			return polls > 1
		},
	})

	assert.Equal(t, workflow.ExecutionCancelled, result.Status)
	assert.Equal(t, 1, rec.callCount("trigger"))
	assert.Equal(t, 0, rec.callCount("b"))
}

func TestScheduler_TriggerDataFlowsThroughTemplates(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, nil)

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "hook", Type: workflow.NodeTypeWebhook},
			{ID: "notify", Type: workflow.NodeTypeSendEmail, Data: map[string]interface{}{
				"to":      "{{trigger.email}}",
				"subject": "Order received",
			}},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "hook", Target: "notify"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	triggerData := map[string]interface{}{"email": "user@example.com"}
	store := newStore(triggerData)

	result := s.Run(context.Background(), def, RunOptions{
		TriggerData: triggerData,
		Store:       store,
	})

	require.Equal(t, workflow.ExecutionCompleted, result.Status)
	input := rec.inputs["notify"]
	require.NotNil(t, input)
	assert.Equal(t, "user@example.com", input["to"])
	assert.Equal(t, "Order received", input["subject"])
}

func TestScheduler_ParallelBranchesWithConcurrency(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, nil)

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "a", Type: workflow.NodeTypeHTTPRequest},
			{ID: "b", Type: workflow.NodeTypeHTTPRequest},
			{ID: "c", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "a"},
			{ID: "e2", Source: "trigger", Target: "b"},
			{ID: "e3", Source: "trigger", Target: "c"},
		},
		Settings: workflow.Settings{
			ErrorHandling: workflow.ErrorHandling{Strategy: workflow.StrategyFail},
			Concurrency:   3,
		},
	}

	result := s.Run(context.Background(), def, RunOptions{Store: newStore(nil)})

	assert.Equal(t, workflow.ExecutionCompleted, result.Status)
	for _, id := range []string{"trigger", "a", "b", "c"} {
		assert.Equal(t, 1, rec.callCount(id), id)
	}
}

func TestScheduler_OnNodeStartCallback(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(rec, nil)

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "a", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "a"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	var started []string
	result := s.Run(context.Background(), def, RunOptions{
		Store:       newStore(nil),
		OnNodeStart: func(nodeID string) { started = append(started, nodeID) },
	})

	assert.Equal(t, workflow.ExecutionCompleted, result.Status)
	assert.Equal(t, []string{"trigger", "a"}, started)
}

func TestScheduler_EmitsNodeSpans(t *testing.T) {
	recorderSR := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorderSR))
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	rec := newRecorder()
	s := newTestScheduler(rec, map[string]func(workflow.Node, map[string]interface{}) (map[string]interface{}, error){
		workflow.NodeTypeHTTPRequest: func(workflow.Node, map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("boom")
		},
	})

	def := &workflow.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeWebhook},
			{ID: "a", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "trigger", Target: "a"},
		},
		Settings: simpleSettings(workflow.StrategyFail),
	}

	result := s.Run(context.Background(), def, RunOptions{
		ExecutionID: "exec-test",
		Store:       newStore(nil),
	})
	assert.Equal(t, workflow.ExecutionFailed, result.Status)

	spans := recorderSR.Ended()
	require.Len(t, spans, 2)

	names := []string{spans[0].Name(), spans[1].Name()}
	assert.Contains(t, names, "node:trigger")
	assert.Contains(t, names, "node:a")

	for _, span := range spans {
		if span.Name() == "node:a" {
			assert.Equal(t, otelcodes.Error, span.Status().Code)
			require.Len(t, span.Events(), 1)
			assert.Equal(t, "exception", span.Events()[0].Name)
		}
	}
}
