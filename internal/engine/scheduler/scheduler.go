// Package scheduler walks a validated workflow graph, dispatching ready
// nodes to their executors while honoring branch pruning, error handling
// strategies and cooperative cancellation.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/internal/engine/executor"
	"github.com/flowgrid-go/internal/engine/resolver"
	"github.com/flowgrid-go/internal/engine/runctx"
	"github.com/flowgrid-go/pkg/logger"
	"github.com/flowgrid-go/pkg/metrics"
	"github.com/flowgrid-go/pkg/resilience"
)

// tracer is the no-op default unless the tracing provider is installed.
var tracer = otel.Tracer("flowgrid/engine/scheduler")

type Scheduler struct {
	registry *executor.Registry
	logger   logger.Logger
}

func New(registry *executor.Registry, log logger.Logger) *Scheduler {
	return &Scheduler{registry: registry, logger: log}
}

// RunOptions carries the per-run collaborators.
type RunOptions struct {
	ExecutionID string
	TriggerData map[string]interface{}
	Store       *runctx.Store

	// Cancelled is polled at node boundaries; cancellation never
	// preempts an in-flight node call.
	Cancelled func(ctx context.Context) bool

	// OnNodeStart is invoked before each node executes, with its id.
	OnNodeStart func(nodeID string)
}

// Result is the terminal outcome of one graph walk.
type Result struct {
	Status  workflow.ExecutionStatus
	Error   string
	Metrics workflow.ExecutionMetrics
	Context map[string]interface{}
}

type nodeState int

const (
	statePending nodeState = iota
	stateCompleted
	stateFailed
	stateSkipped
)

// walk tracks the mutable traversal state for one run.
type walk struct {
	def       *workflow.WorkflowDefinition
	nodeIndex map[string]int
	states    []nodeState
	outgoing  map[string][]int // node id -> indices into def.Edges
	remaining []int            // unresolved incoming edges per node
	satisfied []int            // live satisfied incoming edges per node
	orderKey  []int            // earliest enabling edge index, for tie-break
	mu        sync.Mutex
}

// Run validates and executes the graph against the trigger data. Nodes are
// dispatched in topological order; ties between independent ready nodes
// are broken by edge declaration order. The walk returns completed only if
// every reachable node on the live branches succeeded.
func (s *Scheduler) Run(ctx context.Context, def *workflow.WorkflowDefinition, opts RunOptions) Result {
	if v := s.Validate(def); !v.Valid {
		return Result{
			Status:  workflow.ExecutionFailed,
			Error:   v.Errors[0],
			Context: opts.Store.Snapshot(),
		}
	}

	w := newWalk(def)
	result := Result{Metrics: workflow.ExecutionMetrics{TotalNodes: len(def.Nodes)}}

	concurrency := def.Settings.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	cancelled := false
	var failure *workflow.NodeError

	for {
		if ctx.Err() != nil || (opts.Cancelled != nil && opts.Cancelled(ctx)) {
			cancelled = true
			break
		}

		ready := w.ready()
		if len(ready) == 0 {
			break
		}

		// Nodes ready at the same time have no path between them, so a
		// batch is safe to run in parallel when concurrency allows.
		batch := ready
		if concurrency == 1 {
			batch = ready[:1]
		} else if len(batch) > concurrency {
			batch = batch[:concurrency]
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, idx := range batch {
			node := def.Nodes[idx]
			if skip := w.shouldSkip(idx); skip {
				w.markSkipped(ctx, idx, opts.Store)
				mu.Lock()
				result.Metrics.SkippedNodes++
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(idx int, node workflow.Node) {
				defer wg.Done()

				nodeErr := s.executeNode(ctx, def, node, opts)
				mu.Lock()
				defer mu.Unlock()
				if nodeErr != nil {
					result.Metrics.FailedNodes++
					if failure == nil {
						failure = nodeErr
					}
					w.resolveFailure(idx, def.Settings.ErrorHandling.Strategy)
				} else {
					result.Metrics.CompletedNodes++
					w.resolveSuccess(idx, opts.Store.Snapshot())
				}
			}(idx, node)
		}
		wg.Wait()

		if failure != nil && effectiveStrategy(def.Settings.ErrorHandling.Strategy) != workflow.StrategyContinue {
			break
		}
	}

	result.Context = opts.Store.Snapshot()

	switch {
	case cancelled:
		result.Status = workflow.ExecutionCancelled
	case failure != nil:
		result.Status = workflow.ExecutionFailed
		result.Error = failure.Error()
	default:
		result.Status = workflow.ExecutionCompleted
	}

	return result
}

// executeNode resolves inputs, applies the retry policy and invokes the
// node's executor. Returns nil on success; the output and logs are
// recorded through the run store before returning.
func (s *Scheduler) executeNode(ctx context.Context, def *workflow.WorkflowDefinition, node workflow.Node, opts RunOptions) *workflow.NodeError {
	ctx, span := tracer.Start(ctx, "node:"+node.ID,
		trace.WithAttributes(
			attribute.String("execution.id", opts.ExecutionID),
			attribute.String("node.id", node.ID),
			attribute.String("node.type", node.Type),
		),
	)
	defer span.End()

	if opts.OnNodeStart != nil {
		opts.OnNodeStart(node.ID)
	}

	exec, err := s.registry.Get(node.Type)
	if err != nil {
		opts.Store.Append(ctx, node.ID, workflow.LogLevelError, err.Error(), nil, 0)
		metrics.NodeExecutionsTotal.WithLabelValues(node.Type, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &workflow.NodeError{NodeID: node.ID, NodeType: node.Type, Err: err}
	}

	input := s.buildInput(node, opts)

	started := time.Now()
	var output map[string]interface{}

	invoke := func() error {
		nodeCtx, cancel := context.WithTimeout(ctx, exec.GetTimeout())
		defer cancel()
		var execErr error
		output, execErr = s.invoke(nodeCtx, exec, node, input)
		return execErr
	}

	runErr := invoke()
	if runErr != nil && effectiveStrategy(def.Settings.ErrorHandling.Strategy) == workflow.StrategyRetry {
		policy := def.Settings.RetryPolicy
		attempts := policy.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
		cfg := resilience.RetryConfig{
			MaxAttempts:  attempts - 1, // first attempt already spent
			Strategy:     policy.BackoffStrategy,
			InitialDelay: time.Duration(policy.InitialDelayMs) * time.Millisecond,
		}
		if cfg.MaxAttempts > 0 {
			runErr = resilience.Retry(ctx, cfg, invoke)
		}
	}

	duration := time.Since(started)

	if runErr != nil {
		opts.Store.Append(ctx, node.ID, workflow.LogLevelError,
			fmt.Sprintf("node failed: %v", runErr),
			map[string]interface{}{"nodeType": node.Type}, duration)
		metrics.NodeExecutionsTotal.WithLabelValues(node.Type, "failed").Inc()
		s.logger.Warn("node execution failed",
			"executionId", opts.ExecutionID, "nodeId", node.ID, "nodeType", node.Type, "error", runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return &workflow.NodeError{NodeID: node.ID, NodeType: node.Type, Err: runErr}
	}

	opts.Store.SetOutput(ctx, node.ID, output)
	opts.Store.Append(ctx, node.ID, workflow.LogLevelInfo,
		fmt.Sprintf("node completed: %s", node.Type), nil, duration)
	metrics.NodeExecutionsTotal.WithLabelValues(node.Type, "completed").Inc()
	metrics.NodeExecutionDuration.WithLabelValues(node.Type).Observe(duration.Seconds())
	return nil
}

// invoke shields the walk from a misbehaving executor: a panic becomes a
// node failure, never a worker crash.
func (s *Scheduler) invoke(ctx context.Context, exec executor.NodeExecutor, node workflow.Node, input map[string]interface{}) (output map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node executor panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, node, input)
}

func (s *Scheduler) buildInput(node workflow.Node, opts RunOptions) map[string]interface{} {
	if node.IsTrigger() {
		if opts.TriggerData == nil {
			return map[string]interface{}{}
		}
		return opts.TriggerData
	}

	input := resolver.Resolve(node.Data, opts.Store.Snapshot())
	if node.Type == workflow.NodeTypeTransform {
		input[executor.ContextInputKey] = opts.Store.Snapshot()
	}
	return input
}

func effectiveStrategy(strategy string) string {
	switch strategy {
	case workflow.StrategyContinue, workflow.StrategyRetry:
		return strategy
	default:
		return workflow.StrategyFail
	}
}

func newWalk(def *workflow.WorkflowDefinition) *walk {
	w := &walk{
		def:       def,
		nodeIndex: make(map[string]int, len(def.Nodes)),
		states:    make([]nodeState, len(def.Nodes)),
		outgoing:  make(map[string][]int),
		remaining: make([]int, len(def.Nodes)),
		satisfied: make([]int, len(def.Nodes)),
		orderKey:  make([]int, len(def.Nodes)),
	}
	for i, node := range def.Nodes {
		w.nodeIndex[node.ID] = i
		w.orderKey[i] = len(def.Edges) + i // roots order by declaration
	}
	for e, edge := range def.Edges {
		w.outgoing[edge.Source] = append(w.outgoing[edge.Source], e)
		if t, ok := w.nodeIndex[edge.Target]; ok {
			w.remaining[t]++
		}
	}
	return w
}

// ready returns pending nodes whose incoming edges are all resolved,
// ordered by earliest enabling edge then node declaration.
func (w *walk) ready() []int {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []int
	for i := range w.def.Nodes {
		if w.states[i] == statePending && w.remaining[i] == 0 {
			out = append(out, i)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if w.orderKey[out[a]] != w.orderKey[out[b]] {
			return w.orderKey[out[a]] < w.orderKey[out[b]]
		}
		return out[a] < out[b]
	})
	return out
}

// shouldSkip reports whether a ready node is reachable only through dead
// edges. Roots never skip.
func (w *walk) shouldSkip(idx int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	hasIncoming := false
	for _, edge := range w.def.Edges {
		if edge.Target == w.def.Nodes[idx].ID {
			hasIncoming = true
			break
		}
	}
	return hasIncoming && w.satisfied[idx] == 0
}

func (w *walk) markSkipped(ctx context.Context, idx int, store *runctx.Store) {
	w.mu.Lock()
	w.states[idx] = stateSkipped
	edges := w.outgoing[w.def.Nodes[idx].ID]
	w.mu.Unlock()

	store.Append(ctx, w.def.Nodes[idx].ID, workflow.LogLevelDebug, "node skipped: dead branch", nil, 0)

	for _, e := range edges {
		w.resolveEdge(e, false)
	}
}

// resolveSuccess marks the node completed and resolves its outgoing edges.
// For condition nodes only the edges on the taken handle are live.
func (w *walk) resolveSuccess(idx int, snapshot map[string]interface{}) {
	w.mu.Lock()
	node := w.def.Nodes[idx]
	w.states[idx] = stateCompleted
	edges := w.outgoing[node.ID]
	w.mu.Unlock()

	liveHandle := ""
	if node.Type == workflow.NodeTypeCondition {
		liveHandle = workflow.HandleFalse
		if out, ok := snapshot[node.ID].(map[string]interface{}); ok {
			if taken, ok := out["condition"].(bool); ok && taken {
				liveHandle = workflow.HandleTrue
			}
		}
	}

	for _, e := range edges {
		edge := w.def.Edges[e]
		live := true
		if liveHandle != "" && edge.SourceHandle != "" && edge.SourceHandle != liveHandle {
			live = false
		}
		w.resolveEdge(e, live)
	}
}

// resolveFailure marks the node failed. Under the continue strategy its
// dependents are unreachable (dead edges) while independent branches keep
// going; under fail/retry the caller stops the walk.
func (w *walk) resolveFailure(idx int, strategy string) {
	w.mu.Lock()
	w.states[idx] = stateFailed
	edges := w.outgoing[w.def.Nodes[idx].ID]
	w.mu.Unlock()

	if effectiveStrategy(strategy) == workflow.StrategyContinue {
		for _, e := range edges {
			w.resolveEdge(e, false)
		}
	}
}

func (w *walk) resolveEdge(e int, live bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	edge := w.def.Edges[e]
	t, ok := w.nodeIndex[edge.Target]
	if !ok {
		return
	}
	w.remaining[t]--
	if live {
		w.satisfied[t]++
		if e < w.orderKey[t] {
			w.orderKey[t] = e
		}
	}
}
