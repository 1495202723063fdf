package executor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/flowgrid-go/internal/domain/workflow"
)

// ContextInputKey is the reserved input key under which the scheduler
// passes the accumulated node outputs to transform nodes. It is stripped
// before the expression sees "input".
const ContextInputKey = "_nodes"

// TransformNodeExecutor evaluates a user-supplied CEL expression against
// the node's input and prior node outputs. CEL is the isolation boundary:
// expressions have no filesystem, network or process access, evaluation is
// cost-bounded and interruptible, and a wall-clock timeout is enforced on
// top. This node type never runs with the ambient privileges of the host
// process.
type TransformNodeExecutor struct {
	env       *celgo.Env
	timeout   time.Duration
	costLimit int64

	mu       sync.Mutex
	programs map[string]celgo.Program
}

func NewTransformNodeExecutor(timeout time.Duration, costLimit int64) *TransformNodeExecutor {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if costLimit == 0 {
		costLimit = 1_000_000
	}

	env, err := celgo.NewEnv(
		celgo.Variable("input", celgo.DynType),
		celgo.Variable("nodes", celgo.DynType),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create transform environment: %v", err))
	}

	return &TransformNodeExecutor{
		env:       env,
		timeout:   timeout,
		costLimit: costLimit,
		programs:  make(map[string]celgo.Program),
	}
}

func (e *TransformNodeExecutor) Execute(ctx context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	expression, _ := node.Config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("%w: config.expression is required", workflow.ErrTransformExecution)
	}

	nodeOutputs, _ := input[ContextInputKey].(map[string]interface{})
	scriptInput := make(map[string]interface{}, len(input))
	for k, v := range input {
		if k == ContextInputKey {
			continue
		}
		scriptInput[k] = v
	}

	prg, err := e.program(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrTransformExecution, err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	val, _, err := prg.ContextEval(evalCtx, map[string]interface{}{
		"input": scriptInput,
		"nodes": nodeOutputs,
	})
	if err != nil {
		if evalCtx.Err() != nil {
			return nil, fmt.Errorf("%w: evaluation timed out after %s", workflow.ErrTransformExecution, e.timeout)
		}
		return nil, fmt.Errorf("%w: %v", workflow.ErrTransformExecution, err)
	}

	return toOutput(val), nil
}

func (e *TransformNodeExecutor) GetTimeout() time.Duration {
	return e.timeout
}

// program compiles an expression once and caches it; workflows re-run the
// same expressions on every execution.
func (e *TransformNodeExecutor) program(expression string) (celgo.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	prg, err := e.env.Program(ast,
		celgo.EvalOptions(celgo.OptTrackCost),
		celgo.InterruptCheckFrequency(128),
		celgo.CostLimit(uint64(e.costLimit)),
	)
	if err != nil {
		return nil, err
	}

	e.programs[expression] = prg
	return prg, nil
}

// toOutput normalizes the expression's result into a JSON-like map. Map
// results become the node output directly; anything else is wrapped under
// "result".
func toOutput(val ref.Val) map[string]interface{} {
	if mapper, ok := val.(traits.Mapper); ok {
		native, err := mapper.ConvertToNative(reflect.TypeOf(map[string]interface{}{}))
		if err == nil {
			if out, ok := native.(map[string]interface{}); ok {
				return out
			}
		}
		// Non-string keys; flatten via the iterator.
		out := map[string]interface{}{}
		it := mapper.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			entry, _ := mapper.Find(key)
			out[fmt.Sprintf("%v", key.Value())] = entry.Value()
		}
		return out
	}
	return map[string]interface{}{"result": val.Value()}
}
