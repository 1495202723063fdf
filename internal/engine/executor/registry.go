package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/pkg/logger"
)

// Registry maps node type discriminators to their executors. Adding a node
// type means adding one executor and registering it here.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]NodeExecutor
	logger    logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		executors: make(map[string]NodeExecutor),
		logger:    log,
	}
}

// Register adds an executor for a node type.
func (r *Registry) Register(nodeType string, exec NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = exec
}

// Get returns the executor for a node type, or ErrUnknownNodeType.
func (r *Registry) Get(nodeType string) (NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownNodeType, nodeType)
	}
	return exec, nil
}

// List returns all registered node types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// Options carries the shared dependencies built-in executors need.
type Options struct {
	DB                 DatabaseInserter
	EmailTransports    map[string]EmailTransport
	HTTPTimeout        time.Duration
	TransformTimeout   time.Duration
	TransformCostLimit int64
}

// RegisterBuiltinNodes registers every built-in node type.
func (r *Registry) RegisterBuiltinNodes(opts Options) {
	r.Register(workflow.NodeTypeWebhook, NewTriggerNodeExecutor(workflow.NodeTypeWebhook))
	r.Register(workflow.NodeTypeEmailReceived, NewTriggerNodeExecutor(workflow.NodeTypeEmailReceived))
	r.Register(workflow.NodeTypeSchedule, NewScheduleNodeExecutor())

	r.Register(workflow.NodeTypeSendEmail, NewEmailNodeExecutor(opts.EmailTransports, r.logger))
	r.Register(workflow.NodeTypeHTTPRequest, NewHTTPNodeExecutor(opts.HTTPTimeout, r.logger))
	r.Register(workflow.NodeTypeDatabaseInsert, NewDatabaseNodeExecutor(opts.DB, r.logger))

	r.Register(workflow.NodeTypeCondition, NewConditionNodeExecutor())
	r.Register(workflow.NodeTypeDelay, NewDelayNodeExecutor())
	r.Register(workflow.NodeTypeTransform, NewTransformNodeExecutor(opts.TransformTimeout, opts.TransformCostLimit))
}
