package workflow

import (
	"errors"
	"fmt"
)

// Validation errors, reported before any node executes.
var (
	ErrCyclicGraph  = errors.New("workflow graph contains a cycle")
	ErrDanglingEdge = errors.New("edge references a node that does not exist")
	ErrNoTrigger    = errors.New("workflow has no trigger node")
)

// Node execution errors. Node-level failures are handled per the workflow's
// error handling strategy; they never abort the worker process.
var (
	ErrUnknownNodeType     = errors.New("unknown node type")
	ErrUnknownOperator     = errors.New("unknown condition operator")
	ErrUnsupportedProvider = errors.New("unsupported email provider")
	ErrUnsupportedTable    = errors.New("database node config is missing the table name")
	ErrTransport           = errors.New("transport failure")
	ErrQuery               = errors.New("query failed")
	ErrTransformExecution  = errors.New("transform script failed")
)

// Queue-level error, distinct from node errors: the job exhausted its retry
// budget before the scheduler could finish the run.
var ErrJobExhausted = errors.New("job retries exhausted")

// NodeError wraps a node execution failure with the failing node's identity.
type NodeError struct {
	NodeID   string
	NodeType string
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
