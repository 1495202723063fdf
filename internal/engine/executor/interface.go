package executor

import (
	"context"
	"time"

	"github.com/flowgrid-go/internal/domain/workflow"
)

// NodeExecutor runs a single node given its type-specific config and
// resolved inputs. Implementations are stateless per call; side effects
// (sends, writes) are not rolled back by the engine.
type NodeExecutor interface {
	// Execute runs the node and returns its output value.
	Execute(ctx context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error)

	// GetTimeout returns the per-call timeout for this node type.
	GetTimeout() time.Duration
}

// BaseNodeExecutor provides the default timeout behavior.
type BaseNodeExecutor struct {
	timeout time.Duration
}

func (b *BaseNodeExecutor) GetTimeout() time.Duration {
	if b.timeout == 0 {
		return 30 * time.Second
	}
	return b.timeout
}
