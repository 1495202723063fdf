package executor

import (
	"context"
	"time"

	"github.com/flowgrid-go/internal/domain/workflow"
)

// DelayNodeExecutor suspends for config.duration seconds and passes its
// input through unchanged. Cancellation aborts the sleep.
type DelayNodeExecutor struct{}

func NewDelayNodeExecutor() *DelayNodeExecutor {
	return &DelayNodeExecutor{}
}

func (e *DelayNodeExecutor) Execute(ctx context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	seconds, ok := toFloat(node.Config["duration"])
	if !ok || seconds < 0 {
		seconds = 0
	}

	if seconds > 0 {
		timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if input == nil {
		return map[string]interface{}{}, nil
	}
	return input, nil
}

// GetTimeout accounts for the sleep itself; the configured duration is the
// dominant cost, not I/O.
func (e *DelayNodeExecutor) GetTimeout() time.Duration {
	return 24 * time.Hour
}
