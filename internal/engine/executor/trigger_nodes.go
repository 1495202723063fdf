package executor

import (
	"context"
	"time"

	"github.com/flowgrid-go/internal/domain/workflow"
)

// TriggerNodeExecutor handles webhook and email-received trigger nodes.
// The trigger payload was already captured when the execution was created,
// so execution is an identity transform over the input.
type TriggerNodeExecutor struct {
	BaseNodeExecutor
	nodeType string
}

func NewTriggerNodeExecutor(nodeType string) *TriggerNodeExecutor {
	return &TriggerNodeExecutor{
		BaseNodeExecutor: BaseNodeExecutor{timeout: 5 * time.Second},
		nodeType:         nodeType,
	}
}

func (e *TriggerNodeExecutor) Execute(_ context.Context, _ workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	if input == nil {
		return map[string]interface{}{}, nil
	}
	return input, nil
}

// ScheduleNodeExecutor handles schedule trigger nodes, emitting the firing
// timestamp.
type ScheduleNodeExecutor struct {
	BaseNodeExecutor
}

func NewScheduleNodeExecutor() *ScheduleNodeExecutor {
	return &ScheduleNodeExecutor{
		BaseNodeExecutor: BaseNodeExecutor{timeout: 5 * time.Second},
	}
}

func (e *ScheduleNodeExecutor) Execute(_ context.Context, _ workflow.Node, _ map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}, nil
}
