package workflow

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
// Terminal executions are immutable except for log appends.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Log levels
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// Execution is one run of a workflow from a trigger to a terminal status.
type Execution struct {
	ID              string                 `json:"id" gorm:"primaryKey"`
	WorkflowID      string                 `json:"workflowId" gorm:"not null;index"`
	WorkflowVersion int                    `json:"workflowVersion"`
	Status          ExecutionStatus        `json:"status" gorm:"default:'pending';index"`
	StartedAt       time.Time              `json:"startedAt"`
	CompletedAt     *time.Time             `json:"completedAt,omitempty"`
	TriggeredBy     string                 `json:"triggeredBy"`
	TriggerData     map[string]interface{} `json:"triggerData" gorm:"serializer:json"`
	Context         map[string]interface{} `json:"context" gorm:"serializer:json"`
	CurrentNode     string                 `json:"currentNode,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Metrics         ExecutionMetrics       `json:"metrics" gorm:"serializer:json"`
	CreatedAt       time.Time              `json:"createdAt"`
	Logs            []ExecutionLog         `json:"logs,omitempty" gorm:"foreignKey:ExecutionID;constraint:OnDelete:CASCADE"`
}

// ExecutionLog is one append-only audit entry tied to an execution.
type ExecutionLog struct {
	ID          string                 `json:"id" gorm:"primaryKey"`
	ExecutionID string                 `json:"executionId" gorm:"not null;index"`
	NodeID      string                 `json:"nodeId,omitempty"`
	Timestamp   time.Time              `json:"timestamp" gorm:"index"`
	Level       string                 `json:"level"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty" gorm:"serializer:json"`
	DurationMs  int64                  `json:"duration,omitempty"`
}

type ExecutionMetrics struct {
	TotalNodes     int `json:"totalNodes"`
	CompletedNodes int `json:"completedNodes"`
	FailedNodes    int `json:"failedNodes"`
	SkippedNodes   int `json:"skippedNodes"`
}

// NewExecution creates a pending execution for the given workflow and trigger.
func NewExecution(workflowID string, version int, triggeredBy string, triggerData map[string]interface{}) *Execution {
	return &Execution{
		ID:              uuid.New().String(),
		WorkflowID:      workflowID,
		WorkflowVersion: version,
		Status:          ExecutionPending,
		TriggeredBy:     triggeredBy,
		TriggerData:     triggerData,
		Context:         map[string]interface{}{},
		CreatedAt:       time.Now(),
	}
}

// NewExecutionLog creates a log entry stamped with the current time.
func NewExecutionLog(executionID, nodeID, level, message string, data map[string]interface{}, duration time.Duration) *ExecutionLog {
	return &ExecutionLog{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   time.Now(),
		Level:       level,
		Message:     message,
		Data:        data,
		DurationMs:  duration.Milliseconds(),
	}
}

func (Execution) TableName() string {
	return "executions"
}

func (ExecutionLog) TableName() string {
	return "execution_logs"
}
