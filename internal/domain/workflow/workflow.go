package workflow

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowDefinition is the persisted node/edge graph for one workflow version.
// The engine receives it read-only for the duration of a run.
type WorkflowDefinition struct {
	ID        string                 `json:"id" gorm:"primaryKey"`
	Name      string                 `json:"name" gorm:"not null"`
	Version   int                    `json:"version" gorm:"default:1"`
	Nodes     []Node                 `json:"nodes" gorm:"serializer:json"`
	Edges     []Edge                 `json:"edges" gorm:"serializer:json"`
	Variables map[string]interface{} `json:"variables,omitempty" gorm:"serializer:json"`
	Settings  Settings               `json:"settings" gorm:"serializer:json"`
	IsActive  bool                   `json:"isActive" gorm:"default:false"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Node is a unit of work in the graph. Data values may be literals or
// whole-string {{path}} template references resolved at execution time.
type Node struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Label  string                 `json:"label"`
	Data   map[string]interface{} `json:"data"`
	Config map[string]interface{} `json:"config"`
}

// Edge is a directed link between two nodes. SourceHandle names the output
// port on multi-output nodes (condition true/false).
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Condition    string `json:"condition,omitempty"`
}

type Settings struct {
	Timeout       int           `json:"timeout"`
	RetryPolicy   RetryPolicy   `json:"retryPolicy"`
	ErrorHandling ErrorHandling `json:"errorHandling"`
	Concurrency   int           `json:"concurrency"`
}

type RetryPolicy struct {
	MaxAttempts     int    `json:"maxAttempts"`
	BackoffStrategy string `json:"backoffStrategy"`
	InitialDelayMs  int    `json:"initialDelay"`
}

type ErrorHandling struct {
	Strategy string `json:"strategy"`
}

// Error handling strategies
const (
	StrategyFail     = "fail"
	StrategyContinue = "continue"
	StrategyRetry    = "retry"
)

// Backoff strategies for node-level retry
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Node types
const (
	NodeTypeWebhook        = "webhook"
	NodeTypeSchedule       = "schedule"
	NodeTypeEmailReceived  = "email-received"
	NodeTypeSendEmail      = "send-email"
	NodeTypeHTTPRequest    = "http-request"
	NodeTypeDatabaseInsert = "database-insert"
	NodeTypeCondition      = "condition"
	NodeTypeDelay          = "delay"
	NodeTypeTransform      = "transform"
)

// Condition output handles
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// NewWorkflowDefinition creates an empty definition with default settings.
func NewWorkflowDefinition(name string) *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:      uuid.New().String(),
		Name:    name,
		Version: 1,
		Nodes:   []Node{},
		Edges:   []Edge{},
		Settings: Settings{
			Timeout: 300,
			RetryPolicy: RetryPolicy{
				MaxAttempts:     3,
				BackoffStrategy: BackoffExponential,
				InitialDelayMs:  100,
			},
			ErrorHandling: ErrorHandling{Strategy: StrategyFail},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// IsTrigger reports whether the node type starts a graph walk.
func (n Node) IsTrigger() bool {
	switch n.Type {
	case NodeTypeWebhook, NodeTypeSchedule, NodeTypeEmailReceived:
		return true
	}
	return false
}

// NodeByID returns the node with the given id, if present.
func (w *WorkflowDefinition) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func (w *WorkflowDefinition) TableName() string {
	return "workflow_definitions"
}
