package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Execution lifecycle event types.
const (
	ExecutionQueued    = "execution.queued"
	ExecutionStarted   = "execution.started"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"
	ExecutionCancelled = "execution.cancelled"
)

type Event struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent builds a lifecycle event stamped with the current time.
func NewEvent(eventType, executionID, workflowID string, payload map[string]interface{}) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Timestamp:   time.Now(),
		Payload:     payload,
	}
}

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaEventBus publishes lifecycle events to a kafka topic, keyed by
// execution id so one execution's events stay ordered within a partition.
type KafkaEventBus struct {
	writer *kafka.Writer
}

func NewKafkaEventBus(brokers []string, topic string) *KafkaEventBus {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaEventBus{writer: writer}
}

func (b *KafkaEventBus) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ExecutionID),
		Value: value,
	})
}

func (b *KafkaEventBus) Close() error {
	return b.writer.Close()
}

// MemoryEventBus collects events in memory. Used in tests and when kafka
// is disabled.
type MemoryEventBus struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{}
}

func (b *MemoryEventBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *MemoryEventBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *MemoryEventBus) Close() error {
	return nil
}
