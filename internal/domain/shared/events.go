package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Analysis lifecycle events. Consumers: cache invalidation, run ledger, logs.
const (
	EventAnalysisStarted   EventType = "analysis.started"
	EventAnalysisProgress  EventType = "analysis.progress"
	EventAnalysisCompleted EventType = "analysis.completed"
	EventAnalysisFailed    EventType = "analysis.failed"
)

// EventInputsIngested is emitted after scores, assignments or warning events
// were stored. Cached analyses computed from older inputs become stale.
const EventInputsIngested EventType = "inputs.ingested"

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the run that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// Correlation returns the correlation ID, if any.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// ═══════════════════════════════════════════════════════════════════════════
// Analysis Events
// ═══════════════════════════════════════════════════════════════════════════

// AnalysisStartedEvent is emitted when a run begins.
type AnalysisStartedEvent struct {
	BaseEvent
	Key AnalysisKey `json:"key"`
}

// Payload implements Event interface.
func (e AnalysisStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"key":   e.Key.String(),
		"scope": e.Key.Scope.String(),
	}
}

// NewAnalysisStartedEvent creates a new AnalysisStartedEvent.
func NewAnalysisStartedEvent(runID string, key AnalysisKey) AnalysisStartedEvent {
	return AnalysisStartedEvent{
		BaseEvent: NewBaseEvent(EventAnalysisStarted, runID),
		Key:       key,
	}
}

// AnalysisProgressEvent is emitted when a run finishes a stage.
type AnalysisProgressEvent struct {
	BaseEvent
	Stage   string `json:"stage"`
	Percent int    `json:"percent"` // 0-100
}

// Payload implements Event interface.
func (e AnalysisProgressEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"stage":   e.Stage,
		"percent": e.Percent,
	}
}

// NewAnalysisProgressEvent creates a new AnalysisProgressEvent.
func NewAnalysisProgressEvent(runID, stage string, percent int) AnalysisProgressEvent {
	return AnalysisProgressEvent{
		BaseEvent: NewBaseEvent(EventAnalysisProgress, runID),
		Stage:     stage,
		Percent:   percent,
	}
}

// AnalysisCompletedEvent is emitted when a run has persisted its results.
type AnalysisCompletedEvent struct {
	BaseEvent
	Key         AnalysisKey   `json:"key"`
	ResultCount int           `json:"result_count"`
	Duration    time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e AnalysisCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"key":          e.Key.String(),
		"result_count": e.ResultCount,
		"duration":     e.Duration.String(),
	}
}

// NewAnalysisCompletedEvent creates a new AnalysisCompletedEvent.
func NewAnalysisCompletedEvent(runID string, key AnalysisKey, resultCount int, duration time.Duration) AnalysisCompletedEvent {
	return AnalysisCompletedEvent{
		BaseEvent:   NewBaseEvent(EventAnalysisCompleted, runID),
		Key:         key,
		ResultCount: resultCount,
		Duration:    duration,
	}
}

// AnalysisFailedEvent is emitted when a run stops with an error.
type AnalysisFailedEvent struct {
	BaseEvent
	Key    AnalysisKey `json:"key"`
	Stage  string      `json:"stage"`
	Reason string      `json:"reason"`
}

// Payload implements Event interface.
func (e AnalysisFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"key":    e.Key.String(),
		"stage":  e.Stage,
		"reason": e.Reason,
	}
}

// NewAnalysisFailedEvent creates a new AnalysisFailedEvent.
func NewAnalysisFailedEvent(runID string, key AnalysisKey, stage string, err error) AnalysisFailedEvent {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return AnalysisFailedEvent{
		BaseEvent: NewBaseEvent(EventAnalysisFailed, runID),
		Key:       key,
		Stage:     stage,
		Reason:    reason,
	}
}

// InputsIngestedEvent is emitted by the ingest command.
type InputsIngestedEvent struct {
	BaseEvent
	Scores      int `json:"scores"`
	Assignments int `json:"assignments"`
	Events      int `json:"events"`
}

// Payload implements Event interface.
func (e InputsIngestedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"scores":      e.Scores,
		"assignments": e.Assignments,
		"events":      e.Events,
	}
}

// NewInputsIngestedEvent creates a new InputsIngestedEvent. batchID
// identifies the ingested batch.
func NewInputsIngestedEvent(batchID string, scores, assignments, events int) InputsIngestedEvent {
	return InputsIngestedEvent{
		BaseEvent:   NewBaseEvent(EventInputsIngested, batchID),
		Scores:      scores,
		Assignments: assignments,
		Events:      events,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
