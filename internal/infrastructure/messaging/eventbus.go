// Package messaging delivers analysis lifecycle events to in-process
// subscribers and, optionally, to other processes over Redis Pub/Sub.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus implements shared.EventBus inside one process.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	async       bool
	slots       chan struct{}
	logger      *slog.Logger
	metrics     *EventBusMetrics
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig configures InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on goroutines bounded by WorkerPoolSize.
	AsyncMode      bool
	WorkerPoolSize int
	Logger         *slog.Logger
}

// DefaultInMemoryEventBusConfig returns the configuration used by cmd/api.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 8}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 8
	}
	return &InMemoryEventBus{
		handlers: make(map[shared.EventType][]shared.EventHandler),
		async:    cfg.AsyncMode,
		slots:    make(chan struct{}, cfg.WorkerPoolSize),
		logger:   cfg.Logger.With("component", "event_bus"),
		metrics:  NewEventBusMetrics(),
		closeCh:  make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// SubscribeAll registers a handler for every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish delivers the event to its type handlers, then to global handlers.
// Handler errors are logged and never returned to the publisher.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	// Add under the read lock so Close cannot finish waiting before these start.
	if b.async {
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	b.metrics.RecordPublish(event.EventType())

	for _, h := range handlers {
		if b.async {
			go b.runAsync(event, h)
			continue
		}
		if err := b.run(event, h); err != nil {
			b.logger.Error("handler error", "event_type", event.EventType(), "error", err)
		}
	}
	return nil
}

func (b *InMemoryEventBus) runAsync(event shared.Event, h shared.EventHandler) {
	defer b.wg.Done()

	select {
	case b.slots <- struct{}{}:
		defer func() { <-b.slots }()
	case <-b.closeCh:
		return
	}

	if err := b.run(event, h); err != nil {
		b.logger.Error("async handler error", "event_type", event.EventType(), "error", err)
	}
}

// run executes one handler and turns a panic into ErrHandlerPanic.
func (b *InMemoryEventBus) run(event shared.Event, h shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
		b.metrics.RecordHandlerExecution(time.Since(start), err == nil)
	}()
	return h(event)
}

// Close waits for in-flight handlers and rejects further publishing.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	close(b.closeCh)
	return nil
}

// Metrics returns the bus counters.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBus publishes every event to a Redis channel and replays events
// published by other instances onto its local bus. The worker uses it so
// that API processes drop stale cache entries when a run completes.
type RedisEventBus struct {
	client     redis.UniversalClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger
	pubsub     *redis.PubSub
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// RedisEventBusConfig configures RedisEventBus.
type RedisEventBusConfig struct {
	Client     redis.UniversalClient
	Channel    string
	InstanceID string
	Local      InMemoryEventBusConfig
	Logger     *slog.Logger
}

// NewRedisEventBus subscribes to the channel and starts the receive loop.
func NewRedisEventBus(ctx context.Context, cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "growth:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Local.Logger == nil {
		cfg.Local.Logger = cfg.Logger
	}

	pubsub := cfg.Client.Subscribe(ctx, cfg.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:     cfg.Client,
		local:      NewInMemoryEventBus(cfg.Local),
		channel:    cfg.Channel,
		instanceID: cfg.InstanceID,
		logger:     cfg.Logger.With("component", "redis_event_bus"),
		pubsub:     pubsub,
		cancel:     cancel,
	}

	b.wg.Add(1)
	go b.receive(loopCtx)
	return b, nil
}

// Subscribe registers a local handler.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a local handler for every event.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish delivers locally, then broadcasts. A Redis failure is logged and
// local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if err := b.local.Publish(event); err != nil {
		return err
	}

	data, err := json.Marshal(wireEvent{
		EventEnvelope: Envelope(event),
		InstanceID:    b.instanceID,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Error("publish to redis failed", "event_type", event.EventType(), "error", err)
	}
	return nil
}

func (b *RedisEventBus) receive(ctx context.Context) {
	defer b.wg.Done()
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisEventBus) handleMessage(payload string) {
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		b.logger.Error("malformed event on channel", "error", err)
		return
	}
	if w.InstanceID == b.instanceID {
		return
	}
	if err := b.local.Publish(remoteEvent{w.EventEnvelope}); err != nil {
		b.logger.Error("replay remote event failed", "event_type", w.Type, "error", err)
	}
}

// Close stops the receive loop and the local bus.
func (b *RedisEventBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = b.pubsub.Close()
		b.wg.Wait()
		if lerr := b.local.Close(); lerr != nil && err == nil {
			err = lerr
		}
	})
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Envelope wraps an event for transport with a fresh envelope ID.
func Envelope(event shared.Event) shared.EventEnvelope {
	payload, _ := json.Marshal(event.Payload())
	env := shared.EventEnvelope{
		ID:          uuid.NewString(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env
}

type wireEvent struct {
	shared.EventEnvelope
	InstanceID string `json:"instance_id"`
}

// remoteEvent is an event received from another instance.
type remoteEvent struct {
	env shared.EventEnvelope
}

func (e remoteEvent) EventType() shared.EventType { return e.env.Type }
func (e remoteEvent) OccurredAt() time.Time       { return e.env.Timestamp }
func (e remoteEvent) AggregateID() string         { return e.env.AggregateID }

func (e remoteEvent) Payload() map[string]interface{} {
	out := map[string]interface{}{}
	_ = json.Unmarshal(e.env.Payload, &out)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts published events and handler outcomes.
type EventBusMetrics struct {
	mu             sync.RWMutex
	published      map[shared.EventType]int64
	executions     int64
	failures       int64
	handlerElapsed time.Duration
}

// NewEventBusMetrics creates empty counters.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{published: make(map[shared.EventType]int64)}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(t shared.EventType) {
	m.mu.Lock()
	m.published[t]++
	m.mu.Unlock()
}

// RecordHandlerExecution counts one handler run.
func (m *EventBusMetrics) RecordHandlerExecution(d time.Duration, ok bool) {
	m.mu.Lock()
	m.executions++
	m.handlerElapsed += d
	if !ok {
		m.failures++
	}
	m.mu.Unlock()
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	Published          map[shared.EventType]int64 `json:"published"`
	HandlerExecutions  int64                      `json:"handler_executions"`
	HandlerFailures    int64                      `json:"handler_failures"`
	AverageHandlerTime time.Duration              `json:"average_handler_time"`
}

// Snapshot copies the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := EventBusMetricsSnapshot{
		Published:         make(map[shared.EventType]int64, len(m.published)),
		HandlerExecutions: m.executions,
		HandlerFailures:   m.failures,
	}
	for k, v := range m.published {
		s.Published[k] = v
	}
	if m.executions > 0 {
		s.AverageHandlerTime = m.handlerElapsed / time.Duration(m.executions)
	}
	return s
}
