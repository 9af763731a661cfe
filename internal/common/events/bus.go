// Package events provides an in-process event bus for publish/subscribe messaging.
// The attendance gate publishes verdicts without knowing which sinks consume them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBusClosed is returned by Publish after Close
var ErrBusClosed = errors.New("event bus is closed")

// Event represents a domain event
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	TraceID   string            `json:"trace_id,omitempty"`
	SubjectID string            `json:"subject_id,omitempty"`
	Payload   interface{}       `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a new event with an auto-generated ID stamped at the given time
func NewEvent(eventType, source string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: at.UTC(),
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// WithTraceID adds a trace ID to the event
func (e Event) WithTraceID(traceID string) Event {
	e.TraceID = traceID
	return e
}

// WithSubjectID adds the staff subject the event is about
func (e Event) WithSubjectID(subjectID string) Event {
	e.SubjectID = subjectID
	return e
}

// WithMetadata adds metadata to the event
func (e Event) WithMetadata(key, value string) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// JSON serializes the event to JSON
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventHandler processes events
type EventHandler func(ctx context.Context, event Event) error

// Subscription represents an event subscription
type Subscription struct {
	ID        string
	EventType string
	Handler   EventHandler
	Filter    func(Event) bool
}

// Bus is the event bus interface
type Bus interface {
	// Publish delivers an event to all subscribers and waits for them
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers an event in the background
	PublishAsync(ctx context.Context, event Event)

	// Subscribe subscribes to events of a specific type ("*" for all)
	Subscribe(eventType string, handler EventHandler) *Subscription

	// SubscribeWithFilter subscribes with a custom filter
	SubscribeWithFilter(eventType string, handler EventHandler, filter func(Event) bool) *Subscription

	// Unsubscribe removes a subscription
	Unsubscribe(sub *Subscription)

	// Close stops accepting events and waits for async deliveries
	Close() error
}

// MemoryBus is an in-memory event bus implementation
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*Subscription
	closed        bool
	wg            sync.WaitGroup
	errorHandler  func(Event, error)
}

// NewMemoryBus creates a new in-memory event bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string][]*Subscription),
		errorHandler:  func(Event, error) {},
	}
}

// SetErrorHandler sets the handler for errors returned by async deliveries
func (b *MemoryBus) SetErrorHandler(handler func(Event, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandler = handler
}

// Publish calls every matching handler in subscription order. All handlers run
// even when one fails; the errors are joined.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	return b.deliver(ctx, event)
}

// deliver fans event out to matching handlers. It skips the closed check so
// events accepted by PublishAsync before Close are still drained.
func (b *MemoryBus) deliver(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]*Subscription, 0, len(b.subscriptions[event.Type])+len(b.subscriptions["*"]))
	handlers = append(handlers, b.subscriptions[event.Type]...)
	if event.Type != "*" {
		handlers = append(handlers, b.subscriptions["*"]...)
	}
	b.mu.RUnlock()

	var errs []error
	for _, sub := range handlers {
		if sub.Filter != nil && !sub.Filter(event) {
			continue
		}
		if err := sub.Handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}

	return errors.Join(errs...)
}

// PublishAsync publishes an event asynchronously. The context is detached from
// the caller's cancellation so a finished HTTP request does not abort delivery.
func (b *MemoryBus) PublishAsync(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		handler := b.errorHandler
		b.mu.RUnlock()
		handler(event, ErrBusClosed)
		return
	}
	b.wg.Add(1)
	b.mu.RUnlock()

	go func() {
		defer b.wg.Done()
		if err := b.deliver(context.WithoutCancel(ctx), event); err != nil {
			b.mu.RLock()
			handler := b.errorHandler
			b.mu.RUnlock()
			handler(event, err)
		}
	}()
}

// Subscribe subscribes to events of a specific type
func (b *MemoryBus) Subscribe(eventType string, handler EventHandler) *Subscription {
	return b.SubscribeWithFilter(eventType, handler, nil)
}

// SubscribeWithFilter subscribes with a custom filter
func (b *MemoryBus) SubscribeWithFilter(eventType string, handler EventHandler, filter func(Event) bool) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		EventType: eventType,
		Handler:   handler,
		Filter:    filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], sub)

	return sub
}

// Unsubscribe removes a subscription
func (b *MemoryBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.EventType]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscriptions[sub.EventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Close rejects new events and waits for accepted async deliveries to finish
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Attendance event types
const (
	EventVerdictRecorded  = "attendance.verdict.recorded"
	EventVerdictDuplicate = "attendance.verdict.duplicate"
	EventReviewAdded      = "attendance.review.added"
)
