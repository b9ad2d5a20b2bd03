package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Publisher is the write side of the event bus used by the workflows
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	Publisher

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NopPublisher drops every event. Used when KurrentDB is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the types of the published events in order
func (r *Recorder) Types() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}

type correlationKey struct{}

// ContextWithCorrelation tags ctx so that events emitted under it carry id
func ContextWithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFrom returns the ID set by ContextWithCorrelation, if any
func CorrelationFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Emit publishes event and logs failures. Event delivery is best effort
// and never fails the operation that produced it.
func Emit(ctx context.Context, p Publisher, logger *zap.Logger, event Event) {
	if p == nil {
		return
	}
	if event.CorrelationID == "" {
		if id := CorrelationFrom(ctx); id != "" {
			event = event.WithCorrelation(id)
		}
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

var (
	_ EventBus  = (*Bus)(nil)
	_ Publisher = NopPublisher{}
	_ Publisher = (*Recorder)(nil)
)
