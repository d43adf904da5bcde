// Package eventbus is the in-process publish/subscribe register that couples the engines.
// Delivery is synchronous, in registration order, and best effort: nothing is persisted or retried.
// Each handler runs in its own savepoint of the publisher's transaction, so a failing handler
// is rolled back alone.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"progression-server/internal/dbctx"
	"progression-server/internal/interfaces"
	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"go.uber.org/zap"
)

// Registration is one row of the wiring table, kept for inspection at startup.
type Registration struct {
	Component string
	EventType models.EventType
	Name      string
}

type handlerEntry struct {
	name    string
	handler interfaces.EventHandler
}

// Bus implements interfaces.EventBus.
type Bus struct {
	logger        *zap.Logger
	mu            sync.RWMutex
	handlers      map[models.EventType][]handlerEntry
	registrations []Registration
}

var _ interfaces.EventBus = (*Bus)(nil)

func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger:   logger.Named("EventBus"),
		handlers: make(map[models.EventType][]handlerEntry),
	}
}

// Subscribe registers handler for eventType. Handlers run in the order they were subscribed.
func (b *Bus) Subscribe(eventType models.EventType, name string, handler interfaces.EventHandler) {
	b.subscribe("", eventType, name, handler)
}

func (b *Bus) subscribe(component string, eventType models.EventType, name string, handler interfaces.EventHandler) {
	if handler == nil {
		b.logger.Warn("Ignoring nil handler", zap.String("event_type", string(eventType)), zap.String("handler", name))
		return
	}
	if !eventType.IsKnown() {
		b.logger.Warn("Subscribing to unknown event type", zap.String("event_type", string(eventType)), zap.String("handler", name))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{name: name, handler: handler})
	b.registrations = append(b.registrations, Registration{Component: component, EventType: eventType, Name: name})
}

// AutoSubscribe registers every row of the component's registration table.
// It is equivalent to calling Subscribe once per row.
func (b *Bus) AutoSubscribe(component string, s interfaces.Subscriber) int {
	subs := s.Subscriptions()
	for _, sub := range subs {
		b.subscribe(component, sub.EventType, sub.Name, sub.Handler)
	}
	b.logger.Info("Component subscribed", zap.String("component", component), zap.Int("handlers", len(subs)))
	return len(subs)
}

// Registrations returns a copy of the wiring table in registration order.
func (b *Bus) Registrations() []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Registration(nil), b.registrations...)
}

// HandlerCount returns how many handlers are registered for eventType.
func (b *Bus) HandlerCount(eventType models.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Publish delivers event to every handler of its type, synchronously and in order.
// Handler errors and panics are logged and never stop the remaining handlers.
func (b *Bus) Publish(ctx context.Context, event models.DomainEvent) {
	if event == nil {
		return
	}
	eventType := event.EventType()

	b.mu.RLock()
	entries := append([]handlerEntry(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()

	for _, entry := range entries {
		if err := b.invoke(ctx, entry, event); err != nil {
			metrics.EventHandlerFailuresTotal.WithLabelValues(string(eventType), entry.name).Inc()
			b.logger.Error("Event handler failed",
				zap.String("event_type", string(eventType)),
				zap.String("handler", entry.name),
				zap.Int64("user_id", event.EventUserID()),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, entry handlerEntry, event models.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return dbctx.WithSavepoint(ctx, func(ctx context.Context) error {
		return entry.handler(ctx, event)
	})
}
