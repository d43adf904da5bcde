package interfaces

import (
	"context"

	"progression-server/internal/models"
)

// EventHandler reacts to a published domain event. Returned errors are logged by the bus, never propagated.
type EventHandler func(ctx context.Context, event models.DomainEvent) error

// Subscription is one row of a component's registration table.
type Subscription struct {
	EventType models.EventType
	Name      string
	Handler   EventHandler
}

// Subscriber exposes a component's explicit registration table.
type Subscriber interface {
	Subscriptions() []Subscription
}

// EventBus is the in-process publish/subscribe register.
type EventBus interface {
	Subscribe(eventType models.EventType, name string, handler EventHandler)
	// Publish runs every handler registered for the event type synchronously, in registration order.
	Publish(ctx context.Context, event models.DomainEvent)
}

// BrokerPublisher forwards committed domain events to the message broker.
type BrokerPublisher interface {
	PublishEvents(ctx context.Context, events []models.DomainEvent) error
}
