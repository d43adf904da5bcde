package orchestrator

import (
	"context"
	"sync"

	"progression-server/internal/interfaces"
	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"go.uber.org/zap"
)

// outbox collects the outbound events of one action until its transaction commits.
type outbox struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

type outboxKey struct{}

func withOutbox(ctx context.Context, box *outbox) context.Context {
	return context.WithValue(ctx, outboxKey{}, box)
}

func outboxFrom(ctx context.Context) (*outbox, bool) {
	box, ok := ctx.Value(outboxKey{}).(*outbox)
	return box, ok
}

func (b *outbox) add(e models.DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *outbox) drain() []models.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Subscriptions registers the outbox collector for every outbound event type.
func (o *Orchestrator) Subscriptions() []interfaces.Subscription {
	subs := make([]interfaces.Subscription, 0, len(models.OutboundEventTypes))
	for _, et := range models.OutboundEventTypes {
		subs = append(subs, interfaces.Subscription{EventType: et, Name: "outbox.collect", Handler: o.collect})
	}
	return subs
}

// collect ignores events published outside an action.
func (o *Orchestrator) collect(ctx context.Context, event models.DomainEvent) error {
	if box, ok := outboxFrom(ctx); ok {
		box.add(event)
	}
	return nil
}

// flush forwards committed events to the broker. Failures are logged only.
func (o *Orchestrator) flush(ctx context.Context, userID int64, events []models.DomainEvent) {
	if o.broker == nil || len(events) == 0 {
		return
	}
	if err := o.broker.PublishEvents(ctx, events); err != nil {
		metrics.OutboxPublishFailuresTotal.Inc()
		o.logger.Warn("Failed to publish committed events",
			zap.Int64("user_id", userID), zap.Int("events", len(events)), zap.Error(err))
	}
}
