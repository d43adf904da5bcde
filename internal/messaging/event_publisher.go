package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"progression-server/internal/clock"
	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// ProgressionEventsExchange получает все исходящие доменные события после коммита.
	ProgressionEventsExchange = "progression_events"
	progressionExchangeType   = "fanout"
)

// Channel is the subset of *amqp.Channel used by publishers and consumers.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// EventPublisher forwards committed domain events to the progression_events fanout exchange.
type EventPublisher struct {
	ch           Channel
	exchangeName string
	clock        clock.Clock
	logger       *zap.Logger
}

var _ interfaces.BrokerPublisher = (*EventPublisher)(nil)

// NewEventPublisher объявляет exchange и возвращает издателя.
func NewEventPublisher(ch Channel, exchangeName string, clk clock.Clock, logger *zap.Logger) (*EventPublisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}
	if exchangeName == "" {
		exchangeName = ProgressionEventsExchange
	}
	if clk == nil {
		clk = clock.Real{}
	}
	log := logger.Named("EventPublisher")

	err := ch.ExchangeDeclare(
		exchangeName,
		progressionExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		log.Error("Failed to declare progression exchange", zap.String("exchange", exchangeName), zap.Error(err))
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchangeName, err)
	}
	log.Info("Progression exchange declared", zap.String("exchange", exchangeName))

	return &EventPublisher{
		ch:           ch,
		exchangeName: exchangeName,
		clock:        clk,
		logger:       log,
	}, nil
}

// PublishEvents publishes events in order and stops at the first failure.
func (p *EventPublisher) PublishEvents(ctx context.Context, events []models.DomainEvent) error {
	for i, event := range events {
		if err := p.publish(ctx, event); err != nil {
			return fmt.Errorf("publish event %d/%d (%s): %w", i+1, len(events), event.EventType(), err)
		}
	}
	return nil
}

func (p *EventPublisher) publish(ctx context.Context, event models.DomainEvent) error {
	envelope := models.OutboundEnvelope{
		EventID:    uuid.NewString(),
		EventType:  event.EventType(),
		UserID:     event.EventUserID(),
		OccurredAt: p.clock.Now(),
		Payload:    event,
	}
	logFields := []zap.Field{
		zap.String("event_id", envelope.EventID),
		zap.String("event_type", string(envelope.EventType)),
		zap.Int64("user_id", envelope.UserID),
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		p.logger.Error("Failed to marshal outbound event", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchangeName,
		string(envelope.EventType), // routing key, для fanout только информативный
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    envelope.EventID,
			Type:         string(envelope.EventType),
			Timestamp:    envelope.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish outbound event", append(logFields, zap.Error(err))...)
		return err
	}
	p.logger.Debug("Outbound event published", logFields...)
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *EventPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
