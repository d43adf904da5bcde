package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"progression-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConfigUpdatePublisher рассылает изменения конфигурации после записи в dynamic_configs (используется seed-утилитой).
type ConfigUpdatePublisher struct {
	ch     Channel
	logger *zap.Logger
}

func NewConfigUpdatePublisher(ch Channel, logger *zap.Logger) (*ConfigUpdatePublisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}
	err := ch.ExchangeDeclare(ConfigUpdateExchange, configUpdateExchangeType, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", ConfigUpdateExchange, err)
	}
	return &ConfigUpdatePublisher{ch: ch, logger: logger.Named("ConfigUpdatePublisher")}, nil
}

func (p *ConfigUpdatePublisher) Publish(ctx context.Context, payload models.ConfigUpdatePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal config update payload: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, ConfigUpdateExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		p.logger.Error("Failed to publish config update event", zap.String("key", payload.Key), zap.Error(err))
		return fmt.Errorf("failed to publish config update event: %w", err)
	}
	p.logger.Debug("Config update event published", zap.String("key", payload.Key))
	return nil
}

func (p *ConfigUpdatePublisher) Close() error {
	return p.ch.Close()
}
