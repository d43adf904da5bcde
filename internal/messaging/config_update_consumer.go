package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"progression-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// ConfigUpdateExchange рассылает изменения dynamic_configs всем инстансам.
	ConfigUpdateExchange     = "config_update_exchange"
	configUpdateExchangeType = "fanout"
)

// ConfigUpdater применяет обновление к кэшу конфигурации.
type ConfigUpdater interface {
	Update(config models.DynamicConfig)
}

// ConsumerChannel is the subset of *amqp.Channel used by ConfigUpdateConsumer.
type ConsumerChannel interface {
	Channel
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

var _ ConsumerChannel = (*amqp.Channel)(nil)

// ConfigUpdateConsumer слушает config_update_exchange через временную эксклюзивную очередь.
type ConfigUpdateConsumer struct {
	ch            ConsumerChannel
	configUpdater ConfigUpdater
	logger        *zap.Logger
	exchangeName  string
	queueName     string
	consumerTag   string
}

func NewConfigUpdateConsumer(ch ConsumerChannel, configUpdater ConfigUpdater, logger *zap.Logger) (*ConfigUpdateConsumer, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}
	if configUpdater == nil {
		return nil, fmt.Errorf("ConfigUpdater is nil")
	}

	consumerTag := fmt.Sprintf("config_update_consumer_%d", time.Now().UnixNano())
	c := &ConfigUpdateConsumer{
		ch:            ch,
		configUpdater: configUpdater,
		logger:        logger.Named("ConfigUpdateConsumer").With(zap.String("consumerTag", consumerTag)),
		exchangeName:  ConfigUpdateExchange,
		consumerTag:   consumerTag,
	}
	if err := c.setupQueue(); err != nil {
		return nil, err
	}
	c.logger.Info("ConfigUpdateConsumer инициализирован", zap.String("exchange", c.exchangeName), zap.String("queue", c.queueName))
	return c, nil
}

// setupQueue объявляет exchange, временную очередь и биндинг.
func (c *ConfigUpdateConsumer) setupQueue() error {
	err := c.ch.ExchangeDeclare(c.exchangeName, configUpdateExchangeType, true, false, false, false, nil)
	if err != nil {
		_ = c.ch.Close()
		return fmt.Errorf("failed to declare exchange '%s': %w", c.exchangeName, err)
	}

	// Имя очереди генерирует брокер
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = c.ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	c.queueName = q.Name

	if err := c.ch.QueueBind(c.queueName, "", c.exchangeName, false, nil); err != nil {
		_ = c.ch.Close()
		return fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", c.queueName, c.exchangeName, err)
	}
	return nil
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *ConfigUpdateConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.queueName, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}
	c.logger.Info("Начало прослушивания сообщений об обновлении конфигурации...")

	for {
		select {
		case <-ctx.Done():
			c.stop()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return nil
			}
			c.handleDelivery(d)
		}
	}
}

func (c *ConfigUpdateConsumer) handleDelivery(d amqp.Delivery) {
	var payload models.ConfigUpdatePayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		c.logger.Error("failed to unmarshal config update message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if strings.TrimSpace(payload.Key) == "" {
		c.logger.Warn("config update without key, dropping")
		_ = d.Nack(false, false)
		return
	}

	c.configUpdater.Update(models.DynamicConfig{Key: payload.Key, Value: payload.Value})

	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to acknowledge message", zap.Error(err))
	}
}

func (c *ConfigUpdateConsumer) stop() {
	c.logger.Info("Остановка ConfigUpdateConsumer...")
	if err := c.ch.Cancel(c.consumerTag, false); err != nil {
		c.logger.Warn("failed to cancel consumer", zap.Error(err))
	}
	if err := c.ch.Close(); err != nil {
		c.logger.Warn("failed to close channel", zap.Error(err))
	}
}
