package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/configservice"
	"progression-server/internal/messaging"
	"progression-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
}

func TestRabbitMQIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	container, err := rabbitmq.Run(s.ctx, "rabbitmq:3.13-management-alpine")
	if err != nil {
		s.T().Skipf("docker is not available: %v", err)
	}
	s.container = container

	url, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.conn, err = amqp.Dial(url)
	s.Require().NoError(err)
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RabbitMQIntegrationSuite) channel() *amqp.Channel {
	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	return ch
}

// TestEventPublisherFanout binds a listener queue and checks the envelope that arrives.
func (s *RabbitMQIntegrationSuite) TestEventPublisherFanout() {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	publisher, err := messaging.NewEventPublisher(s.channel(), "", clock.NewManual(now), zap.NewNop())
	s.Require().NoError(err)
	defer publisher.Close()

	listener := s.channel()
	defer listener.Close()
	q, err := listener.QueueDeclare("", false, true, true, false, nil)
	s.Require().NoError(err)
	s.Require().NoError(listener.QueueBind(q.Name, "", messaging.ProgressionEventsExchange, false, nil))
	deliveries, err := listener.Consume(q.Name, "", true, true, false, false, nil)
	s.Require().NoError(err)

	s.Require().NoError(publisher.PublishEvents(s.ctx, []models.DomainEvent{
		models.LevelUpEvent{UserID: 7, OldLevel: 1, NewLevel: 2, LevelName: "Conocido"},
	}))

	select {
	case d := <-deliveries:
		s.Equal(string(models.EventLevelUp), d.Type)
		var envelope struct {
			EventID    string          `json:"event_id"`
			EventType  string          `json:"event_type"`
			UserID     int64           `json:"user_id"`
			OccurredAt time.Time       `json:"occurred_at"`
			Payload    json.RawMessage `json:"payload"`
		}
		s.Require().NoError(json.Unmarshal(d.Body, &envelope))
		s.Equal(d.MessageId, envelope.EventID)
		s.Equal(int64(7), envelope.UserID)
		s.True(envelope.OccurredAt.Equal(now))
		s.JSONEq(`{"user_id":7,"old_level":1,"new_level":2,"level_name":"Conocido"}`, string(envelope.Payload))
	case <-time.After(10 * time.Second):
		s.Fail("event was not delivered")
	}
}

// TestConfigUpdateRoundTrip publishes a change the way the seed tool does and waits for the cache to see it.
func (s *RabbitMQIntegrationSuite) TestConfigUpdateRoundTrip() {
	cfg := configservice.NewStatic(map[string]string{configservice.KeyDailyGift: "10"}, zap.NewNop())

	consumer, err := messaging.NewConfigUpdateConsumer(s.channel(), cfg, zap.NewNop())
	s.Require().NoError(err)
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	publisher, err := messaging.NewConfigUpdatePublisher(s.channel(), zap.NewNop())
	s.Require().NoError(err)
	defer publisher.Close()
	s.Require().NoError(publisher.Publish(s.ctx, models.ConfigUpdatePayload{Key: configservice.KeyDailyGift, Value: "25"}))

	s.Eventually(func() bool {
		return cfg.GetInt(configservice.KeyDailyGift, 0) == 25
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("consumer did not stop")
	}
}
