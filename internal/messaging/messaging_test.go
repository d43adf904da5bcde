package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/messaging"
	"progression-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, exclusive)
	return ret.Get(0).(amqp.Queue), ret.Error(1)
}

func (m *mockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, exchange).Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ret := m.Called(queue)
	var ch <-chan amqp.Delivery
	if c := ret.Get(0); c != nil {
		ch = c.(chan amqp.Delivery)
	}
	return ch, ret.Error(1)
}

func (m *mockChannel) Cancel(consumer string, noWait bool) error {
	return m.Called().Error(0)
}

type ackRecorder struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	notify chan struct{}
}

func newAckRecorder() *ackRecorder { return &ackRecorder{notify: make(chan struct{}, 16)} }

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.notify <- struct{}{}
	return nil
}

func (a *ackRecorder) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	a.nacks++
	a.mu.Unlock()
	a.notify <- struct{}{}
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { return nil }

func (a *ackRecorder) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

type recordingUpdater struct {
	mu      sync.Mutex
	updates []models.DynamicConfig
}

func (r *recordingUpdater) Update(cfg models.DynamicConfig) {
	r.mu.Lock()
	r.updates = append(r.updates, cfg)
	r.mu.Unlock()
}

func (r *recordingUpdater) snapshot() []models.DynamicConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.DynamicConfig(nil), r.updates...)
}

func TestEventPublisher(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(now)

	t.Run("publishes one envelope per event in order", func(t *testing.T) {
		ch := new(mockChannel)
		ch.On("ExchangeDeclare", messaging.ProgressionEventsExchange, "fanout", true).Return(nil).Once()

		var published []amqp.Publishing
		ch.On("PublishWithContext", messaging.ProgressionEventsExchange, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { published = append(published, args.Get(2).(amqp.Publishing)) }).
			Return(nil)

		pub, err := messaging.NewEventPublisher(ch, "", clk, zap.NewNop())
		require.NoError(t, err)

		err = pub.PublishEvents(context.Background(), []models.DomainEvent{
			models.PointsAwardedEvent{UserID: 7, Amount: 5, Source: models.SourceMessage, Balance: 5},
			models.LevelUpEvent{UserID: 7, OldLevel: 1, NewLevel: 2, LevelName: "Curiosa"},
		})
		require.NoError(t, err)
		require.Len(t, published, 2)

		assert.Equal(t, string(models.EventPointsAwarded), published[0].Type)
		assert.Equal(t, string(models.EventLevelUp), published[1].Type)
		assert.Equal(t, "application/json", published[0].ContentType)
		assert.NotEqual(t, published[0].MessageId, published[1].MessageId)

		var envelope struct {
			EventID    string          `json:"event_id"`
			EventType  string          `json:"event_type"`
			UserID     int64           `json:"user_id"`
			OccurredAt time.Time       `json:"occurred_at"`
			Payload    json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(published[1].Body, &envelope))
		assert.Equal(t, published[1].MessageId, envelope.EventID)
		assert.Equal(t, "LevelUpEvent", envelope.EventType)
		assert.Equal(t, int64(7), envelope.UserID)
		assert.True(t, now.Equal(envelope.OccurredAt))
		assert.JSONEq(t, `{"user_id":7,"old_level":1,"new_level":2,"level_name":"Curiosa"}`, string(envelope.Payload))
		ch.AssertExpectations(t)
	})

	t.Run("stops at first failure", func(t *testing.T) {
		ch := new(mockChannel)
		ch.On("ExchangeDeclare", "custom", "fanout", true).Return(nil).Once()
		ch.On("PublishWithContext", "custom", string(models.EventUserMessage), mock.Anything).Return(errors.New("channel closed")).Once()

		pub, err := messaging.NewEventPublisher(ch, "custom", clk, zap.NewNop())
		require.NoError(t, err)

		err = pub.PublishEvents(context.Background(), []models.DomainEvent{
			models.UserMessageEvent{UserID: 1, Message: "hola"},
			models.UserMessageEvent{UserID: 1, Message: "otra vez"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "channel closed")
		ch.AssertNumberOfCalls(t, "PublishWithContext", 1)
	})

	t.Run("declare failure closes channel", func(t *testing.T) {
		ch := new(mockChannel)
		ch.On("ExchangeDeclare", messaging.ProgressionEventsExchange, "fanout", true).Return(errors.New("access refused")).Once()
		ch.On("Close").Return(nil).Once()

		_, err := messaging.NewEventPublisher(ch, "", clk, zap.NewNop())
		require.Error(t, err)
		ch.AssertExpectations(t)
	})
}

func TestConfigUpdateConsumer(t *testing.T) {
	setup := func(t *testing.T) (*mockChannel, chan amqp.Delivery) {
		ch := new(mockChannel)
		deliveries := make(chan amqp.Delivery)
		ch.On("ExchangeDeclare", messaging.ConfigUpdateExchange, "fanout", true).Return(nil).Once()
		ch.On("QueueDeclare", "", true).Return(amqp.Queue{Name: "amq.gen-1"}, nil).Once()
		ch.On("QueueBind", "amq.gen-1", messaging.ConfigUpdateExchange).Return(nil).Once()
		ch.On("Consume", "amq.gen-1").Return(deliveries, nil).Once()
		ch.On("Cancel").Return(nil).Maybe()
		ch.On("Close").Return(nil).Maybe()
		return ch, deliveries
	}

	t.Run("applies updates and acks", func(t *testing.T) {
		ch, deliveries := setup(t)
		updater := &recordingUpdater{}
		consumer, err := messaging.NewConfigUpdateConsumer(ch, updater, zap.NewNop())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- consumer.Run(ctx) }()

		acks := newAckRecorder()
		body, _ := json.Marshal(models.ConfigUpdatePayload{Key: "points.per_message", Value: "8"})
		deliveries <- amqp.Delivery{Acknowledger: acks, Body: body}
		deliveries <- amqp.Delivery{Acknowledger: acks, Body: []byte("{not json")}
		deliveries <- amqp.Delivery{Acknowledger: acks, Body: []byte(`{"key":"  ","value":"1"}`)}
		for i := 0; i < 3; i++ {
			<-acks.notify
		}

		cancel()
		require.NoError(t, <-done)

		ackCount, nackCount := acks.counts()
		assert.Equal(t, 1, ackCount)
		assert.Equal(t, 2, nackCount)
		assert.Equal(t, []models.DynamicConfig{{Key: "points.per_message", Value: "8"}}, updater.snapshot())
		ch.AssertCalled(t, "Cancel")
	})

	t.Run("returns when deliveries close", func(t *testing.T) {
		ch, deliveries := setup(t)
		consumer, err := messaging.NewConfigUpdateConsumer(ch, &recordingUpdater{}, zap.NewNop())
		require.NoError(t, err)

		close(deliveries)
		assert.NoError(t, consumer.Run(context.Background()))
	})

	t.Run("nil updater", func(t *testing.T) {
		_, err := messaging.NewConfigUpdateConsumer(new(mockChannel), nil, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestConfigUpdatePublisher(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", messaging.ConfigUpdateExchange, "fanout", true).Return(nil).Once()
	ch.On("PublishWithContext", messaging.ConfigUpdateExchange, "", mock.MatchedBy(func(p amqp.Publishing) bool {
		return string(p.Body) == `{"key":"points.daily_gift","value":"15"}`
	})).Return(nil).Once()

	pub, err := messaging.NewConfigUpdatePublisher(ch, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), models.ConfigUpdatePayload{Key: "points.daily_gift", Value: "15"}))
	ch.AssertExpectations(t)
}
