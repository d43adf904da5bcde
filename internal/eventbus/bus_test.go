package eventbus

import (
	"context"
	"errors"
	"testing"

	"progression-server/internal/dbctx"
	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingComponent struct {
	seen []string
}

func (c *recordingComponent) Subscriptions() []interfaces.Subscription {
	return []interfaces.Subscription{
		{EventType: models.EventLevelUp, Name: "on_level_up", Handler: c.onLevelUp},
		{EventType: models.EventUserMessage, Name: "on_message", Handler: c.onMessage},
	}
}

func (c *recordingComponent) onLevelUp(_ context.Context, e models.DomainEvent) error {
	c.seen = append(c.seen, "level_up")
	return nil
}

func (c *recordingComponent) onMessage(_ context.Context, e models.DomainEvent) error {
	c.seen = append(c.seen, "message:"+e.(models.UserMessageEvent).Message)
	return nil
}

func TestPublishRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := New(zap.NewNop())
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		bus.Subscribe(models.EventUserMessage, name, func(context.Context, models.DomainEvent) error {
			order = append(order, name)
			return nil
		})
	}

	bus.Publish(context.Background(), models.UserMessageEvent{UserID: 1, Message: "hola"})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublishIsolatesFailures(t *testing.T) {
	bus := New(zap.NewNop())
	var ran []string
	bus.Subscribe(models.EventLevelUp, "errors", func(context.Context, models.DomainEvent) error {
		ran = append(ran, "errors")
		return errors.New("boom")
	})
	bus.Subscribe(models.EventLevelUp, "panics", func(context.Context, models.DomainEvent) error {
		ran = append(ran, "panics")
		panic("kaboom")
	})
	bus.Subscribe(models.EventLevelUp, "survivor", func(context.Context, models.DomainEvent) error {
		ran = append(ran, "survivor")
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), models.LevelUpEvent{UserID: 1, OldLevel: 1, NewLevel: 2})
	})
	assert.Equal(t, []string{"errors", "panics", "survivor"}, ran)
}

func TestNestedPublishPreservesCausalOrder(t *testing.T) {
	bus := New(zap.NewNop())
	var order []string
	bus.Subscribe(models.EventPointsAwarded, "award", func(ctx context.Context, e models.DomainEvent) error {
		order = append(order, "award:start")
		bus.Publish(ctx, models.LevelUpEvent{UserID: e.EventUserID(), NewLevel: 2})
		order = append(order, "award:end")
		return nil
	})
	bus.Subscribe(models.EventLevelUp, "level", func(context.Context, models.DomainEvent) error {
		order = append(order, "level")
		return nil
	})

	bus.Publish(context.Background(), models.PointsAwardedEvent{UserID: 9, Amount: 500})

	assert.Equal(t, []string{"award:start", "level", "award:end"}, order)
}

func TestAutoSubscribe(t *testing.T) {
	bus := New(zap.NewNop())
	c := &recordingComponent{}

	n := bus.AutoSubscribe("recorder", c)
	require.Equal(t, 2, n)

	assert.Equal(t, []Registration{
		{Component: "recorder", EventType: models.EventLevelUp, Name: "on_level_up"},
		{Component: "recorder", EventType: models.EventUserMessage, Name: "on_message"},
	}, bus.Registrations())

	bus.Publish(context.Background(), models.UserMessageEvent{UserID: 1, Message: "hi"})
	bus.Publish(context.Background(), models.LevelUpEvent{UserID: 1})
	bus.Publish(context.Background(), models.ReactionAddedEvent{UserID: 1})

	assert.Equal(t, []string{"message:hi", "level_up"}, c.seen)
}

func TestSubscribeIgnoresNilHandler(t *testing.T) {
	bus := New(zap.NewNop())
	bus.Subscribe(models.EventLevelUp, "nil", nil)
	assert.Zero(t, bus.HandlerCount(models.EventLevelUp))
	assert.Empty(t, bus.Registrations())
}

func TestPublishNilEventIsNoop(t *testing.T) {
	bus := New(zap.NewNop())
	assert.NotPanics(t, func() { bus.Publish(context.Background(), nil) })
}

// savepointTx records how handlers' savepoints end.
type savepointTx struct {
	pgx.Tx
	ends *[]string
}

func (s *savepointTx) Begin(context.Context) (pgx.Tx, error) {
	return &savepointTx{ends: s.ends}, nil
}
func (s *savepointTx) Commit(context.Context) error   { *s.ends = append(*s.ends, "release"); return nil }
func (s *savepointTx) Rollback(context.Context) error { *s.ends = append(*s.ends, "rollback"); return nil }
func (s *savepointTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (s *savepointTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (s *savepointTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }

func TestPublishRunsEachHandlerInSavepoint(t *testing.T) {
	var ends []string
	outer := &savepointTx{ends: &ends}
	ctx := dbctx.WithQuerier(context.Background(), outer)

	bus := New(zap.NewNop())
	var seen []interfaces.DBTX
	record := func(ctx context.Context) {
		q, _ := dbctx.Querier(ctx)
		seen = append(seen, q)
	}
	bus.Subscribe(models.EventLevelUp, "fails", func(ctx context.Context, _ models.DomainEvent) error {
		record(ctx)
		return errors.New("duplicate key")
	})
	bus.Subscribe(models.EventLevelUp, "panics", func(ctx context.Context, _ models.DomainEvent) error {
		record(ctx)
		panic("kaboom")
	})
	bus.Subscribe(models.EventLevelUp, "ok", func(ctx context.Context, _ models.DomainEvent) error {
		record(ctx)
		return nil
	})

	bus.Publish(ctx, models.LevelUpEvent{UserID: 3, OldLevel: 1, NewLevel: 2})

	assert.Equal(t, []string{"rollback", "rollback", "release"}, ends)
	require.Len(t, seen, 3)
	for _, q := range seen {
		assert.NotSame(t, outer, q)
	}
}
