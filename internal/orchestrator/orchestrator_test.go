package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/configservice"
	"progression-server/internal/emotional"
	"progression-server/internal/eventbus"
	"progression-server/internal/gamification"
	"progression-server/internal/interfaces"
	"progression-server/internal/interfaces/mocks"
	"progression-server/internal/models"
	"progression-server/internal/narrative"
	"progression-server/internal/orchestrator"
	"progression-server/internal/testutil"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx       context.Context
	store     *testutil.Store
	clock     *clock.Manual
	bus       *eventbus.Bus
	ledger    *gamification.Ledger
	engine    *narrative.Engine
	broker    *mocks.BrokerPublisher
	orch      *orchestrator.Orchestrator
	published [][]models.DomainEvent
}

type option func(*orchestrator.Deps)

func withNarrative(n interfaces.NarrativeEngine) option {
	return func(d *orchestrator.Deps) { d.Narrative = n }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  testutil.NewStore(),
		clock:  clock.NewManual(t0),
		bus:    eventbus.New(zap.NewNop()),
		broker: &mocks.BrokerPublisher{},
	}
	cfg := configservice.NewStatic(nil, zap.NewNop())
	f.ledger = gamification.NewLedger(f.store.Points(), f.store.Achievements(), f.store.Missions(), f.bus, cfg, f.clock, zap.NewNop())
	model := emotional.NewModel(f.store.Emotional(), emotional.NewKeywordAnalyzer(), f.bus, cfg, f.clock, zap.NewNop())
	f.engine = narrative.NewEngine(f.store.Content(), f.store.NarrativeStates(), f.ledger, model, f.bus, cfg, f.clock, zap.NewNop())

	deps := orchestrator.Deps{
		Session:   f.store,
		Ledger:    f.ledger,
		Emotional: model,
		Narrative: f.engine,
		Bus:       f.bus,
		Broker:    f.broker,
		Config:    cfg,
		Clock:     f.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.orch = orchestrator.New(deps, zap.NewNop())

	f.bus.AutoSubscribe("gamification", f.ledger)
	f.bus.AutoSubscribe("narrative", f.engine)
	f.bus.AutoSubscribe("outbox", f.orch)

	f.broker.On("PublishEvents", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		f.published = append(f.published, args.Get(1).([]models.DomainEvent))
	}).Return(nil).Maybe()

	content := f.store.Content()
	for _, fr := range []models.StoryFragment{
		{Key: "start", Title: "Inicio", Character: "Diana", Text: "Todo empieza aquí."},
		{Key: "forest", Title: "El bosque", Character: "Diana", Text: "Árboles.", RewardItems: []string{"lantern"}},
	} {
		fr := fr
		require.NoError(t, content.UpsertFragment(f.ctx, nil, &fr))
	}
	for _, c := range []models.NarrativeChoice{
		{ID: "start_forest", SourceFragmentKey: "start", TargetFragmentKey: "forest", Text: "Entrar"},
		{ID: "forest_start", SourceFragmentKey: "forest", TargetFragmentKey: "start", Text: "Volver", PointsDelta: -1000},
	} {
		c := c
		require.NoError(t, content.UpsertChoice(f.ctx, nil, &c))
	}
	return f
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	p, err := f.ledger.GetPoints(f.ctx, nil, userID)
	require.NoError(t, err)
	return p.CurrentPoints
}

func eventTypes(events []models.DomainEvent) []models.EventType {
	out := make([]models.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType())
	}
	return out
}

func TestHandleMessage(t *testing.T) {
	f := newFixture(t)
	resp := f.orch.HandleMessage(f.ctx, 1, "hoy estoy feliz", "ana")

	require.Empty(t, resp.Error)
	assert.Equal(t, int64(1), resp.UserID)
	assert.Equal(t, t0, resp.Timestamp)
	require.NotNil(t, resp.Points)
	assert.Equal(t, int64(5), resp.Points.Awarded)
	assert.Equal(t, int64(5), resp.Points.Balance)
	require.NotNil(t, resp.EmotionalState)
	assert.Equal(t, models.EmotionJoy, resp.EmotionalState.DominantEmotion)
	require.NotNil(t, resp.NarrativeFragment)
	assert.Equal(t, "start", resp.NarrativeFragment.Fragment.Key)
	assert.Contains(t, resp.Text, "Diana:")
	assert.Contains(t, resp.Text, "+5 besitos")

	require.Len(t, f.published, 1)
	assert.Equal(t, []models.EventType{models.EventPointsAwarded, models.EventUserMessage}, eventTypes(f.published[0]))
	assert.Equal(t, 1, f.store.Commits)

	t.Run("VIP multiplier scales message points", func(t *testing.T) {
		_, err := f.ledger.SetVIP(f.ctx, nil, 1)
		require.NoError(t, err)
		resp := f.orch.HandleMessage(f.ctx, 1, "hola", "")
		assert.Equal(t, int64(10), resp.Points.Awarded)
		assert.Equal(t, int64(15), f.balance(t, 1))
	})

	t.Run("Empty message is rejected without side effects", func(t *testing.T) {
		published := len(f.published)
		resp := f.orch.HandleMessage(f.ctx, 1, "   ", "")
		assert.Equal(t, orchestrator.KindValidation, resp.ErrorKind)
		assert.NotEmpty(t, resp.Text)
		assert.Nil(t, resp.Points)
		assert.Len(t, f.published, published)
		assert.Equal(t, 1, f.store.Rollbacks)
	})
}

func TestHandleMessageMissionCompletion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Missions().Upsert(f.ctx, nil, &models.Mission{
		Key:          "chatty",
		Title:        "Conversador",
		MissionType:  models.MissionOneTime,
		PointsReward: 30,
		Objectives:   []models.MissionObjective{{Key: gamification.ObjectiveMessages, Target: 1}},
	}))
	started := f.orch.HandleCommand(f.ctx, 1, "/misiones", []string{"iniciar", "chatty"}, "")
	require.Empty(t, started.Error)
	require.NotNil(t, started.Mission)
	assert.Equal(t, models.MissionInProgress, started.Mission.Status)

	resp := f.orch.HandleMessage(f.ctx, 1, "hola", "")
	require.Empty(t, resp.Error)
	assert.Equal(t, int64(35), resp.Points.Awarded)
	assert.Equal(t, int64(35), resp.Points.Balance)

	last := f.published[len(f.published)-1]
	assert.Contains(t, eventTypes(last), models.EventMissionCompleted)
}

func TestHandleMessageRollsBackOnStorageFailure(t *testing.T) {
	narr := &mocks.NarrativeEngine{}
	narr.On("GetCurrentFragment", mock.Anything, mock.Anything, int64(1)).
		Return(nil, &pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	f := newFixture(t, withNarrative(narr))

	resp := f.orch.HandleMessage(f.ctx, 1, "hola", "")
	assert.Equal(t, orchestrator.KindStorage, resp.ErrorKind)
	assert.Zero(t, f.balance(t, 1))
	assert.Empty(t, f.store.Emotional().Memories())
	assert.Empty(t, f.published)
	f.broker.AssertNotCalled(t, "PublishEvents", mock.Anything, mock.Anything)
	narr.AssertExpectations(t)
}

func TestHandleReaction(t *testing.T) {
	tests := []struct {
		reaction string
		points   int64
	}{
		{"like", 1},
		{"love", 2},
		{"wow", 3},
		{"kiss", 5},
		{"poll", configservice.DefaultPointsPerPoll},
		{"Fire", configservice.DefaultPointsPerReaction},
	}
	for _, tt := range tests {
		t.Run(tt.reaction, func(t *testing.T) {
			f := newFixture(t)
			resp := f.orch.HandleReaction(f.ctx, 1, "msg-1", tt.reaction)
			require.True(t, resp.Success, resp.Error)
			assert.Equal(t, tt.points, resp.PointsAwarded)
			assert.Equal(t, tt.points, f.balance(t, 1))
			require.NotNil(t, resp.EmotionalResponse)

			require.Len(t, f.published, 1)
			var added models.ReactionAddedEvent
			for _, e := range f.published[0] {
				if r, ok := e.(models.ReactionAddedEvent); ok {
					added = r
				}
			}
			assert.Equal(t, "msg-1", added.MessageID)
			assert.Equal(t, tt.points, added.PointsToAward)
		})
	}

	t.Run("Missing reaction type", func(t *testing.T) {
		f := newFixture(t)
		resp := f.orch.HandleReaction(f.ctx, 1, "msg-1", " ")
		assert.False(t, resp.Success)
		assert.Equal(t, orchestrator.KindValidation, resp.ErrorKind)
	})
}

func TestHandleNarrativeChoice(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.HandleNarrativeChoice(f.ctx, 1, "start_forest")
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "forest", resp.NarrativeFragment.Fragment.Key)
	assert.Equal(t, int64(configservice.DefaultNarrativeProgressionPts), resp.PointsAwarded)

	t.Run("Stale choice is a state conflict", func(t *testing.T) {
		resp := f.orch.HandleNarrativeChoice(f.ctx, 1, "start_forest")
		assert.False(t, resp.Success)
		assert.Equal(t, orchestrator.KindStateConflict, resp.ErrorKind)
		assert.Equal(t, "Esa opción ya no está disponible.", resp.Error)
	})

	t.Run("Insufficient balance rolls back the whole action", func(t *testing.T) {
		before := f.balance(t, 1)
		resp := f.orch.HandleNarrativeChoice(f.ctx, 1, "forest_start")
		assert.False(t, resp.Success)
		assert.Equal(t, orchestrator.KindInsufficientBalance, resp.ErrorKind)
		assert.Equal(t, before, f.balance(t, 1))

		view, err := f.engine.GetCurrentFragment(f.ctx, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, "forest", view.Fragment.Key)
	})

	t.Run("Unknown choice", func(t *testing.T) {
		resp := f.orch.HandleNarrativeChoice(f.ctx, 1, "nope")
		assert.Equal(t, orchestrator.KindNotFound, resp.ErrorKind)
	})
}

func TestBrokerFailureDoesNotFailAction(t *testing.T) {
	f := newFixture(t)
	f.broker.ExpectedCalls = nil
	f.broker.On("PublishEvents", mock.Anything, mock.Anything).Return(errors.New("connection closed"))

	resp := f.orch.HandleReaction(f.ctx, 1, "m", "like")
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), f.balance(t, 1))
	f.broker.AssertNumberOfCalls(t, "PublishEvents", 1)
}

func TestLockFailure(t *testing.T) {
	locker := &mocks.UserLocker{}
	locker.On("Lock", mock.Anything, int64(1)).Return(nil, context.DeadlineExceeded)
	f := newFixture(t, func(d *orchestrator.Deps) { d.Locker = locker })

	resp := f.orch.HandleReaction(f.ctx, 1, "m", "like")
	assert.False(t, resp.Success)
	assert.Equal(t, orchestrator.KindInternal, resp.ErrorKind)
	assert.Zero(t, f.store.Commits+f.store.Rollbacks)
	locker.AssertExpectations(t)
}

func TestSessionFailure(t *testing.T) {
	session := &mocks.SessionProvider{}
	session.On("WithTx", mock.Anything, mock.Anything).Return(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	f := newFixture(t, func(d *orchestrator.Deps) { d.Session = session })

	resp := f.orch.HandleNarrativeChoice(f.ctx, 1, "start_forest")
	assert.Equal(t, orchestrator.KindStorage, resp.ErrorKind)
	session.AssertExpectations(t)
}
