package emotional_test

import (
	"context"
	"testing"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/configservice"
	"progression-server/internal/emotional"
	"progression-server/internal/eventbus"
	"progression-server/internal/models"
	"progression-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx        context.Context
	store      *testutil.Store
	clock      *clock.Manual
	model      *emotional.Model
	milestones []models.RelationshipMilestoneEvent
}

func newFixture(t *testing.T, cfg map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: testutil.NewStore(),
		clock: clock.NewManual(t0),
	}
	bus := eventbus.New(zap.NewNop())
	bus.Subscribe(models.EventRelationshipMilestone, "test.recorder", func(_ context.Context, e models.DomainEvent) error {
		f.milestones = append(f.milestones, e.(models.RelationshipMilestoneEvent))
		return nil
	})
	f.model = emotional.NewModel(
		f.store.Emotional(),
		emotional.NewKeywordAnalyzer(),
		bus,
		configservice.NewStatic(cfg, zap.NewNop()),
		f.clock,
		zap.NewNop(),
	)
	return f
}

func TestGetOrCreateRelationship(t *testing.T) {
	t.Run("Synthesizes a default profile for unknown characters", func(t *testing.T) {
		f := newFixture(t, nil)
		rel, err := f.model.GetOrCreateRelationship(f.ctx, nil, 1, "Lucía")
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipInitial, rel.Status)
		assert.Equal(t, 1, rel.Level)
		assert.Zero(t, rel.InteractionCount)

		profile, err := f.store.Emotional().GetProfile(f.ctx, nil, "Lucía")
		require.NoError(t, err)
		assert.Equal(t, emotional.DefaultProfileVector, profile.Base)

		state, err := f.model.GetEmotionalState(f.ctx, nil, 1, "Lucía")
		require.NoError(t, err)
		assert.Equal(t, profile.Base, state.Vector)
		assert.Equal(t, models.EmotionJoy, state.DominantEmotion)
	})

	t.Run("Is idempotent", func(t *testing.T) {
		f := newFixture(t, nil)
		first, err := f.model.GetOrCreateRelationship(f.ctx, nil, 1, "Diana")
		require.NoError(t, err)
		second, err := f.model.GetOrCreateRelationship(f.ctx, nil, 1, "Diana")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("Empty name uses the configured default character", func(t *testing.T) {
		f := newFixture(t, map[string]string{configservice.KeyEmotionalDefaultCharacter: "Luna"})
		rel, err := f.model.GetOrCreateRelationship(f.ctx, nil, 1, "")
		require.NoError(t, err)
		assert.Equal(t, "Luna", rel.CharacterName)
		assert.Equal(t, "Luna", f.model.DefaultCharacter())
	})

	t.Run("Uses an authored profile", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.store.Emotional().UpsertProfile(f.ctx, nil, &models.CharacterEmotionalProfile{
			CharacterName: "Diana",
			Base:          models.EmotionVector{Trust: 60, Fear: 20},
		}))
		state, err := f.model.GetEmotionalState(f.ctx, nil, 7, "Diana")
		require.NoError(t, err)
		assert.Equal(t, models.EmotionTrust, state.DominantEmotion)
	})
}

func TestProcessMessage(t *testing.T) {
	t.Run("Updates vector, relationship and memory", func(t *testing.T) {
		f := newFixture(t, nil)
		resp, err := f.model.ProcessMessage(f.ctx, nil, 1, "Diana", "estoy muy feliz")
		require.NoError(t, err)

		assert.InDelta(t, 53, resp.Vector.Joy, 1e-9)
		assert.Equal(t, models.EmotionJoy, resp.DominantEmotion)
		assert.Equal(t, 1, resp.Relationship.InteractionCount)
		assert.InDelta(t, 0.015, resp.Relationship.TrustLevel, 1e-9)
		assert.InDelta(t, 0.01, resp.Relationship.Familiarity, 1e-9)
		assert.InDelta(t, 0.009, resp.Relationship.Rapport, 1e-9)
		assert.False(t, resp.StageChanged)

		memories := f.store.Emotional().Memories()
		require.Len(t, memories, 1)
		assert.InDelta(t, 0.15, memories[0].ImportanceScore, 1e-9)
		assert.Equal(t, "message: estoy muy feliz", memories[0].Summary)
	})

	t.Run("Neutral text still records a minimal memory", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.model.ProcessMessage(f.ctx, nil, 1, "Diana", "la mesa es azul")
		require.NoError(t, err)
		memories := f.store.Emotional().Memories()
		require.Len(t, memories, 1)
		assert.Equal(t, models.MinMemoryImportance, memories[0].ImportanceScore)
	})

	t.Run("Negative trust is clamped at zero", func(t *testing.T) {
		f := newFixture(t, nil)
		resp, err := f.model.ProcessMessage(f.ctx, nil, 1, "Diana", "odio esto, qué asco, tengo miedo")
		require.NoError(t, err)
		assert.Zero(t, resp.Relationship.TrustLevel)
	})

	t.Run("Adapts personality", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.model.ProcessMessage(f.ctx, nil, 1, "Diana", "jajaja ¿en serio?")
		require.NoError(t, err)
		p, err := f.model.GetPersonality(f.ctx, nil, 1, "Diana")
		require.NoError(t, err)
		assert.InDelta(t, 0.55, p.Dials[models.DialHumor], 1e-9)
		assert.InDelta(t, 0.56, p.Dials[models.DialDirectness], 1e-9)
		assert.InDelta(t, 0.5, p.Dials[models.DialFormality], 1e-9)
		assert.InDelta(t, 0.15, p.ConfidenceScore, 1e-9)
	})
}

func TestStageEscalation(t *testing.T) {
	f := newFixture(t, nil)

	changed := 0
	var last *models.EmotionalResponse
	for i := 0; i < 6; i++ {
		resp, err := f.model.ProcessReaction(f.ctx, nil, 1, "Diana", "love")
		require.NoError(t, err)
		if resp.StageChanged {
			changed++
		}
		last = resp
	}

	// each love reaction adds 0.04 trust, ACQUAINTANCE needs 5 interactions and 0.2
	assert.Equal(t, models.RelationshipAcquaintance, last.Relationship.Status)
	assert.Equal(t, 2, last.Relationship.Level)
	assert.Equal(t, 1, changed)
	require.Len(t, f.milestones, 1)
	assert.Equal(t, models.RelationshipMilestoneEvent{
		UserID:    1,
		Character: "Diana",
		OldStatus: models.RelationshipInitial,
		NewStatus: models.RelationshipAcquaintance,
	}, f.milestones[0])

	t.Run("Stage never goes down", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			_, err := f.model.ProcessMessage(f.ctx, nil, 1, "Diana", "odio esto, qué asco")
			require.NoError(t, err)
		}
		rel, err := f.model.GetOrCreateRelationship(f.ctx, nil, 1, "Diana")
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipAcquaintance, rel.Status)
		assert.Len(t, f.milestones, 1)
	})
}

func TestProcessReaction(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.model.ProcessReaction(f.ctx, nil, 1, "Diana", "wow")
	require.NoError(t, err)
	assert.InDelta(t, 26, resp.Vector.Surprise, 1e-9)

	resp, err = f.model.ProcessReaction(f.ctx, nil, 1, "Diana", "thumbs_sideways")
	require.NoError(t, err)
	assert.InDelta(t, 51, resp.Vector.Joy, 1e-9)
}

func TestProcessNarrativeProgression(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.model.ProcessNarrativeProgression(f.ctx, nil, 1, "Diana",
		models.EmotionVector{Fear: 5, Sadness: 0.5}, "the storm")
	require.NoError(t, err)

	// Impact scalars are clamped to [0,1] before scaling.
	assert.InDelta(t, 20, resp.Vector.Fear, 1e-9)
	assert.InDelta(t, 15, resp.Vector.Sadness, 1e-9)
	assert.Equal(t, "narrative: the storm", f.store.Emotional().Memories()[0].Summary)
}

func TestMemories(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.model.ProcessMessage(f.ctx, nil, 1, "Diana", "la mesa es azul")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.model.ProcessMessage(f.ctx, nil, 1, "Diana", "feliz feliz genial, confio en ti")
	require.NoError(t, err)

	t.Run("Recall orders by importance and marks recalled", func(t *testing.T) {
		recalled, err := f.model.RecallMemories(f.ctx, nil, 1, "Diana", 1)
		require.NoError(t, err)
		require.Len(t, recalled, 1)
		assert.Contains(t, recalled[0].Summary, "feliz")
		assert.Equal(t, 1, recalled[0].RecallCount)
		require.NotNil(t, recalled[0].LastRecalledAt)
	})

	t.Run("Forget drops stale unrecalled memories only", func(t *testing.T) {
		n, err := f.model.ForgetStaleMemories(f.ctx, nil, 1, "Diana")
		require.NoError(t, err)
		assert.Zero(t, n)

		f.clock.Advance(configservice.DefaultMemoryForgetAfter + time.Hour)
		n, err = f.model.ForgetStaleMemories(f.ctx, nil, 1, "Diana")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		remaining, err := f.model.RecallMemories(f.ctx, nil, 1, "Diana", 0)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Contains(t, remaining[0].Summary, "feliz")
	})
}
