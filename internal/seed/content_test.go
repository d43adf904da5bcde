package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/models"
	"progression-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const forestContent = `
fragments:
  - key: start
    title: El comienzo
    character: Diana
    text: Diana te espera en la entrada del bosque.
    tags: [intro]
  - key: forest
    title: El bosque
    character: Diana
    text: Los árboles susurran.
    reward_points: 20
    reward_items: [lantern]
    emotional_triggers:
      surprise: 0.4
      fear: 0.1
choices:
  - id: start_forest
    source: start
    target: forest
    text: Entrar al bosque
    points_delta: 5
    relationship_delta: 1
achievements:
  - key: explorer
    name: Explorador
    category: narrative
    points_reward: 50
missions:
  - key: first_steps
    title: Primeros pasos
    mission_type: ONE_TIME
    points_reward: 30
    objectives:
      - key: visit_forest
        target: 1
    achievement_key: explorer
profiles:
  - character_name: Diana
    base:
      joy: 60
      trust: 40
    personality_traits:
      warmth: 0.8
configs:
  - key: points.daily_gift
    value: "15"
    description: Regalo diario
`

func newTestLoader(store *testutil.Store) *Loader {
	return NewLoader(store, Repositories{
		Content:      store.Content(),
		Achievements: store.Achievements(),
		Missions:     store.Missions(),
		Emotional:    store.Emotional(),
		Configs:      store.DynamicConfigs(),
	}, clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), zap.NewNop())
}

func TestDecode(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		file, err := Decode(strings.NewReader(forestContent))
		require.NoError(t, err)
		require.Len(t, file.Fragments, 2)
		assert.Equal(t, 0.4, file.Fragments[1].EmotionalTriggers["surprise"])
		require.Len(t, file.Missions, 1)
		assert.Equal(t, models.MissionOneTime, file.Missions[0].MissionType)
		require.NotNil(t, file.Missions[0].AchievementKey)
		assert.Equal(t, "explorer", *file.Missions[0].AchievementKey)
	})

	t.Run("empty input", func(t *testing.T) {
		file, err := Decode(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, file.Fragments)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Decode(strings.NewReader("fragments:\n  - key: a\n    colour: red\n"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		file ContentFile
		want string
	}{
		{
			name: "duplicate fragment",
			file: ContentFile{Fragments: []FragmentSpec{{Key: "a"}, {Key: "a"}}},
			want: `fragment "a" declared twice`,
		},
		{
			name: "unknown emotion",
			file: ContentFile{Fragments: []FragmentSpec{{Key: "a", EmotionalTriggers: map[string]float64{"love": 1}}}},
			want: `unknown emotion "love"`,
		},
		{
			name: "choice without target",
			file: ContentFile{Choices: []ChoiceSpec{{ID: "c", Source: "a"}}},
			want: "source and target are required",
		},
		{
			name: "bad mission type",
			file: ContentFile{Missions: []models.Mission{{Key: "m", MissionType: "MONTHLY"}}},
			want: `unknown mission_type "MONTHLY"`,
		},
		{
			name: "empty config key",
			file: ContentFile{Configs: []ConfigSpec{{Value: "1"}}},
			want: "configs[0]: key is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.file.Validate()
			require.ErrorIs(t, err, ErrContentIntegrity)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoaderApply(t *testing.T) {
	ctx := context.Background()

	t.Run("writes everything", func(t *testing.T) {
		store := testutil.NewStore()
		file, err := Decode(strings.NewReader(forestContent))
		require.NoError(t, err)

		summary, err := newTestLoader(store).Apply(ctx, file)
		require.NoError(t, err)
		assert.Equal(t, Summary{Fragments: 2, Choices: 1, Achievements: 1, Missions: 1, Profiles: 1, Configs: 1}, summary)

		forest, err := store.Content().GetFragment(ctx, nil, "forest")
		require.NoError(t, err)
		assert.Equal(t, 0.4, forest.EmotionalTriggers.Surprise)
		assert.Equal(t, []string{"lantern"}, forest.RewardItems)

		choices, err := store.Content().ListChoicesBySource(ctx, nil, "start")
		require.NoError(t, err)
		require.Len(t, choices, 1)
		assert.Equal(t, "forest", choices[0].TargetFragmentKey)

		profile, err := store.Emotional().GetProfile(ctx, nil, "Diana")
		require.NoError(t, err)
		assert.Equal(t, 60.0, profile.Base.Joy)
		assert.False(t, profile.CreatedAt.IsZero())

		cfg, err := store.DynamicConfigs().GetByKey(ctx, nil, "points.daily_gift")
		require.NoError(t, err)
		assert.Equal(t, "15", cfg.Value)
	})

	t.Run("dangling choice writes nothing", func(t *testing.T) {
		store := testutil.NewStore()
		file := &ContentFile{
			Fragments: []FragmentSpec{{Key: "start", Text: "..."}},
			Choices:   []ChoiceSpec{{ID: "to_nowhere", Source: "start", Target: "nowhere"}},
		}

		_, err := newTestLoader(store).Apply(ctx, file)
		require.ErrorIs(t, err, ErrContentIntegrity)
		assert.Contains(t, err.Error(), `unknown fragment "nowhere"`)

		n, err := store.Content().CountFragments(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("references resolve against stored content", func(t *testing.T) {
		store := testutil.NewStore()
		loader := newTestLoader(store)
		_, err := loader.Apply(ctx, &ContentFile{
			Fragments:    []FragmentSpec{{Key: "start"}, {Key: "forest"}},
			Achievements: []models.Achievement{{Key: "explorer", Name: "Explorador"}},
		})
		require.NoError(t, err)

		achievementKey := "explorer"
		summary, err := loader.Apply(ctx, &ContentFile{
			Choices:  []ChoiceSpec{{ID: "start_forest", Source: "start", Target: "forest"}},
			Missions: []models.Mission{{Key: "first_steps", MissionType: models.MissionOneTime, AchievementKey: &achievementKey}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Choices)
		assert.Equal(t, 1, summary.Missions)
	})

	t.Run("unknown mission achievement", func(t *testing.T) {
		store := testutil.NewStore()
		missing := "ghost"
		_, err := newTestLoader(store).Apply(ctx, &ContentFile{
			Missions: []models.Mission{{Key: "m", MissionType: models.MissionDaily, AchievementKey: &missing}},
		})
		require.ErrorIs(t, err, ErrContentIntegrity)
		assert.Equal(t, 1, store.Rollbacks)
	})
}
