package emotional

import (
	"testing"

	"progression-server/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestKeywordAnalyzer(t *testing.T) {
	a := NewKeywordAnalyzer()

	t.Run("Empty text has no impact", func(t *testing.T) {
		assert.True(t, a.Analyze("").IsZero())
		assert.True(t, a.Analyze("  ¿¡!? ").IsZero())
	})

	t.Run("Accents and punctuation are ignored", func(t *testing.T) {
		impact := a.Analyze("¡Estoy FELIZ, qué alegría!")
		assert.InDelta(t, 0.6, impact.Joy, 1e-9)
		assert.Zero(t, impact.Sadness)
	})

	t.Run("Phrases match on word boundaries", func(t *testing.T) {
		impact := a.Analyze("no puede ser, en serio?")
		assert.InDelta(t, 0.6, impact.Surprise, 1e-9)
	})

	t.Run("Impact is capped at 1", func(t *testing.T) {
		impact := a.Analyze("triste triste sola llorar tristeza sad lonely")
		assert.Equal(t, 1.0, impact.Sadness)
	})

	t.Run("Substrings do not match", func(t *testing.T) {
		assert.Zero(t, a.Analyze("solomon").Sadness)
	})

	t.Run("Custom keywords are normalized", func(t *testing.T) {
		custom := NewKeywordAnalyzerWith(map[models.Emotion][]string{
			models.EmotionTrust: {"Confío"},
		})
		assert.InDelta(t, 0.3, custom.Analyze("yo confio en ti").Trust, 1e-9)
	})
}

func TestExtractFeatures(t *testing.T) {
	f := ExtractFeatures("Disculpe, ¿usted vio eso? jajaja!!")
	assert.Equal(t, 1, f.Questions)
	assert.Equal(t, 2, f.Exclamations)
	assert.Equal(t, 1, f.HumorMarkers)
	assert.Equal(t, 2, f.FormalMarkers)
}

func TestAdaptDials(t *testing.T) {
	t.Run("Short question raises directness twice", func(t *testing.T) {
		deltas := AdaptDials(ExtractFeatures("¿y tú?"), models.EmotionVector{})
		assert.InDelta(t, 0.06, deltas[models.DialDirectness], 1e-9)
	})

	t.Run("Sadness raises empathy", func(t *testing.T) {
		deltas := AdaptDials(TextFeatures{Length: 50}, models.EmotionVector{Sadness: 0.3})
		assert.Equal(t, map[string]float64{models.DialEmpathy: empathyStep}, deltas)
	})

	t.Run("Neutral medium message adapts nothing", func(t *testing.T) {
		assert.Empty(t, AdaptDials(TextFeatures{Length: 50}, models.EmotionVector{}))
	})
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		name         string
		interactions int
		trust        float64
		want         int
	}{
		{"Fresh", 0, 0, 0},
		{"Many interactions without trust", 200, 0.1, 0},
		{"Acquaintance", 5, 0.2, 1},
		{"Trust without interactions", 3, 0.9, 0},
		{"Friendly", 49, 0.59, 2},
		{"Intimate", 100, 0.8, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StageFor(tt.interactions, tt.trust))
		})
	}
}

func TestImportance(t *testing.T) {
	assert.Equal(t, models.MinMemoryImportance, Importance(models.EmotionVector{}))
	assert.InDelta(t, 0.4, Importance(models.EmotionVector{Joy: 0.5, Trust: 0.3}), 1e-9)
	assert.Equal(t, models.MaxMemoryImportance, Importance(models.EmotionVector{
		Joy: 1, Trust: 1, Fear: 1, Sadness: 1, Anger: 1, Surprise: 1, Anticipation: 1, Disgust: 1,
	}))
}
