package emotional

import (
	"context"
	"fmt"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"
)

// Dial steps.
const (
	humorStep      = 0.05
	formalityStep  = 0.05
	directnessStep = 0.03
	warmthStep     = 0.03
	empathyStep    = 0.03

	shortMessageRunes = 20
	longMessageRunes  = 200
)

// AdaptDials returns the dial deltas implied by a message. An empty map means no adaptation.
func AdaptDials(f TextFeatures, impact models.EmotionVector) map[string]float64 {
	deltas := map[string]float64{}
	if f.HumorMarkers > 0 {
		deltas[models.DialHumor] += humorStep
	}
	if f.FormalMarkers > 0 {
		deltas[models.DialFormality] += formalityStep
	}
	switch {
	case f.Length > 0 && f.Length < shortMessageRunes:
		deltas[models.DialDirectness] += directnessStep
	case f.Length > longMessageRunes:
		deltas[models.DialDirectness] -= directnessStep
	}
	if f.Questions > 0 {
		deltas[models.DialDirectness] += directnessStep
	}
	if f.Exclamations > 0 {
		deltas[models.DialWarmth] += warmthStep
	}
	if impact.Sadness > 0 || impact.Fear > 0 {
		deltas[models.DialEmpathy] += empathyStep
	}
	for k, v := range deltas {
		if v == 0 {
			delete(deltas, k)
		}
	}
	return deltas
}

func (m *Model) adaptPersonality(ctx context.Context, tx interfaces.DBTX, b *relationshipBundle, f TextFeatures, impact models.EmotionVector) error {
	deltas := AdaptDials(f, impact)
	if len(deltas) == 0 {
		return nil
	}
	p := b.personality
	if p.Dials == nil {
		p.Dials = map[string]float64{}
	}
	for dial, delta := range deltas {
		current, ok := p.Dials[dial]
		if !ok {
			current = initialDial
		}
		p.Dials[dial] = clamp(current+delta, 0, 1)
	}
	p.ConfidenceScore = clamp(p.ConfidenceScore+confidenceStep, 0, 1)
	p.UpdatedAt = m.clock.Now()
	if err := m.repo.SavePersonality(ctx, tx, p); err != nil {
		return fmt.Errorf("failed to save personality adaptation: %w", err)
	}
	return nil
}
