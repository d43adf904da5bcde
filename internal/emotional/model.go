package emotional

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"progression-server/internal/clock"
	"progression-server/internal/configservice"
	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Scalar change per unit of impact.
	impactScale = 10.0

	trustRate       = 0.05
	rapportRate     = 0.03
	familiarityStep = 0.01

	initialDial       = 0.5
	initialConfidence = 0.1
	confidenceStep    = 0.05

	staleMemoryImportance = 0.5
	defaultRecallLimit    = 5
	summaryMaxRunes       = 80
)

// DefaultProfileVector seeds characters that have no authored profile.
var DefaultProfileVector = models.EmotionVector{
	Joy:          50,
	Trust:        40,
	Fear:         10,
	Sadness:      10,
	Anger:        5,
	Surprise:     20,
	Anticipation: 30,
	Disgust:      5,
}

// ReactionImpacts maps chat reactions to affect impacts. Unknown reactions use UnknownReactionImpact.
var ReactionImpacts = map[string]models.EmotionVector{
	"like": {Joy: 0.3},
	"love": {Joy: 0.5, Trust: 0.3},
	"wow":  {Surprise: 0.6},
	"kiss": {Joy: 0.5, Anticipation: 0.4},
}

var UnknownReactionImpact = models.EmotionVector{Joy: 0.1}

// Model implements interfaces.EmotionalModel.
type Model struct {
	repo     interfaces.EmotionalRepository
	analyzer ImpactAnalyzer
	bus      interfaces.EventBus
	cfg      *configservice.ConfigService
	clock    clock.Clock
	logger   *zap.Logger
}

var _ interfaces.EmotionalModel = (*Model)(nil)

func NewModel(
	repo interfaces.EmotionalRepository,
	analyzer ImpactAnalyzer,
	bus interfaces.EventBus,
	cfg *configservice.ConfigService,
	clk clock.Clock,
	logger *zap.Logger,
) *Model {
	if analyzer == nil {
		analyzer = NewKeywordAnalyzer()
	}
	return &Model{
		repo:     repo,
		analyzer: analyzer,
		bus:      bus,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.Named("EmotionalModel"),
	}
}

// DefaultCharacter is the character users talk to when none is named.
func (m *Model) DefaultCharacter() string {
	return m.cfg.DefaultCharacter()
}

// relationshipBundle is everything the model mutates for one relationship.
type relationshipBundle struct {
	profile      *models.CharacterEmotionalProfile
	relationship *models.UserCharacterRelationship
	state        *models.UserCharacterEmotionalState
	personality  *models.PersonalityAdaptation
}

func (m *Model) resolveProfile(ctx context.Context, tx interfaces.DBTX, characterName string) (*models.CharacterEmotionalProfile, error) {
	name := strings.TrimSpace(characterName)
	if name == "" {
		name = m.DefaultCharacter()
	}
	profile, err := m.repo.GetProfile(ctx, tx, name)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load character profile %q: %w", name, err)
	}

	m.logger.Warn("Character profile missing, synthesizing default", zap.String("character", name))
	synthesized := &models.CharacterEmotionalProfile{
		ID:            uuid.New(),
		CharacterName: name,
		Base:          DefaultProfileVector,
		PersonalityTraits: map[string]float64{
			models.DialWarmth:    0.6,
			models.DialHumor:     0.5,
			models.DialFormality: 0.3,
		},
		CreatedAt: m.clock.Now(),
	}
	stored, err := m.repo.CreateProfile(ctx, tx, synthesized)
	if err != nil {
		return nil, fmt.Errorf("failed to persist default profile %q: %w", name, err)
	}
	return stored, nil
}

// load returns the relationship bundle, creating relationship, emotional state and personality on first contact.
func (m *Model) load(ctx context.Context, tx interfaces.DBTX, userID int64, characterName string) (*relationshipBundle, error) {
	profile, err := m.resolveProfile(ctx, tx, characterName)
	if err != nil {
		return nil, err
	}
	b := &relationshipBundle{profile: profile}

	rel, err := m.repo.GetRelationship(ctx, tx, userID, profile.ID)
	switch {
	case err == nil:
		b.relationship = rel
	case errors.Is(err, models.ErrNotFound):
		now := m.clock.Now()
		rel = &models.UserCharacterRelationship{
			ID:                 uuid.New(),
			UserID:             userID,
			CharacterID:        profile.ID,
			CharacterName:      profile.CharacterName,
			Status:             models.RelationshipInitial,
			Level:              1,
			FirstInteractionAt: now,
			LastInteractionAt:  now,
		}
		if err := m.repo.CreateRelationship(ctx, tx, rel); err != nil {
			return nil, fmt.Errorf("failed to create relationship: %w", err)
		}
		m.logger.Info("Relationship created", zap.Int64("user_id", userID), zap.String("character", profile.CharacterName))
		b.relationship = rel
	default:
		return nil, fmt.Errorf("failed to load relationship: %w", err)
	}

	state, err := m.repo.GetEmotionalState(ctx, tx, b.relationship.ID)
	switch {
	case err == nil:
		b.state = state
	case errors.Is(err, models.ErrNotFound):
		state = &models.UserCharacterEmotionalState{
			RelationshipID:  b.relationship.ID,
			Vector:          profile.Base,
			DominantEmotion: profile.Base.Dominant(),
			UpdatedAt:       m.clock.Now(),
		}
		if err := m.repo.CreateEmotionalState(ctx, tx, state); err != nil {
			return nil, fmt.Errorf("failed to create emotional state: %w", err)
		}
		b.state = state
	default:
		return nil, fmt.Errorf("failed to load emotional state: %w", err)
	}

	personality, err := m.repo.GetPersonality(ctx, tx, b.relationship.ID)
	switch {
	case err == nil:
		b.personality = personality
	case errors.Is(err, models.ErrNotFound):
		dials := make(map[string]float64, len(models.PersonalityDials))
		for _, d := range models.PersonalityDials {
			dials[d] = initialDial
		}
		personality = &models.PersonalityAdaptation{
			RelationshipID:  b.relationship.ID,
			Dials:           dials,
			ConfidenceScore: initialConfidence,
			UpdatedAt:       m.clock.Now(),
		}
		if err := m.repo.CreatePersonality(ctx, tx, personality); err != nil {
			return nil, fmt.Errorf("failed to create personality adaptation: %w", err)
		}
		b.personality = personality
	default:
		return nil, fmt.Errorf("failed to load personality adaptation: %w", err)
	}
	return b, nil
}

// GetOrCreateRelationship is idempotent.
func (m *Model) GetOrCreateRelationship(ctx context.Context, tx interfaces.DBTX, userID int64, characterName string) (*models.UserCharacterRelationship, error) {
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return nil, err
	}
	return b.relationship, nil
}

// GetEmotionalState returns the current affect vector of the relationship.
func (m *Model) GetEmotionalState(ctx context.Context, tx interfaces.DBTX, userID int64, characterName string) (*models.UserCharacterEmotionalState, error) {
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return nil, err
	}
	return b.state, nil
}

// GetPersonality returns the relationship's personality adaptation.
func (m *Model) GetPersonality(ctx context.Context, tx interfaces.DBTX, userID int64, characterName string) (*models.PersonalityAdaptation, error) {
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return nil, err
	}
	return b.personality, nil
}

// ProcessMessage analyzes text, updates the affect vector and adapts the personality.
func (m *Model) ProcessMessage(ctx context.Context, tx interfaces.DBTX, userID int64, characterName, text string) (*models.EmotionalResponse, error) {
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return nil, err
	}
	impact := m.analyzer.Analyze(text)
	resp, err := m.apply(ctx, tx, b, impact, "message: "+truncate(text, summaryMaxRunes), text)
	if err != nil {
		return nil, err
	}
	if err := m.adaptPersonality(ctx, tx, b, ExtractFeatures(text), impact); err != nil {
		return nil, err
	}
	return resp, nil
}

// ProcessReaction applies the impact of a chat reaction.
func (m *Model) ProcessReaction(ctx context.Context, tx interfaces.DBTX, userID int64, characterName, reactionType string) (*models.EmotionalResponse, error) {
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return nil, err
	}
	impact, ok := ReactionImpacts[strings.ToLower(reactionType)]
	if !ok {
		impact = UnknownReactionImpact
	}
	return m.apply(ctx, tx, b, impact, "reaction: "+reactionType, "")
}

// ProcessNarrativeProgression applies an impact derived from the story.
func (m *Model) ProcessNarrativeProgression(ctx context.Context, tx interfaces.DBTX, userID int64, characterName string, impact models.EmotionVector, summary string) (*models.EmotionalResponse, error) {
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return nil, err
	}
	return m.apply(ctx, tx, b, clampImpact(impact), "narrative: "+truncate(summary, summaryMaxRunes), summary)
}

// apply runs the shared update algorithm for one interaction.
func (m *Model) apply(ctx context.Context, tx interfaces.DBTX, b *relationshipBundle, impact models.EmotionVector, summary, details string) (*models.EmotionalResponse, error) {
	now := m.clock.Now()
	logFields := []zap.Field{
		zap.Int64("user_id", b.relationship.UserID),
		zap.String("character", b.relationship.CharacterName),
	}

	vector := b.state.Vector
	for _, e := range models.Emotions {
		if i := impact.Get(e); i != 0 {
			vector = vector.With(e, clamp(vector.Get(e)+i*impactScale, 0, 100))
		}
	}
	b.state.Vector = vector
	b.state.DominantEmotion = vector.Dominant()
	b.state.UpdatedAt = now
	if err := m.repo.SaveEmotionalState(ctx, tx, b.state); err != nil {
		return nil, fmt.Errorf("failed to save emotional state: %w", err)
	}

	memory := &models.EmotionalMemory{
		ID:               uuid.New(),
		RelationshipID:   b.relationship.ID,
		Summary:          summary,
		Details:          details,
		EmotionalContext: impact,
		ImportanceScore:  Importance(impact),
		CreatedAt:        now,
	}
	if err := m.repo.InsertMemory(ctx, tx, memory); err != nil {
		return nil, fmt.Errorf("failed to store emotional memory: %w", err)
	}

	rel := b.relationship
	oldStatus := rel.Status
	rel.InteractionCount++
	rel.LastInteractionAt = now
	rel.TrustLevel = clamp(rel.TrustLevel+(impact.Joy+impact.Trust-impact.Anger-impact.Disgust-impact.Fear)*trustRate, 0, 1)
	rel.Familiarity = clamp(rel.Familiarity+familiarityStep, 0, 1)
	rel.Rapport = clamp(rel.Rapport+(impact.Joy+impact.Anticipation+impact.Surprise)*rapportRate, 0, 1)
	stageIdx := StageFor(rel.InteractionCount, rel.TrustLevel)
	if stageIdx > models.StageIndex(rel.Status) {
		rel.Status = models.RelationshipStages[stageIdx].Status
		rel.Level = stageIdx + 1
	}
	if err := m.repo.SaveRelationship(ctx, tx, rel); err != nil {
		return nil, fmt.Errorf("failed to save relationship: %w", err)
	}

	resp := &models.EmotionalResponse{
		DominantEmotion: b.state.DominantEmotion,
		Vector:          b.state.Vector,
		Relationship:    summarize(rel),
		StageChanged:    rel.Status != oldStatus,
	}
	m.logger.Debug("Interaction processed", append(logFields,
		zap.String("dominant_emotion", string(resp.DominantEmotion)),
		zap.Int("interaction_count", rel.InteractionCount),
	)...)

	if resp.StageChanged {
		m.logger.Info("Relationship milestone", append(logFields,
			zap.String("old_status", string(oldStatus)), zap.String("new_status", string(rel.Status)))...)
		m.bus.Publish(ctx, models.RelationshipMilestoneEvent{
			UserID:    rel.UserID,
			Character: rel.CharacterName,
			OldStatus: oldStatus,
			NewStatus: rel.Status,
		})
	}
	return resp, nil
}

// StageFor returns the index of the highest stage whose thresholds are both met.
func StageFor(interactions int, trust float64) int {
	idx := 0
	for i, stage := range models.RelationshipStages {
		if interactions >= stage.MinInteractions && trust >= stage.MinTrust {
			idx = i
		}
	}
	return idx
}

// Importance is clamp(sum(|impact|)/2, 0.1, 3.0).
func Importance(impact models.EmotionVector) float64 {
	var sum float64
	for _, e := range models.Emotions {
		sum += math.Abs(impact.Get(e))
	}
	return clamp(sum/2, models.MinMemoryImportance, models.MaxMemoryImportance)
}

func clampImpact(v models.EmotionVector) models.EmotionVector {
	for _, e := range models.Emotions {
		v = v.With(e, clamp(v.Get(e), 0, 1))
	}
	return v
}

func summarize(rel *models.UserCharacterRelationship) models.RelationshipSummary {
	return models.RelationshipSummary{
		Character:        rel.CharacterName,
		Status:           rel.Status,
		Level:            rel.Level,
		TrustLevel:       rel.TrustLevel,
		Familiarity:      rel.Familiarity,
		Rapport:          rel.Rapport,
		InteractionCount: rel.InteractionCount,
	}
}

func truncate(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "…"
}
