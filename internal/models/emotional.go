package models

import (
	"time"

	"github.com/google/uuid"
)

// Emotion is one of the eight base affect dimensions.
type Emotion string

const (
	EmotionJoy          Emotion = "joy"
	EmotionTrust        Emotion = "trust"
	EmotionFear         Emotion = "fear"
	EmotionSadness      Emotion = "sadness"
	EmotionAnger        Emotion = "anger"
	EmotionSurprise     Emotion = "surprise"
	EmotionAnticipation Emotion = "anticipation"
	EmotionDisgust      Emotion = "disgust"

	// EmotionNeutral is reported as dominant when no scalar reaches DominantEmotionFloor.
	EmotionNeutral Emotion = "neutral"
)

// DominantEmotionFloor is the minimum scalar value for an emotion to count as dominant.
const DominantEmotionFloor = 30.0

// Emotions lists the eight dimensions in canonical order. Ties in argmax resolve to the earlier entry.
var Emotions = []Emotion{
	EmotionJoy,
	EmotionTrust,
	EmotionFear,
	EmotionSadness,
	EmotionAnger,
	EmotionSurprise,
	EmotionAnticipation,
	EmotionDisgust,
}

// IsValid reports whether e names one of the eight base dimensions.
func (e Emotion) IsValid() bool {
	for _, known := range Emotions {
		if e == known {
			return true
		}
	}
	return false
}

// EmotionVector holds one scalar per base emotion.
// Stored vectors live in [0,100]; impact vectors live in [0,1].
type EmotionVector struct {
	Joy          float64 `json:"joy"`
	Trust        float64 `json:"trust"`
	Fear         float64 `json:"fear"`
	Sadness      float64 `json:"sadness"`
	Anger        float64 `json:"anger"`
	Surprise     float64 `json:"surprise"`
	Anticipation float64 `json:"anticipation"`
	Disgust      float64 `json:"disgust"`
}

// Get returns the scalar for e, or 0 for unknown names.
func (v EmotionVector) Get(e Emotion) float64 {
	switch e {
	case EmotionJoy:
		return v.Joy
	case EmotionTrust:
		return v.Trust
	case EmotionFear:
		return v.Fear
	case EmotionSadness:
		return v.Sadness
	case EmotionAnger:
		return v.Anger
	case EmotionSurprise:
		return v.Surprise
	case EmotionAnticipation:
		return v.Anticipation
	case EmotionDisgust:
		return v.Disgust
	}
	return 0
}

// With returns a copy of v with e set to value. Unknown names leave v unchanged.
func (v EmotionVector) With(e Emotion, value float64) EmotionVector {
	switch e {
	case EmotionJoy:
		v.Joy = value
	case EmotionTrust:
		v.Trust = value
	case EmotionFear:
		v.Fear = value
	case EmotionSadness:
		v.Sadness = value
	case EmotionAnger:
		v.Anger = value
	case EmotionSurprise:
		v.Surprise = value
	case EmotionAnticipation:
		v.Anticipation = value
	case EmotionDisgust:
		v.Disgust = value
	}
	return v
}

// IsZero reports whether every dimension is zero.
func (v EmotionVector) IsZero() bool {
	return v == EmotionVector{}
}

// Dominant resolves the dominant emotion: the argmax over the canonical order,
// or EmotionNeutral when the maximum is below DominantEmotionFloor.
func (v EmotionVector) Dominant() Emotion {
	best := Emotions[0]
	bestValue := v.Get(best)
	for _, e := range Emotions[1:] {
		if value := v.Get(e); value > bestValue {
			best, bestValue = e, value
		}
	}
	if bestValue < DominantEmotionFloor {
		return EmotionNeutral
	}
	return best
}

// Map converts the vector into a name -> value map (useful for responses).
func (v EmotionVector) Map() map[string]float64 {
	out := make(map[string]float64, len(Emotions))
	for _, e := range Emotions {
		out[string(e)] = v.Get(e)
	}
	return out
}

// RelationshipStatus is a named stage of a user/character relationship.
type RelationshipStatus string

const (
	RelationshipInitial      RelationshipStatus = "INITIAL"
	RelationshipAcquaintance RelationshipStatus = "ACQUAINTANCE"
	RelationshipFriendly     RelationshipStatus = "FRIENDLY"
	RelationshipClose        RelationshipStatus = "CLOSE"
	RelationshipIntimate     RelationshipStatus = "INTIMATE"
)

// RelationshipStage describes the thresholds required to reach a status.
type RelationshipStage struct {
	Status          RelationshipStatus
	MinInteractions int
	MinTrust        float64
}

// RelationshipStages is ordered from the first stage to the last.
var RelationshipStages = []RelationshipStage{
	{Status: RelationshipInitial, MinInteractions: 0, MinTrust: 0},
	{Status: RelationshipAcquaintance, MinInteractions: 5, MinTrust: 0.2},
	{Status: RelationshipFriendly, MinInteractions: 20, MinTrust: 0.4},
	{Status: RelationshipClose, MinInteractions: 50, MinTrust: 0.6},
	{Status: RelationshipIntimate, MinInteractions: 100, MinTrust: 0.8},
}

// StageIndex returns the position of status in RelationshipStages, or 0 if unknown.
func StageIndex(status RelationshipStatus) int {
	for i, stage := range RelationshipStages {
		if stage.Status == status {
			return i
		}
	}
	return 0
}

// CharacterEmotionalProfile is the seed affect of a narrative character.
type CharacterEmotionalProfile struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	CharacterName     string             `json:"character_name" db:"character_name"`
	Base              EmotionVector      `json:"base" db:"base"`
	PersonalityTraits map[string]float64 `json:"personality_traits" db:"personality_traits"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
}

// UserCharacterRelationship is the evolving state between a user and a character.
type UserCharacterRelationship struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	UserID             int64              `json:"user_id" db:"user_id"`
	CharacterID        uuid.UUID          `json:"character_id" db:"character_id"`
	CharacterName      string             `json:"character_name" db:"character_name"`
	Status             RelationshipStatus `json:"status" db:"status"`
	Level              int                `json:"level" db:"level"`
	TrustLevel         float64            `json:"trust_level" db:"trust_level"`
	Familiarity        float64            `json:"familiarity" db:"familiarity"`
	Rapport            float64            `json:"rapport" db:"rapport"`
	InteractionCount   int                `json:"interaction_count" db:"interaction_count"`
	FirstInteractionAt time.Time          `json:"first_interaction_at" db:"first_interaction_at"`
	LastInteractionAt  time.Time          `json:"last_interaction_at" db:"last_interaction_at"`
	Version            int64              `json:"version" db:"version"`
}

// UserCharacterEmotionalState is the current affect vector of one relationship.
type UserCharacterEmotionalState struct {
	RelationshipID  uuid.UUID     `json:"relationship_id" db:"relationship_id"`
	Vector          EmotionVector `json:"vector" db:"vector"`
	DominantEmotion Emotion       `json:"dominant_emotion" db:"dominant_emotion"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
	Version         int64         `json:"version" db:"version"`
}

// EmotionalMemory is an append-only log entry for a relationship.
type EmotionalMemory struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	RelationshipID   uuid.UUID     `json:"relationship_id" db:"relationship_id"`
	Summary          string        `json:"summary" db:"summary"`
	Details          string        `json:"details" db:"details"`
	EmotionalContext EmotionVector `json:"emotional_context" db:"emotional_context"`
	ImportanceScore  float64       `json:"importance_score" db:"importance_score"`
	IsForgotten      bool          `json:"is_forgotten" db:"is_forgotten"`
	RecallCount      int           `json:"recall_count" db:"recall_count"`
	LastRecalledAt   *time.Time    `json:"last_recalled_at,omitempty" db:"last_recalled_at"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
}

// Memory importance bounds.
const (
	MinMemoryImportance = 0.1
	MaxMemoryImportance = 3.0
)

// Personality dials.
const (
	DialWarmth        = "warmth"
	DialFormality     = "formality"
	DialHumor         = "humor"
	DialDirectness    = "directness"
	DialAssertiveness = "assertiveness"
	DialEmpathy       = "empathy"
)

// PersonalityDials lists the adaptation dials in a stable order.
var PersonalityDials = []string{DialWarmth, DialFormality, DialHumor, DialDirectness, DialAssertiveness, DialEmpathy}

// PersonalityAdaptation is the per-relationship style the character adopts towards the user.
type PersonalityAdaptation struct {
	RelationshipID  uuid.UUID          `json:"relationship_id" db:"relationship_id"`
	Dials           map[string]float64 `json:"dials" db:"dials"`
	ConfidenceScore float64            `json:"confidence_score" db:"confidence_score"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
	Version         int64              `json:"version" db:"version"`
}

// RelationshipSummary is the compact relationship view returned to callers.
type RelationshipSummary struct {
	Character        string             `json:"character"`
	Status           RelationshipStatus `json:"status"`
	Level            int                `json:"level"`
	TrustLevel       float64            `json:"trust_level"`
	Familiarity      float64            `json:"familiarity"`
	Rapport          float64            `json:"rapport"`
	InteractionCount int                `json:"interaction_count"`
}

// EmotionalResponse is the result of processing a message, reaction or narrative step.
type EmotionalResponse struct {
	DominantEmotion Emotion             `json:"dominant_emotion"`
	Vector          EmotionVector       `json:"vector"`
	Relationship    RelationshipSummary `json:"relationship_summary"`
	StageChanged    bool                `json:"stage_changed,omitempty"`
}
