package interfaces

import (
	"context"
	"time"

	"progression-server/internal/models"

	"github.com/google/uuid"
)

// StoryContentRepository gives access to the fragment graph. Content is read-only at runtime;
// the Upsert methods are used by the seed tool.
type StoryContentRepository interface {
	// GetFragment returns models.ErrNotFound for unknown keys.
	GetFragment(ctx context.Context, querier DBTX, key string) (*models.StoryFragment, error)
	// GetChoice returns models.ErrNotFound for unknown ids.
	GetChoice(ctx context.Context, querier DBTX, id string) (*models.NarrativeChoice, error)
	// ListChoicesBySource returns the choices leaving a fragment ordered by sort_order.
	ListChoicesBySource(ctx context.Context, querier DBTX, sourceKey string) ([]models.NarrativeChoice, error)
	CountFragments(ctx context.Context, querier DBTX) (int, error)
	UpsertFragment(ctx context.Context, querier DBTX, fragment *models.StoryFragment) error
	UpsertChoice(ctx context.Context, querier DBTX, choice *models.NarrativeChoice) error
}

// NarrativeStateRepository persists UserNarrativeState with optimistic versioning.
type NarrativeStateRepository interface {
	// GetForUpdate locks and returns the user's state, or models.ErrNotFound.
	GetForUpdate(ctx context.Context, querier DBTX, userID int64) (*models.UserNarrativeState, error)
	// Create inserts a new state with version 1.
	Create(ctx context.Context, querier DBTX, state *models.UserNarrativeState) error
	// Save writes state if the stored version equals state.Version and bumps state.Version.
	// Returns models.ErrConcurrentUpdate on a version mismatch.
	Save(ctx context.Context, querier DBTX, state *models.UserNarrativeState) error
}

// PointsRepository persists the per-user ledger and its transaction log.
type PointsRepository interface {
	GetForUpdate(ctx context.Context, querier DBTX, userID int64) (*models.UserPoints, error)
	Create(ctx context.Context, querier DBTX, points *models.UserPoints) error
	// Save is compare-and-swap on Version, see NarrativeStateRepository.Save.
	Save(ctx context.Context, querier DBTX, points *models.UserPoints) error
	InsertTransaction(ctx context.Context, querier DBTX, tx *models.PointTransaction) error
	// ListTransactions returns the newest transactions first.
	ListTransactions(ctx context.Context, querier DBTX, userID int64, limit int) ([]models.PointTransaction, error)
}

// AchievementRepository covers static achievements and per-user completion records.
type AchievementRepository interface {
	GetByKey(ctx context.Context, querier DBTX, key string) (*models.Achievement, error)
	List(ctx context.Context, querier DBTX) ([]models.Achievement, error)
	Upsert(ctx context.Context, querier DBTX, achievement *models.Achievement) error
	// GetUserAchievement returns models.ErrNotFound when the user has no record yet.
	GetUserAchievement(ctx context.Context, querier DBTX, userID int64, achievementID uuid.UUID) (*models.UserAchievement, error)
	// SaveUserAchievement inserts or updates the record keyed by (user_id, achievement_id).
	SaveUserAchievement(ctx context.Context, querier DBTX, ua *models.UserAchievement) error
	ListUserAchievements(ctx context.Context, querier DBTX, userID int64) ([]models.UserAchievement, error)
}

// MissionRepository covers static missions and per-user runs.
type MissionRepository interface {
	GetByKey(ctx context.Context, querier DBTX, key string) (*models.Mission, error)
	List(ctx context.Context, querier DBTX) ([]models.Mission, error)
	Upsert(ctx context.Context, querier DBTX, mission *models.Mission) error
	// GetUserMission locks and returns the user's run, or models.ErrNotFound.
	GetUserMission(ctx context.Context, querier DBTX, userID int64, missionID uuid.UUID) (*models.UserMission, error)
	CreateUserMission(ctx context.Context, querier DBTX, um *models.UserMission) error
	// SaveUserMission is compare-and-swap on Version. It also rewrites ID and StartedAt,
	// which is how a repeatable mission replaces its finished run.
	SaveUserMission(ctx context.Context, querier DBTX, um *models.UserMission) error
	ListUserMissions(ctx context.Context, querier DBTX, userID int64) ([]models.UserMission, error)
}

// EmotionalRepository persists profiles, relationships, affect states, memories and personality adaptations.
type EmotionalRepository interface {
	GetProfile(ctx context.Context, querier DBTX, characterName string) (*models.CharacterEmotionalProfile, error)
	// CreateProfile inserts the profile unless one with the same name exists; it returns the stored one.
	CreateProfile(ctx context.Context, querier DBTX, profile *models.CharacterEmotionalProfile) (*models.CharacterEmotionalProfile, error)
	UpsertProfile(ctx context.Context, querier DBTX, profile *models.CharacterEmotionalProfile) error

	GetRelationship(ctx context.Context, querier DBTX, userID int64, characterID uuid.UUID) (*models.UserCharacterRelationship, error)
	CreateRelationship(ctx context.Context, querier DBTX, rel *models.UserCharacterRelationship) error
	SaveRelationship(ctx context.Context, querier DBTX, rel *models.UserCharacterRelationship) error

	GetEmotionalState(ctx context.Context, querier DBTX, relationshipID uuid.UUID) (*models.UserCharacterEmotionalState, error)
	CreateEmotionalState(ctx context.Context, querier DBTX, state *models.UserCharacterEmotionalState) error
	SaveEmotionalState(ctx context.Context, querier DBTX, state *models.UserCharacterEmotionalState) error

	InsertMemory(ctx context.Context, querier DBTX, memory *models.EmotionalMemory) error
	// ListActiveMemories returns non-forgotten memories ordered by importance, then recency.
	ListActiveMemories(ctx context.Context, querier DBTX, relationshipID uuid.UUID, limit int) ([]models.EmotionalMemory, error)
	MarkMemoriesRecalled(ctx context.Context, querier DBTX, ids []uuid.UUID, at time.Time) error
	// ForgetStaleMemories soft-forgets never-recalled memories below minImportance created before olderThan.
	ForgetStaleMemories(ctx context.Context, querier DBTX, relationshipID uuid.UUID, olderThan time.Time, minImportance float64) (int64, error)

	GetPersonality(ctx context.Context, querier DBTX, relationshipID uuid.UUID) (*models.PersonalityAdaptation, error)
	CreatePersonality(ctx context.Context, querier DBTX, p *models.PersonalityAdaptation) error
	SavePersonality(ctx context.Context, querier DBTX, p *models.PersonalityAdaptation) error
}

// DynamicConfigRepository определяет методы для доступа к динамическим настройкам.
type DynamicConfigRepository interface {
	GetByKey(ctx context.Context, querier DBTX, key string) (*models.DynamicConfig, error)
	GetAll(ctx context.Context, querier DBTX) ([]*models.DynamicConfig, error)
	Upsert(ctx context.Context, querier DBTX, config *models.DynamicConfig) error
}
