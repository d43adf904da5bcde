package interfaces

import (
	"context"

	"progression-server/internal/models"
)

// GamificationLedger owns points, levels, achievements and missions.
type GamificationLedger interface {
	AwardPoints(ctx context.Context, tx DBTX, userID int64, amount int64, source models.PointSource, description string) (*models.AwardResult, error)
	SpendPoints(ctx context.Context, tx DBTX, userID int64, amount int64, reason string) (*models.UserPoints, error)
	GetPoints(ctx context.Context, tx DBTX, userID int64) (*models.UserPoints, error)
	CalculateLevel(points int64) models.LevelInfo
	SetMultiplier(ctx context.Context, tx DBTX, userID int64, name string, factor float64) (*models.UserPoints, error)
	ClearMultiplier(ctx context.Context, tx DBTX, userID int64, name string) (*models.UserPoints, error)
	SetVIP(ctx context.Context, tx DBTX, userID int64) (*models.UserPoints, error)
	ClearVIP(ctx context.Context, tx DBTX, userID int64) (*models.UserPoints, error)
	GetHistory(ctx context.Context, tx DBTX, userID int64, limit int) ([]models.PointTransaction, error)
	ClaimDailyGift(ctx context.Context, tx DBTX, userID int64) (*models.AwardResult, error)
	GetProfile(ctx context.Context, tx DBTX, userID int64) (*models.UserProfile, error)

	CompleteAchievement(ctx context.Context, tx DBTX, userID int64, key string) (*models.AchievementCompletion, error)
	UpdateAchievementProgress(ctx context.Context, tx DBTX, userID int64, key string, progress float64) (*models.UserAchievement, error)
	CheckLevelAchievements(ctx context.Context, tx DBTX, userID int64, level int) ([]models.AchievementCompletion, error)
	ListAchievements(ctx context.Context, tx DBTX, userID int64) ([]models.AchievementView, error)

	StartMission(ctx context.Context, tx DBTX, userID int64, key string) (*models.UserMission, error)
	UpdateMissionProgress(ctx context.Context, tx DBTX, userID int64, key string, patch map[string]int, percentage *float64) (*models.MissionUpdateResult, error)
	IncrementObjective(ctx context.Context, tx DBTX, userID int64, objective string, delta int) ([]models.MissionUpdateResult, error)
	ListMissions(ctx context.Context, tx DBTX, userID int64) ([]models.MissionView, error)
}

// EmotionalModel owns relationships and their affect vectors.
type EmotionalModel interface {
	GetOrCreateRelationship(ctx context.Context, tx DBTX, userID int64, characterName string) (*models.UserCharacterRelationship, error)
	ProcessMessage(ctx context.Context, tx DBTX, userID int64, characterName, text string) (*models.EmotionalResponse, error)
	ProcessReaction(ctx context.Context, tx DBTX, userID int64, characterName, reactionType string) (*models.EmotionalResponse, error)
	ProcessNarrativeProgression(ctx context.Context, tx DBTX, userID int64, characterName string, impact models.EmotionVector, summary string) (*models.EmotionalResponse, error)
	GetEmotionalState(ctx context.Context, tx DBTX, userID int64, characterName string) (*models.UserCharacterEmotionalState, error)
	RecallMemories(ctx context.Context, tx DBTX, userID int64, characterName string, limit int) ([]models.EmotionalMemory, error)
	ForgetStaleMemories(ctx context.Context, tx DBTX, userID int64, characterName string) (int64, error)
	DefaultCharacter() string
}

// NarrativeEngine owns the fragment graph traversal of each user.
type NarrativeEngine interface {
	GetCurrentFragment(ctx context.Context, tx DBTX, userID int64) (*models.FragmentView, error)
	MakeChoice(ctx context.Context, tx DBTX, userID int64, choiceID string) (*models.ChoiceResult, error)
	GetProgress(ctx context.Context, tx DBTX, userID int64) (float64, error)
	Reset(ctx context.Context, tx DBTX, userID int64) (*models.UserNarrativeState, error)
	AddItem(ctx context.Context, tx DBTX, userID int64, itemKey string, qty int) (*models.UserNarrativeState, error)
	GetInventory(ctx context.Context, tx DBTX, userID int64) (map[string]int, error)
	SetVariable(ctx context.Context, tx DBTX, userID int64, name string, value any) error
}
