package database

import (
	"context"
	"fmt"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	achievementColumns     = `id, key, name, description, category, points_reward, is_hidden`
	userAchievementColumns = `id, user_id, achievement_id, achievement_key, progress, is_completed, completed_at, created_at, updated_at`

	getAchievementByKeyQuery = `SELECT ` + achievementColumns + ` FROM achievements WHERE key = $1`
	listAchievementsQuery    = `SELECT ` + achievementColumns + ` FROM achievements ORDER BY key`
	upsertAchievementQuery   = `
        INSERT INTO achievements (id, key, name, description, category, points_reward, is_hidden)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (key) DO UPDATE SET
            name = EXCLUDED.name,
            description = EXCLUDED.description,
            category = EXCLUDED.category,
            points_reward = EXCLUDED.points_reward,
            is_hidden = EXCLUDED.is_hidden
        RETURNING id`
	getUserAchievementQuery = `
        SELECT ` + userAchievementColumns + `
        FROM user_achievements
        WHERE user_id = $1 AND achievement_id = $2
        FOR UPDATE`
	saveUserAchievementQuery = `
        INSERT INTO user_achievements (id, user_id, achievement_id, achievement_key, progress, is_completed,
                                       completed_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (user_id, achievement_id) DO UPDATE SET
            progress = EXCLUDED.progress,
            is_completed = user_achievements.is_completed OR EXCLUDED.is_completed,
            completed_at = COALESCE(user_achievements.completed_at, EXCLUDED.completed_at),
            updated_at = EXCLUDED.updated_at
        RETURNING id`
	listUserAchievementsQuery = `SELECT ` + userAchievementColumns + ` FROM user_achievements WHERE user_id = $1 ORDER BY achievement_key`
)

type pgAchievementRepository struct {
	logger *zap.Logger
}

var _ interfaces.AchievementRepository = (*pgAchievementRepository)(nil)

func NewPgAchievementRepository(logger *zap.Logger) interfaces.AchievementRepository {
	return &pgAchievementRepository{logger: logger.Named("PgAchievementRepo")}
}

func (r *pgAchievementRepository) GetByKey(ctx context.Context, querier interfaces.DBTX, key string) (*models.Achievement, error) {
	var a models.Achievement
	if err := pgxscan.Get(ctx, querier, &a, getAchievementByKeyQuery, key); err != nil {
		return nil, WrapNotFound(err)
	}
	return &a, nil
}

func (r *pgAchievementRepository) List(ctx context.Context, querier interfaces.DBTX) ([]models.Achievement, error) {
	list := []models.Achievement{}
	if err := pgxscan.Select(ctx, querier, &list, listAchievementsQuery); err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	return list, nil
}

func (r *pgAchievementRepository) Upsert(ctx context.Context, querier interfaces.DBTX, a *models.Achievement) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := querier.QueryRow(ctx, upsertAchievementQuery,
		a.ID, a.Key, a.Name, a.Description, a.Category, a.PointsReward, a.IsHidden).Scan(&a.ID)
	if err != nil {
		r.logger.Error("Failed to upsert achievement", zap.String("key", a.Key), zap.Error(err))
		return fmt.Errorf("failed to upsert achievement %s: %w", a.Key, err)
	}
	return nil
}

func (r *pgAchievementRepository) GetUserAchievement(ctx context.Context, querier interfaces.DBTX, userID int64, achievementID uuid.UUID) (*models.UserAchievement, error) {
	var ua models.UserAchievement
	if err := pgxscan.Get(ctx, querier, &ua, getUserAchievementQuery, userID, achievementID); err != nil {
		return nil, WrapNotFound(err)
	}
	return &ua, nil
}

func (r *pgAchievementRepository) SaveUserAchievement(ctx context.Context, querier interfaces.DBTX, ua *models.UserAchievement) error {
	if ua.ID == uuid.Nil {
		ua.ID = uuid.New()
	}
	err := querier.QueryRow(ctx, saveUserAchievementQuery,
		ua.ID, ua.UserID, ua.AchievementID, ua.AchievementKey, ua.Progress, ua.IsCompleted,
		ua.CompletedAt, ua.CreatedAt, ua.UpdatedAt).Scan(&ua.ID)
	if err != nil {
		r.logger.Error("Failed to save user achievement",
			zap.Int64("user_id", ua.UserID), zap.String("achievement_key", ua.AchievementKey), zap.Error(err))
		return fmt.Errorf("failed to save user achievement: %w", err)
	}
	return nil
}

func (r *pgAchievementRepository) ListUserAchievements(ctx context.Context, querier interfaces.DBTX, userID int64) ([]models.UserAchievement, error) {
	list := []models.UserAchievement{}
	if err := pgxscan.Select(ctx, querier, &list, listUserAchievementsQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to list user achievements: %w", err)
	}
	return list, nil
}
