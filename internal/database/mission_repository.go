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
	missionColumns     = `id, key, title, description, mission_type, time_limit_hours, points_reward, objectives, achievement_key`
	userMissionColumns = `id, user_id, mission_id, mission_key, status, progress, progress_percentage, started_at,
               expires_at, completed_at, reward_claimed, version, updated_at`

	getMissionByKeyQuery = `SELECT ` + missionColumns + ` FROM missions WHERE key = $1`
	listMissionsQuery    = `SELECT ` + missionColumns + ` FROM missions ORDER BY key`
	upsertMissionQuery   = `
        INSERT INTO missions (id, key, title, description, mission_type, time_limit_hours, points_reward, objectives, achievement_key)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (key) DO UPDATE SET
            title = EXCLUDED.title,
            description = EXCLUDED.description,
            mission_type = EXCLUDED.mission_type,
            time_limit_hours = EXCLUDED.time_limit_hours,
            points_reward = EXCLUDED.points_reward,
            objectives = EXCLUDED.objectives,
            achievement_key = EXCLUDED.achievement_key
        RETURNING id`
	getUserMissionQuery = `
        SELECT ` + userMissionColumns + `
        FROM user_missions
        WHERE user_id = $1 AND mission_id = $2
        FOR UPDATE`
	createUserMissionQuery = `
        INSERT INTO user_missions (id, user_id, mission_id, mission_key, status, progress, progress_percentage,
                                   started_at, expires_at, completed_at, reward_claimed, version, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12)`
	saveUserMissionQuery = `
        UPDATE user_missions SET
            id = $11,
            started_at = $12,
            status = $3,
            progress = $4,
            progress_percentage = $5,
            expires_at = $6,
            completed_at = $7,
            reward_claimed = $8,
            updated_at = $9,
            version = version + 1
        WHERE user_id = $1 AND mission_id = $2 AND version = $10`
	listUserMissionsQuery = `SELECT ` + userMissionColumns + ` FROM user_missions WHERE user_id = $1 ORDER BY mission_key`
)

type pgMissionRepository struct {
	logger *zap.Logger
}

var _ interfaces.MissionRepository = (*pgMissionRepository)(nil)

func NewPgMissionRepository(logger *zap.Logger) interfaces.MissionRepository {
	return &pgMissionRepository{logger: logger.Named("PgMissionRepo")}
}

func (r *pgMissionRepository) GetByKey(ctx context.Context, querier interfaces.DBTX, key string) (*models.Mission, error) {
	var m models.Mission
	if err := pgxscan.Get(ctx, querier, &m, getMissionByKeyQuery, key); err != nil {
		return nil, WrapNotFound(err)
	}
	return &m, nil
}

func (r *pgMissionRepository) List(ctx context.Context, querier interfaces.DBTX) ([]models.Mission, error) {
	list := []models.Mission{}
	if err := pgxscan.Select(ctx, querier, &list, listMissionsQuery); err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	return list, nil
}

func (r *pgMissionRepository) Upsert(ctx context.Context, querier interfaces.DBTX, m *models.Mission) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	objectives := m.Objectives
	if objectives == nil {
		objectives = []models.MissionObjective{}
	}
	err := querier.QueryRow(ctx, upsertMissionQuery,
		m.ID, m.Key, m.Title, m.Description, m.MissionType, m.TimeLimitHours, m.PointsReward, objectives, m.AchievementKey).Scan(&m.ID)
	if err != nil {
		r.logger.Error("Failed to upsert mission", zap.String("mission_key", m.Key), zap.Error(err))
		return fmt.Errorf("failed to upsert mission %s: %w", m.Key, err)
	}
	return nil
}

func (r *pgMissionRepository) GetUserMission(ctx context.Context, querier interfaces.DBTX, userID int64, missionID uuid.UUID) (*models.UserMission, error) {
	var um models.UserMission
	if err := pgxscan.Get(ctx, querier, &um, getUserMissionQuery, userID, missionID); err != nil {
		return nil, WrapNotFound(err)
	}
	if um.Progress == nil {
		um.Progress = map[string]int{}
	}
	return &um, nil
}

func (r *pgMissionRepository) CreateUserMission(ctx context.Context, querier interfaces.DBTX, um *models.UserMission) error {
	if um.ID == uuid.Nil {
		um.ID = uuid.New()
	}
	_, err := querier.Exec(ctx, createUserMissionQuery,
		um.ID, um.UserID, um.MissionID, um.MissionKey, um.Status, nonNilProgress(um.Progress), um.ProgressPercentage,
		um.StartedAt, um.ExpiresAt, um.CompletedAt, um.RewardClaimed, um.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user mission exists", models.ErrConcurrentUpdate)
		}
		r.logger.Error("Failed to create user mission",
			zap.Int64("user_id", um.UserID), zap.String("mission_key", um.MissionKey), zap.Error(err))
		return fmt.Errorf("failed to create user mission: %w", err)
	}
	um.Version = 1
	return nil
}

func (r *pgMissionRepository) SaveUserMission(ctx context.Context, querier interfaces.DBTX, um *models.UserMission) error {
	tag, err := querier.Exec(ctx, saveUserMissionQuery,
		um.UserID, um.MissionID, um.Status, nonNilProgress(um.Progress), um.ProgressPercentage,
		um.ExpiresAt, um.CompletedAt, um.RewardClaimed, um.UpdatedAt, um.Version, um.ID, um.StartedAt)
	if err != nil {
		r.logger.Error("Failed to save user mission",
			zap.Int64("user_id", um.UserID), zap.String("mission_key", um.MissionKey), zap.Error(err))
		return fmt.Errorf("failed to save user mission: %w", err)
	}
	if err := casResult(tag); err != nil {
		return err
	}
	um.Version++
	return nil
}

func (r *pgMissionRepository) ListUserMissions(ctx context.Context, querier interfaces.DBTX, userID int64) ([]models.UserMission, error) {
	list := []models.UserMission{}
	if err := pgxscan.Select(ctx, querier, &list, listUserMissionsQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to list user missions: %w", err)
	}
	return list, nil
}

func nonNilProgress(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
