package gamification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"progression-server/internal/interfaces"
	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"go.uber.org/zap"
)

// AchievementWelcome is completed when a user starts the bot, if it is defined.
const AchievementWelcome = "welcome"

func (l *Ledger) getAchievement(ctx context.Context, tx interfaces.DBTX, key string) (*models.Achievement, error) {
	a, err := l.achievementRepo.GetByKey(ctx, tx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: achievement %q", models.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to load achievement %q: %w", key, err)
	}
	return a, nil
}

func (l *Ledger) getUserAchievement(ctx context.Context, tx interfaces.DBTX, userID int64, a *models.Achievement) (*models.UserAchievement, error) {
	ua, err := l.achievementRepo.GetUserAchievement(ctx, tx, userID, a.ID)
	if err == nil {
		return ua, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user achievement %q: %w", a.Key, err)
	}
	now := l.clock.Now()
	return &models.UserAchievement{
		UserID:         userID,
		AchievementID:  a.ID,
		AchievementKey: a.Key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CompleteAchievement is idempotent: a completed achievement is returned as is and never re-awarded.
func (l *Ledger) CompleteAchievement(ctx context.Context, tx interfaces.DBTX, userID int64, key string) (*models.AchievementCompletion, error) {
	logFields := []zap.Field{zap.Int64("user_id", userID), zap.String("achievement_key", key)}

	a, err := l.getAchievement(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	ua, err := l.getUserAchievement(ctx, tx, userID, a)
	if err != nil {
		return nil, err
	}
	if ua.IsCompleted {
		l.logger.Debug("Achievement already completed", logFields...)
		return &models.AchievementCompletion{Achievement: *a, UserAchievement: *ua, AlreadyCompleted: true}, nil
	}

	now := l.clock.Now()
	ua.Progress = 1
	ua.IsCompleted = true
	ua.CompletedAt = &now
	ua.UpdatedAt = now
	if err := l.achievementRepo.SaveUserAchievement(ctx, tx, ua); err != nil {
		l.logger.Error("Failed to save user achievement", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to save user achievement: %w", err)
	}

	completion := &models.AchievementCompletion{Achievement: *a, UserAchievement: *ua}
	if a.PointsReward > 0 {
		if _, err := l.AwardPoints(ctx, tx, userID, a.PointsReward, models.SourceAchievement, "achievement:"+a.Key); err != nil {
			return nil, fmt.Errorf("failed to award achievement reward: %w", err)
		}
		completion.PointsAwarded = a.PointsReward
	}

	metrics.AchievementsUnlockedTotal.WithLabelValues(a.Key).Inc()
	l.logger.Info("Achievement unlocked", append(logFields, zap.Int64("points_awarded", completion.PointsAwarded))...)
	l.bus.Publish(ctx, models.AchievementUnlockedEvent{UserID: userID, Key: a.Key, PointsAwarded: completion.PointsAwarded})
	return completion, nil
}

// UpdateAchievementProgress records progress in [0,1]. Progress never decreases and
// completed achievements are frozen; reaching 1 completes the achievement.
func (l *Ledger) UpdateAchievementProgress(ctx context.Context, tx interfaces.DBTX, userID int64, key string, progress float64) (*models.UserAchievement, error) {
	if math.IsNaN(progress) || progress < 0 || progress > 1 {
		return nil, fmt.Errorf("%w: achievement progress must be within [0,1], got %v", models.ErrValidation, progress)
	}

	a, err := l.getAchievement(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	ua, err := l.getUserAchievement(ctx, tx, userID, a)
	if err != nil {
		return nil, err
	}
	if ua.IsCompleted {
		return ua, nil
	}
	if progress >= 1 {
		completion, err := l.CompleteAchievement(ctx, tx, userID, key)
		if err != nil {
			return nil, err
		}
		return &completion.UserAchievement, nil
	}
	if progress <= ua.Progress {
		return ua, nil
	}

	ua.Progress = progress
	ua.UpdatedAt = l.clock.Now()
	if err := l.achievementRepo.SaveUserAchievement(ctx, tx, ua); err != nil {
		return nil, fmt.Errorf("failed to save achievement progress: %w", err)
	}
	return ua, nil
}

// CheckLevelAchievements completes every level achievement whose level is at or below level.
// Achievements missing from content are skipped. Only fresh completions are returned.
func (l *Ledger) CheckLevelAchievements(ctx context.Context, tx interfaces.DBTX, userID int64, level int) ([]models.AchievementCompletion, error) {
	mapping := l.cfg.LevelAchievements()
	thresholds := make([]int, 0, len(mapping))
	for lvl := range mapping {
		if lvl <= level {
			thresholds = append(thresholds, lvl)
		}
	}
	sort.Ints(thresholds)

	var unlocked []models.AchievementCompletion
	for _, lvl := range thresholds {
		key := mapping[lvl]
		completion, err := l.CompleteAchievement(ctx, tx, userID, key)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				l.logger.Warn("Level achievement is not defined, skipping",
					zap.Int64("user_id", userID), zap.Int("level", lvl), zap.String("achievement_key", key))
				continue
			}
			return unlocked, err
		}
		if !completion.AlreadyCompleted {
			unlocked = append(unlocked, *completion)
		}
	}
	return unlocked, nil
}

// ListAchievements returns every achievement with the user's progress.
// Hidden achievements are only listed once completed.
func (l *Ledger) ListAchievements(ctx context.Context, tx interfaces.DBTX, userID int64) ([]models.AchievementView, error) {
	all, err := l.achievementRepo.List(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	userRecords, err := l.achievementRepo.ListUserAchievements(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user achievements: %w", err)
	}
	byKey := make(map[string]models.UserAchievement, len(userRecords))
	for _, ua := range userRecords {
		byKey[ua.AchievementKey] = ua
	}

	views := make([]models.AchievementView, 0, len(all))
	for _, a := range all {
		ua, ok := byKey[a.Key]
		if a.IsHidden && !(ok && ua.IsCompleted) {
			continue
		}
		view := models.AchievementView{Achievement: a}
		if ok {
			view.Progress = ua.Progress
			view.IsCompleted = ua.IsCompleted
			view.CompletedAt = ua.CompletedAt
		}
		views = append(views, view)
	}
	return views, nil
}
