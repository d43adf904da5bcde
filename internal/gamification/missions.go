package gamification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"progression-server/internal/interfaces"
	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Objective keys advanced by inbound events.
const (
	ObjectiveMessages  = "messages"
	ObjectiveReactions = "reactions"
	ObjectiveFragments = "fragments"
)

func (l *Ledger) getMission(ctx context.Context, tx interfaces.DBTX, key string) (*models.Mission, error) {
	m, err := l.missionRepo.GetByKey(ctx, tx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: mission %q", models.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to load mission %q: %w", key, err)
	}
	return m, nil
}

// StartMission starts the mission for the user. An IN_PROGRESS run, or a finished run that
// cannot be repeated yet, is returned unchanged; an overdue run is expired first.
// DAILY and WEEKLY missions replace an EXPIRED run, or a COMPLETED run whose period is over,
// with a fresh IN_PROGRESS run. ONE_TIME, EVENT and STORY runs stay terminal.
func (l *Ledger) StartMission(ctx context.Context, tx interfaces.DBTX, userID int64, key string) (*models.UserMission, error) {
	logFields := []zap.Field{zap.Int64("user_id", userID), zap.String("mission_key", key)}

	m, err := l.getMission(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	existing, err := l.missionRepo.GetUserMission(ctx, tx, userID, m.ID)
	switch {
	case err == nil:
		if existing.IsOverdue(now) {
			if err := l.expire(ctx, tx, existing, now); err != nil {
				return nil, err
			}
		}
		if !CanRestart(*m, *existing, now) {
			l.logger.Debug("Mission already started", append(logFields, zap.String("status", string(existing.Status)))...)
			return existing, nil
		}
		previous := existing.Status
		restartRun(existing, *m, now)
		if err := l.missionRepo.SaveUserMission(ctx, tx, existing); err != nil {
			l.logger.Error("Failed to restart user mission", append(logFields, zap.Error(err))...)
			return nil, fmt.Errorf("failed to restart mission: %w", err)
		}
		metrics.MissionTransitionsTotal.WithLabelValues(string(models.MissionInProgress)).Inc()
		l.logger.Info("Mission restarted", append(logFields, zap.String("previous_status", string(previous)))...)
		return existing, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to load user mission: %w", err)
	}

	um := &models.UserMission{
		UserID:     userID,
		MissionID:  m.ID,
		MissionKey: m.Key,
	}
	restartRun(um, *m, now)
	if err := l.missionRepo.CreateUserMission(ctx, tx, um); err != nil {
		l.logger.Error("Failed to create user mission", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to start mission: %w", err)
	}
	metrics.MissionTransitionsTotal.WithLabelValues(string(models.MissionInProgress)).Inc()
	l.logger.Info("Mission started", append(logFields, zap.Timep("expires_at", um.ExpiresAt))...)
	return um, nil
}

// restartRun turns um into a fresh IN_PROGRESS run. Version is kept for the compare-and-swap save.
func restartRun(um *models.UserMission, m models.Mission, now time.Time) {
	um.ID = uuid.New()
	um.Status = models.MissionInProgress
	um.Progress = map[string]int{}
	um.ProgressPercentage = 0
	um.StartedAt = now
	um.ExpiresAt = nil
	um.CompletedAt = nil
	um.RewardClaimed = false
	um.UpdatedAt = now
	if m.TimeLimitHours != nil && *m.TimeLimitHours > 0 {
		expiresAt := now.Add(time.Duration(*m.TimeLimitHours) * time.Hour)
		um.ExpiresAt = &expiresAt
	}
}

// CanRestart reports whether a finished run of a repeatable mission may be replaced at now.
// An EXPIRED run can be replaced right away. A COMPLETED run waits for the end of the period
// it was started in: the UTC day for DAILY, the ISO week (from Monday, UTC) for WEEKLY.
func CanRestart(m models.Mission, um models.UserMission, now time.Time) bool {
	if m.MissionType != models.MissionDaily && m.MissionType != models.MissionWeekly {
		return false
	}
	switch um.Status {
	case models.MissionExpired:
		return true
	case models.MissionCompleted:
		return !now.Before(PeriodEnd(m.MissionType, um.StartedAt))
	default:
		return false
	}
}

// PeriodEnd is the end of the DAILY or WEEKLY period containing t. Other types have no period.
func PeriodEnd(t models.MissionType, at time.Time) time.Time {
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	switch t {
	case models.MissionDaily:
		return day.AddDate(0, 0, 1)
	case models.MissionWeekly:
		// time.Weekday: Sunday = 0
		sinceMonday := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, 7-sinceMonday)
	default:
		return time.Time{}
	}
}

func (l *Ledger) expire(ctx context.Context, tx interfaces.DBTX, um *models.UserMission, now time.Time) error {
	um.Status = models.MissionExpired
	um.UpdatedAt = now
	if err := l.missionRepo.SaveUserMission(ctx, tx, um); err != nil {
		return fmt.Errorf("failed to expire mission: %w", err)
	}
	metrics.MissionTransitionsTotal.WithLabelValues(string(models.MissionExpired)).Inc()
	l.logger.Info("Mission expired", zap.Int64("user_id", um.UserID), zap.String("mission_key", um.MissionKey))
	return nil
}

// UpdateMissionProgress merges patch into the run's progress.
//
// An overdue IN_PROGRESS run is moved to EXPIRED and reported with Expired=true, whatever the patch.
// Later updates of an EXPIRED run fail with ErrExpired; updates of a COMPLETED or unstarted run
// fail with ErrStateConflict. When percentage is nil it is recomputed from the objectives.
func (l *Ledger) UpdateMissionProgress(ctx context.Context, tx interfaces.DBTX, userID int64, key string, patch map[string]int, percentage *float64) (*models.MissionUpdateResult, error) {
	logFields := []zap.Field{zap.Int64("user_id", userID), zap.String("mission_key", key)}

	m, err := l.getMission(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	um, err := l.missionRepo.GetUserMission(ctx, tx, userID, m.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: mission %q was not started", models.ErrStateConflict, key)
		}
		return nil, fmt.Errorf("failed to load user mission: %w", err)
	}

	now := l.clock.Now()
	if um.IsOverdue(now) {
		if err := l.expire(ctx, tx, um, now); err != nil {
			return nil, err
		}
		return &models.MissionUpdateResult{UserMission: *um, Expired: true}, nil
	}
	switch um.Status {
	case models.MissionExpired:
		return nil, fmt.Errorf("%w: mission %q", models.ErrExpired, key)
	case models.MissionInProgress:
	default:
		return nil, fmt.Errorf("%w: mission %q is %s", models.ErrStateConflict, key, um.Status)
	}

	if percentage != nil && (math.IsNaN(*percentage) || *percentage < 0 || *percentage > 100) {
		return nil, fmt.Errorf("%w: progress percentage must be within [0,100], got %v", models.ErrValidation, *percentage)
	}

	if um.Progress == nil {
		um.Progress = map[string]int{}
	}
	for k, v := range patch {
		um.Progress[k] = v
	}
	if percentage != nil {
		um.ProgressPercentage = *percentage
	} else {
		um.ProgressPercentage = ObjectivePercentage(*m, um.Progress)
	}
	um.UpdatedAt = now

	result := &models.MissionUpdateResult{}
	completing := um.ProgressPercentage >= 100 && !um.RewardClaimed
	if completing {
		um.Status = models.MissionCompleted
		um.CompletedAt = &now
		um.RewardClaimed = true
	}
	if err := l.missionRepo.SaveUserMission(ctx, tx, um); err != nil {
		l.logger.Error("Failed to save mission progress", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to save mission progress: %w", err)
	}
	result.UserMission = *um

	if !completing {
		return result, nil
	}

	result.Completed = true
	metrics.MissionTransitionsTotal.WithLabelValues(string(models.MissionCompleted)).Inc()
	if m.PointsReward > 0 {
		if _, err := l.AwardPoints(ctx, tx, userID, m.PointsReward, models.SourceMission, "mission:"+m.Key); err != nil {
			return nil, fmt.Errorf("failed to award mission reward: %w", err)
		}
		result.PointsAwarded = m.PointsReward
	}
	if m.AchievementKey != nil && *m.AchievementKey != "" {
		if _, err := l.CompleteAchievement(ctx, tx, userID, *m.AchievementKey); err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				return nil, err
			}
			l.logger.Warn("Mission references unknown achievement", append(logFields, zap.String("achievement_key", *m.AchievementKey))...)
		}
	}
	l.logger.Info("Mission completed", append(logFields, zap.Int64("points_awarded", result.PointsAwarded))...)
	l.bus.Publish(ctx, models.MissionCompletedEvent{UserID: userID, Key: m.Key, MissionType: m.MissionType, PointsAwarded: result.PointsAwarded})
	return result, nil
}

// ObjectivePercentage is the share of objectives whose progress reached their target.
// A mission without objectives counts as done once any positive progress is recorded.
func ObjectivePercentage(m models.Mission, progress map[string]int) float64 {
	if len(m.Objectives) == 0 {
		for _, v := range progress {
			if v > 0 {
				return 100
			}
		}
		return 0
	}
	done := 0
	for _, o := range m.Objectives {
		if progress[o.Key] >= o.EffectiveTarget() {
			done++
		}
	}
	return float64(done) / float64(len(m.Objectives)) * 100
}

// IncrementObjective advances objective by delta on every in-progress run that declares it.
func (l *Ledger) IncrementObjective(ctx context.Context, tx interfaces.DBTX, userID int64, objective string, delta int) ([]models.MissionUpdateResult, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("%w: objective delta must be positive, got %d", models.ErrValidation, delta)
	}
	runs, err := l.missionRepo.ListUserMissions(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user missions: %w", err)
	}

	var results []models.MissionUpdateResult
	for _, run := range runs {
		if run.Status != models.MissionInProgress {
			continue
		}
		m, err := l.getMission(ctx, tx, run.MissionKey)
		if err != nil {
			return results, err
		}
		if !m.HasObjective(objective) {
			continue
		}
		patch := map[string]int{objective: run.Progress[objective] + delta}
		res, err := l.UpdateMissionProgress(ctx, tx, userID, m.Key, patch, nil)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// ListMissions returns every mission with the user's status. Overdue runs are expired on read.
func (l *Ledger) ListMissions(ctx context.Context, tx interfaces.DBTX, userID int64) ([]models.MissionView, error) {
	all, err := l.missionRepo.List(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	runs, err := l.missionRepo.ListUserMissions(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user missions: %w", err)
	}
	byKey := make(map[string]models.UserMission, len(runs))
	for _, run := range runs {
		byKey[run.MissionKey] = run
	}

	now := l.clock.Now()
	views := make([]models.MissionView, 0, len(all))
	for _, m := range all {
		view := models.MissionView{Mission: m, Status: models.MissionAvailable}
		if run, ok := byKey[m.Key]; ok {
			if run.IsOverdue(now) {
				if err := l.expire(ctx, tx, &run, now); err != nil {
					return nil, err
				}
			}
			view.Status = run.Status
			view.Progress = run.Progress
			view.ProgressPercentage = run.ProgressPercentage
			view.ExpiresAt = run.ExpiresAt
		}
		views = append(views, view)
	}
	return views, nil
}
