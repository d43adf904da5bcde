package models

import (
	"time"

	"github.com/google/uuid"
)

// PointSource identifies where points came from.
type PointSource string

const (
	SourceMessage     PointSource = "message"
	SourceReaction    PointSource = "reaction"
	SourceMission     PointSource = "mission"
	SourceDailyGift   PointSource = "dailygift"
	SourceMinigame    PointSource = "minigame"
	SourceNarrative   PointSource = "narrative"
	SourceAchievement PointSource = "achievement"
	SourceSpend       PointSource = "spend"
)

// PointsBreakdown counts earned points per recognized source.
type PointsBreakdown struct {
	Messages  int64 `json:"messages"`
	Reactions int64 `json:"reactions"`
	Missions  int64 `json:"missions"`
	DailyGift int64 `json:"dailygift"`
	Minigames int64 `json:"minigames"`
	Narrative int64 `json:"narrative"`
}

// Add returns the breakdown with amount added to the counter for source.
// The bool result is false for sources that have no counter.
func (b PointsBreakdown) Add(source PointSource, amount int64) (PointsBreakdown, bool) {
	switch source {
	case SourceMessage:
		b.Messages += amount
	case SourceReaction:
		b.Reactions += amount
	case SourceMission:
		b.Missions += amount
	case SourceDailyGift:
		b.DailyGift += amount
	case SourceMinigame:
		b.Minigames += amount
	case SourceNarrative:
		b.Narrative += amount
	default:
		return b, false
	}
	return b, true
}

// UserPoints is the per-user ledger row.
// Invariant: CurrentPoints = TotalEarned - TotalSpent and CurrentPoints >= 0.
type UserPoints struct {
	UserID            int64              `json:"user_id" db:"user_id"`
	CurrentPoints     int64              `json:"current_points" db:"current_points"`
	TotalEarned       int64              `json:"total_earned" db:"total_earned"`
	TotalSpent        int64              `json:"total_spent" db:"total_spent"`
	Breakdown         PointsBreakdown    `json:"breakdown" db:"breakdown"`
	Level             int                `json:"level" db:"level"`
	ActiveMultipliers map[string]float64 `json:"active_multipliers" db:"active_multipliers"`
	LastDailyGiftAt   *time.Time         `json:"last_daily_gift_at,omitempty" db:"last_daily_gift_at"`
	Version           int64              `json:"version" db:"version"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// EffectiveMultiplier is the product of all active multipliers, 1.0 when none are set.
func (p UserPoints) EffectiveMultiplier() float64 {
	m := 1.0
	for _, factor := range p.ActiveMultipliers {
		m *= factor
	}
	return m
}

// PointTransaction is one entry of the ledger log. Amount is negative for spends.
type PointTransaction struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	UserID       int64       `json:"user_id" db:"user_id"`
	Amount       int64       `json:"amount" db:"amount"`
	Source       PointSource `json:"source" db:"source"`
	Description  string      `json:"description" db:"description"`
	BalanceAfter int64       `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// AwardResult is returned by award_points.
type AwardResult struct {
	Points    UserPoints `json:"points"`
	Awarded   int64      `json:"awarded"`
	LevelUp   bool       `json:"level_up"`
	OldLevel  int        `json:"old_level"`
	NewLevel  int        `json:"new_level"`
	LevelName string     `json:"level_name"`
}

// LevelDefinition is one row of the level table.
type LevelDefinition struct {
	Level     int    `json:"level" yaml:"level"`
	Name      string `json:"name" yaml:"name"`
	MinPoints int64  `json:"min_points" yaml:"min_points"`
}

// LevelInfo is the result of the leveling function for a given balance.
type LevelInfo struct {
	Level              int     `json:"level"`
	Name               string  `json:"name"`
	MinPoints          int64   `json:"min_points"`
	NextLevel          int     `json:"next_level,omitempty"`
	NextLevelName      string  `json:"next_level_name,omitempty"`
	ProgressPercentage float64 `json:"progress_percentage"`
	PointsToNext       int64   `json:"points_to_next"`
	IsMaxLevel         bool    `json:"is_max_level"`
}

// Achievement is static content.
type Achievement struct {
	ID           uuid.UUID `json:"id" db:"id" yaml:"-"`
	Key          string    `json:"key" db:"key" yaml:"key"`
	Name         string    `json:"name" db:"name" yaml:"name"`
	Description  string    `json:"description" db:"description" yaml:"description"`
	Category     string    `json:"category" db:"category" yaml:"category"`
	PointsReward int64     `json:"points_reward" db:"points_reward" yaml:"points_reward"`
	IsHidden     bool      `json:"is_hidden" db:"is_hidden" yaml:"is_hidden"`
}

// UserAchievement tracks a user's progress on one achievement.
// Once IsCompleted is true it never reverts.
type UserAchievement struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	AchievementID  uuid.UUID  `json:"achievement_id" db:"achievement_id"`
	AchievementKey string     `json:"achievement_key" db:"achievement_key"`
	Progress       float64    `json:"progress" db:"progress"`
	IsCompleted    bool       `json:"is_completed" db:"is_completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// AchievementCompletion is returned by complete_achievement.
type AchievementCompletion struct {
	Achievement      Achievement     `json:"achievement"`
	UserAchievement  UserAchievement `json:"user_achievement"`
	AlreadyCompleted bool            `json:"already_completed"`
	PointsAwarded    int64           `json:"points_awarded"`
}

// AchievementView is an achievement as seen by one user.
type AchievementView struct {
	Achievement Achievement `json:"achievement"`
	Progress    float64     `json:"progress"`
	IsCompleted bool        `json:"is_completed"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// MissionType classifies missions.
type MissionType string

const (
	MissionDaily   MissionType = "DAILY"
	MissionWeekly  MissionType = "WEEKLY"
	MissionOneTime MissionType = "ONE_TIME"
	MissionEvent   MissionType = "EVENT"
	MissionStory   MissionType = "STORY"
)

// IsValid reports whether t is a known mission type.
func (t MissionType) IsValid() bool {
	switch t {
	case MissionDaily, MissionWeekly, MissionOneTime, MissionEvent, MissionStory:
		return true
	}
	return false
}

// MissionObjective is one measurable goal of a mission.
type MissionObjective struct {
	Key         string `json:"key" yaml:"key"`
	Description string `json:"description,omitempty" yaml:"description"`
	Target      int    `json:"target,omitempty" yaml:"target"`
}

// EffectiveTarget returns the progress value that marks the objective done.
func (o MissionObjective) EffectiveTarget() int {
	if o.Target <= 0 {
		return 1
	}
	return o.Target
}

// Mission is static content.
type Mission struct {
	ID             uuid.UUID          `json:"id" db:"id" yaml:"-"`
	Key            string             `json:"key" db:"key" yaml:"key"`
	Title          string             `json:"title" db:"title" yaml:"title"`
	Description    string             `json:"description" db:"description" yaml:"description"`
	MissionType    MissionType        `json:"mission_type" db:"mission_type" yaml:"mission_type"`
	TimeLimitHours *int               `json:"time_limit_hours,omitempty" db:"time_limit_hours" yaml:"time_limit_hours"`
	PointsReward   int64              `json:"points_reward" db:"points_reward" yaml:"points_reward"`
	Objectives     []MissionObjective `json:"objectives" db:"objectives" yaml:"objectives"`
	AchievementKey *string            `json:"achievement_key,omitempty" db:"achievement_key" yaml:"achievement_key"`
}

// HasObjective reports whether the mission declares objective key.
func (m Mission) HasObjective(key string) bool {
	for _, o := range m.Objectives {
		if o.Key == key {
			return true
		}
	}
	return false
}

// MissionStatus is the state of a UserMission.
type MissionStatus string

const (
	MissionAvailable  MissionStatus = "AVAILABLE"
	MissionInProgress MissionStatus = "IN_PROGRESS"
	MissionCompleted  MissionStatus = "COMPLETED"
	MissionExpired    MissionStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are accepted.
func (s MissionStatus) IsTerminal() bool {
	return s == MissionCompleted || s == MissionExpired
}

// UserMission tracks a user's run of one mission.
// RewardClaimed is only true when Status is COMPLETED.
type UserMission struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	UserID             int64          `json:"user_id" db:"user_id"`
	MissionID          uuid.UUID      `json:"mission_id" db:"mission_id"`
	MissionKey         string         `json:"mission_key" db:"mission_key"`
	Status             MissionStatus  `json:"status" db:"status"`
	Progress           map[string]int `json:"progress" db:"progress"`
	ProgressPercentage float64        `json:"progress_percentage" db:"progress_percentage"`
	StartedAt          time.Time      `json:"started_at" db:"started_at"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	RewardClaimed      bool           `json:"reward_claimed" db:"reward_claimed"`
	Version            int64          `json:"version" db:"version"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// IsOverdue reports whether the mission is still in progress past its expiry.
func (m UserMission) IsOverdue(now time.Time) bool {
	return m.Status == MissionInProgress && m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// MissionUpdateResult is returned by update_mission_progress.
type MissionUpdateResult struct {
	UserMission   UserMission `json:"user_mission"`
	Expired       bool        `json:"expired"`
	Completed     bool        `json:"completed"`
	PointsAwarded int64       `json:"points_awarded"`
}

// MissionView is a mission as seen by one user. Status is AVAILABLE when no record exists.
type MissionView struct {
	Mission            Mission        `json:"mission"`
	Status             MissionStatus  `json:"status"`
	Progress           map[string]int `json:"progress,omitempty"`
	ProgressPercentage float64        `json:"progress_percentage"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
}

// UserProfile aggregates the gamification view of a user.
type UserProfile struct {
	UserID         int64             `json:"user_id"`
	Points         UserPoints        `json:"points"`
	Level          LevelInfo         `json:"level"`
	Multiplier     float64           `json:"multiplier"`
	Achievements   []AchievementView `json:"achievements"`
	ActiveMissions []MissionView     `json:"active_missions"`
}
