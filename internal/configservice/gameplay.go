package configservice

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"progression-server/internal/models"

	"go.uber.org/zap"
)

// DefaultLevels is used when gamification.levels is absent or invalid.
var DefaultLevels = []models.LevelDefinition{
	{Level: 1, Name: "Novato", MinPoints: 0},
	{Level: 2, Name: "Aprendiz", MinPoints: 500},
	{Level: 3, Name: "Explorador", MinPoints: 1500},
	{Level: 4, Name: "Aventurero", MinPoints: 3500},
	{Level: 5, Name: "Experto", MinPoints: 7000},
	{Level: 6, Name: "Maestro", MinPoints: 12000},
	{Level: 7, Name: "Leyenda", MinPoints: 20000},
}

// DefaultLevelAchievements maps a reached level to the achievement it completes.
var DefaultLevelAchievements = map[int]string{
	2: "level_2",
	5: "level_5",
	7: "level_7",
}

// ValidateLevels checks that the table is non-empty, ordered by level and has strictly increasing thresholds.
func ValidateLevels(levels []models.LevelDefinition) error {
	if len(levels) == 0 {
		return fmt.Errorf("%w: level table is empty", models.ErrValidation)
	}
	if levels[0].MinPoints < 0 {
		return fmt.Errorf("%w: first level threshold is negative", models.ErrValidation)
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].Level <= levels[i-1].Level {
			return fmt.Errorf("%w: levels are not increasing at %d", models.ErrValidation, levels[i].Level)
		}
		if levels[i].MinPoints <= levels[i-1].MinPoints {
			return fmt.Errorf("%w: threshold of level %d is not above level %d", models.ErrValidation, levels[i].Level, levels[i-1].Level)
		}
	}
	return nil
}

// ParseLevels decodes a JSON level table and validates it. Rows may come in any order.
func ParseLevels(raw string) ([]models.LevelDefinition, error) {
	var levels []models.LevelDefinition
	if err := json.Unmarshal([]byte(raw), &levels); err != nil {
		return nil, fmt.Errorf("%w: level table is not valid JSON: %v", models.ErrValidation, err)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
	if err := ValidateLevels(levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// LevelTable returns gamification.levels, or DefaultLevels when unset or invalid.
func (cs *ConfigService) LevelTable() []models.LevelDefinition {
	raw, ok := cs.get(KeyLevels)
	if !ok || raw == "" {
		return append([]models.LevelDefinition(nil), DefaultLevels...)
	}
	levels, err := ParseLevels(raw)
	if err != nil {
		cs.logger.Warn("Invalid level table, using defaults", zap.String("key", KeyLevels), zap.Error(err))
		return append([]models.LevelDefinition(nil), DefaultLevels...)
	}
	return levels
}

// LevelAchievements returns gamification.level_achievements as level -> achievement key.
// The stored value is a JSON object with level numbers as keys, e.g. {"2":"level_2"}.
func (cs *ConfigService) LevelAchievements() map[int]string {
	out := make(map[int]string)
	raw, ok := cs.get(KeyLevelAchievements)
	if !ok || raw == "" {
		for k, v := range DefaultLevelAchievements {
			out[k] = v
		}
		return out
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		cs.logger.Warn("Invalid level achievements map, using defaults", zap.String("key", KeyLevelAchievements), zap.Error(err))
		for k, v := range DefaultLevelAchievements {
			out[k] = v
		}
		return out
	}
	for levelStr, key := range decoded {
		level, err := strconv.Atoi(levelStr)
		if err != nil {
			cs.logger.Warn("Skipping non-numeric level in achievements map", zap.String("level", levelStr))
			continue
		}
		out[level] = key
	}
	return out
}

func (cs *ConfigService) PointsPerMessage() int64 {
	return int64(cs.GetInt(KeyPointsPerMessage, DefaultPointsPerMessage))
}

func (cs *ConfigService) PointsPerReaction() int64 {
	return int64(cs.GetInt(KeyPointsPerReaction, DefaultPointsPerReaction))
}

func (cs *ConfigService) PointsPerPoll() int64 {
	return int64(cs.GetInt(KeyPointsPerPoll, DefaultPointsPerPoll))
}

func (cs *ConfigService) VIPMultiplier() float64 {
	return cs.GetFloat(KeyVIPMultiplier, DefaultVIPMultiplier)
}

func (cs *ConfigService) DailyGiftPoints() int64 {
	return int64(cs.GetInt(KeyDailyGift, DefaultDailyGift))
}

func (cs *ConfigService) NarrativeProgressionPoints() int64 {
	return int64(cs.GetInt(KeyNarrativeProgressionPts, DefaultNarrativeProgressionPts))
}

func (cs *ConfigService) EntryFragmentKey() string {
	return cs.GetString(KeyNarrativeEntryFragment, DefaultNarrativeEntryFragment)
}

func (cs *ConfigService) DefaultCharacter() string {
	return cs.GetString(KeyEmotionalDefaultCharacter, DefaultEmotionalDefaultCharacter)
}

func (cs *ConfigService) MemoryForgetAfter() time.Duration {
	return cs.GetDuration(KeyMemoryForgetAfter, DefaultMemoryForgetAfter)
}
