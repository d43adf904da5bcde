package gamification

import "progression-server/internal/models"

// CalculateLevel maps a point total onto a level table ordered by strictly increasing thresholds.
// Totals below the first threshold resolve to the first level.
func CalculateLevel(levels []models.LevelDefinition, points int64) models.LevelInfo {
	if len(levels) == 0 {
		return models.LevelInfo{Level: 1, ProgressPercentage: 100, IsMaxLevel: true}
	}

	idx := 0
	for i, lvl := range levels {
		if lvl.MinPoints <= points {
			idx = i
		} else {
			break
		}
	}
	current := levels[idx]
	info := models.LevelInfo{
		Level:     current.Level,
		Name:      current.Name,
		MinPoints: current.MinPoints,
	}

	if idx == len(levels)-1 {
		info.ProgressPercentage = 100
		info.PointsToNext = 0
		info.IsMaxLevel = true
		return info
	}

	next := levels[idx+1]
	info.NextLevel = next.Level
	info.NextLevelName = next.Name
	span := float64(next.MinPoints - current.MinPoints)
	progress := float64(points-current.MinPoints) / span * 100
	info.ProgressPercentage = clampPercentage(progress)
	info.PointsToNext = next.MinPoints - points
	if info.PointsToNext < 0 {
		info.PointsToNext = 0
	}
	return info
}

func clampPercentage(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
