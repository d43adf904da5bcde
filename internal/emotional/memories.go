package emotional

import (
	"context"
	"fmt"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecallMemories returns the most important active memories and marks them recalled.
func (m *Model) RecallMemories(ctx context.Context, tx interfaces.DBTX, userID int64, characterName string, limit int) ([]models.EmotionalMemory, error) {
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return nil, err
	}
	memories, err := m.repo.ListActiveMemories(ctx, tx, b.relationship.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	if len(memories) == 0 {
		return memories, nil
	}

	now := m.clock.Now()
	ids := make([]uuid.UUID, 0, len(memories))
	for i := range memories {
		ids = append(ids, memories[i].ID)
		memories[i].RecallCount++
		recalledAt := now
		memories[i].LastRecalledAt = &recalledAt
	}
	if err := m.repo.MarkMemoriesRecalled(ctx, tx, ids, now); err != nil {
		return nil, fmt.Errorf("failed to mark memories recalled: %w", err)
	}
	return memories, nil
}

// ForgetStaleMemories soft-forgets low-importance memories that were never recalled
// and are older than emotional.memory_forget_after.
func (m *Model) ForgetStaleMemories(ctx context.Context, tx interfaces.DBTX, userID int64, characterName string) (int64, error) {
	b, err := m.load(ctx, tx, userID, characterName)
	if err != nil {
		return 0, err
	}
	olderThan := m.clock.Now().Add(-m.cfg.MemoryForgetAfter())
	n, err := m.repo.ForgetStaleMemories(ctx, tx, b.relationship.ID, olderThan, staleMemoryImportance)
	if err != nil {
		return 0, fmt.Errorf("failed to forget stale memories: %w", err)
	}
	if n > 0 {
		m.logger.Info("Stale memories forgotten",
			zap.Int64("user_id", userID),
			zap.String("character", b.relationship.CharacterName),
			zap.Int64("count", n),
		)
	}
	return n, nil
}
