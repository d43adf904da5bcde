package database

import (
	"context"
	"fmt"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"go.uber.org/zap"
)

const (
	getNarrativeStateForUpdateQuery = `
        SELECT user_id, current_fragment_key, visited_fragments, decisions_made, narrative_items,
               narrative_variables, version, created_at, updated_at
        FROM user_narrative_states
        WHERE user_id = $1
        FOR UPDATE`
	createNarrativeStateQuery = `
        INSERT INTO user_narrative_states (user_id, current_fragment_key, visited_fragments, decisions_made,
                                           narrative_items, narrative_variables, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`
	saveNarrativeStateQuery = `
        UPDATE user_narrative_states SET
            current_fragment_key = $2,
            visited_fragments = $3,
            decisions_made = $4,
            narrative_items = $5,
            narrative_variables = $6,
            updated_at = $7,
            version = version + 1
        WHERE user_id = $1 AND version = $8`
)

type pgNarrativeStateRepository struct {
	logger *zap.Logger
}

var _ interfaces.NarrativeStateRepository = (*pgNarrativeStateRepository)(nil)

func NewPgNarrativeStateRepository(logger *zap.Logger) interfaces.NarrativeStateRepository {
	return &pgNarrativeStateRepository{logger: logger.Named("PgNarrativeStateRepo")}
}

func (r *pgNarrativeStateRepository) GetForUpdate(ctx context.Context, querier interfaces.DBTX, userID int64) (*models.UserNarrativeState, error) {
	var st models.UserNarrativeState
	err := querier.QueryRow(ctx, getNarrativeStateForUpdateQuery, userID).Scan(
		&st.UserID,
		&st.CurrentFragmentKey,
		&st.VisitedFragments,
		&st.DecisionsMade,
		&st.NarrativeItems,
		&st.NarrativeVariables,
		&st.Version,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, WrapNotFound(err)
	}
	st.VisitedFragments = models.NormalizeVisited(st.VisitedFragments)
	if st.DecisionsMade == nil {
		st.DecisionsMade = map[string]string{}
	}
	if st.NarrativeItems == nil {
		st.NarrativeItems = map[string]int{}
	}
	if st.NarrativeVariables == nil {
		st.NarrativeVariables = map[string]any{}
	}
	return &st, nil
}

func (r *pgNarrativeStateRepository) Create(ctx context.Context, querier interfaces.DBTX, st *models.UserNarrativeState) error {
	clone := st.Clone()
	_, err := querier.Exec(ctx, createNarrativeStateQuery,
		st.UserID, st.CurrentFragmentKey, nonNilStrings(clone.VisitedFragments), clone.DecisionsMade,
		clone.NarrativeItems, clone.NarrativeVariables, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: narrative state for user %d exists", models.ErrConcurrentUpdate, st.UserID)
		}
		r.logger.Error("Failed to create narrative state", zap.Int64("user_id", st.UserID), zap.Error(err))
		return fmt.Errorf("failed to create narrative state: %w", err)
	}
	st.Version = 1
	return nil
}

func (r *pgNarrativeStateRepository) Save(ctx context.Context, querier interfaces.DBTX, st *models.UserNarrativeState) error {
	clone := st.Clone()
	tag, err := querier.Exec(ctx, saveNarrativeStateQuery,
		st.UserID, st.CurrentFragmentKey, nonNilStrings(clone.VisitedFragments), clone.DecisionsMade,
		clone.NarrativeItems, clone.NarrativeVariables, st.UpdatedAt, st.Version)
	if err != nil {
		r.logger.Error("Failed to save narrative state", zap.Int64("user_id", st.UserID), zap.Error(err))
		return fmt.Errorf("failed to save narrative state: %w", err)
	}
	if err := casResult(tag); err != nil {
		r.logger.Warn("Narrative state version mismatch", zap.Int64("user_id", st.UserID), zap.Int64("version", st.Version))
		return err
	}
	st.Version++
	return nil
}
