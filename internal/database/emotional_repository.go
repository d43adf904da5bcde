package database

import (
	"context"
	"fmt"
	"time"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	profileColumns      = `id, character_name, base, personality_traits, created_at`
	relationshipColumns = `id, user_id, character_id, character_name, status, level, trust_level, familiarity, rapport,
               interaction_count, first_interaction_at, last_interaction_at, version`
	memoryColumns = `id, relationship_id, summary, details, emotional_context, importance_score, is_forgotten,
               recall_count, last_recalled_at, created_at`

	getProfileQuery    = `SELECT ` + profileColumns + ` FROM character_profiles WHERE character_name = $1`
	createProfileQuery = `
        INSERT INTO character_profiles (id, character_name, base, personality_traits, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (character_name) DO NOTHING`
	upsertProfileQuery = `
        INSERT INTO character_profiles (id, character_name, base, personality_traits, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (character_name) DO UPDATE SET
            base = EXCLUDED.base,
            personality_traits = EXCLUDED.personality_traits
        RETURNING id`

	getRelationshipQuery = `
        SELECT ` + relationshipColumns + `
        FROM user_character_relationships
        WHERE user_id = $1 AND character_id = $2
        FOR UPDATE`
	createRelationshipQuery = `
        INSERT INTO user_character_relationships (id, user_id, character_id, character_name, status, level, trust_level,
                                                  familiarity, rapport, interaction_count, first_interaction_at,
                                                  last_interaction_at, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)`
	saveRelationshipQuery = `
        UPDATE user_character_relationships SET
            status = $2,
            level = $3,
            trust_level = $4,
            familiarity = $5,
            rapport = $6,
            interaction_count = $7,
            last_interaction_at = $8,
            version = version + 1
        WHERE id = $1 AND version = $9`

	getEmotionalStateQuery = `
        SELECT relationship_id, vector, dominant_emotion, updated_at, version
        FROM user_character_emotional_states
        WHERE relationship_id = $1
        FOR UPDATE`
	createEmotionalStateQuery = `
        INSERT INTO user_character_emotional_states (relationship_id, vector, dominant_emotion, updated_at, version)
        VALUES ($1, $2, $3, $4, 1)`
	saveEmotionalStateQuery = `
        UPDATE user_character_emotional_states SET
            vector = $2,
            dominant_emotion = $3,
            updated_at = $4,
            version = version + 1
        WHERE relationship_id = $1 AND version = $5`

	insertMemoryQuery = `
        INSERT INTO emotional_memories (id, relationship_id, summary, details, emotional_context, importance_score,
                                        is_forgotten, recall_count, last_recalled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	listActiveMemoriesQuery = `
        SELECT ` + memoryColumns + `
        FROM emotional_memories
        WHERE relationship_id = $1 AND NOT is_forgotten
        ORDER BY importance_score DESC, created_at DESC
        LIMIT $2`
	markMemoriesRecalledQuery = `
        UPDATE emotional_memories SET
            recall_count = recall_count + 1,
            last_recalled_at = $2
        WHERE id = ANY($1)`
	forgetStaleMemoriesQuery = `
        UPDATE emotional_memories SET is_forgotten = TRUE
        WHERE relationship_id = $1
          AND NOT is_forgotten
          AND recall_count = 0
          AND importance_score < $3
          AND created_at < $2`

	getPersonalityQuery = `
        SELECT relationship_id, dials, confidence_score, updated_at, version
        FROM personality_adaptations
        WHERE relationship_id = $1
        FOR UPDATE`
	createPersonalityQuery = `
        INSERT INTO personality_adaptations (relationship_id, dials, confidence_score, updated_at, version)
        VALUES ($1, $2, $3, $4, 1)`
	savePersonalityQuery = `
        UPDATE personality_adaptations SET
            dials = $2,
            confidence_score = $3,
            updated_at = $4,
            version = version + 1
        WHERE relationship_id = $1 AND version = $5`
)

type pgEmotionalRepository struct {
	logger *zap.Logger
}

var _ interfaces.EmotionalRepository = (*pgEmotionalRepository)(nil)

func NewPgEmotionalRepository(logger *zap.Logger) interfaces.EmotionalRepository {
	return &pgEmotionalRepository{logger: logger.Named("PgEmotionalRepo")}
}

func scanProfile(row pgx.Row) (*models.CharacterEmotionalProfile, error) {
	var p models.CharacterEmotionalProfile
	if err := row.Scan(&p.ID, &p.CharacterName, &p.Base, &p.PersonalityTraits, &p.CreatedAt); err != nil {
		return nil, err
	}
	if p.PersonalityTraits == nil {
		p.PersonalityTraits = map[string]float64{}
	}
	return &p, nil
}

func (r *pgEmotionalRepository) GetProfile(ctx context.Context, querier interfaces.DBTX, characterName string) (*models.CharacterEmotionalProfile, error) {
	p, err := scanProfile(querier.QueryRow(ctx, getProfileQuery, characterName))
	if err != nil {
		return nil, WrapNotFound(err)
	}
	return p, nil
}

func (r *pgEmotionalRepository) CreateProfile(ctx context.Context, querier interfaces.DBTX, profile *models.CharacterEmotionalProfile) (*models.CharacterEmotionalProfile, error) {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	_, err := querier.Exec(ctx, createProfileQuery,
		profile.ID, profile.CharacterName, profile.Base, nonNilFactors(profile.PersonalityTraits), profile.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create character profile", zap.String("character", profile.CharacterName), zap.Error(err))
		return nil, fmt.Errorf("failed to create character profile: %w", err)
	}
	// ON CONFLICT DO NOTHING: читаем сохраненную запись
	return r.GetProfile(ctx, querier, profile.CharacterName)
}

func (r *pgEmotionalRepository) UpsertProfile(ctx context.Context, querier interfaces.DBTX, profile *models.CharacterEmotionalProfile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	err := querier.QueryRow(ctx, upsertProfileQuery,
		profile.ID, profile.CharacterName, profile.Base, nonNilFactors(profile.PersonalityTraits), profile.CreatedAt).Scan(&profile.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert character profile %s: %w", profile.CharacterName, err)
	}
	return nil
}

func (r *pgEmotionalRepository) GetRelationship(ctx context.Context, querier interfaces.DBTX, userID int64, characterID uuid.UUID) (*models.UserCharacterRelationship, error) {
	var rel models.UserCharacterRelationship
	if err := pgxscan.Get(ctx, querier, &rel, getRelationshipQuery, userID, characterID); err != nil {
		return nil, WrapNotFound(err)
	}
	return &rel, nil
}

func (r *pgEmotionalRepository) CreateRelationship(ctx context.Context, querier interfaces.DBTX, rel *models.UserCharacterRelationship) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	_, err := querier.Exec(ctx, createRelationshipQuery,
		rel.ID, rel.UserID, rel.CharacterID, rel.CharacterName, rel.Status, rel.Level, rel.TrustLevel,
		rel.Familiarity, rel.Rapport, rel.InteractionCount, rel.FirstInteractionAt, rel.LastInteractionAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: relationship exists", models.ErrConcurrentUpdate)
		}
		r.logger.Error("Failed to create relationship",
			zap.Int64("user_id", rel.UserID), zap.String("character", rel.CharacterName), zap.Error(err))
		return fmt.Errorf("failed to create relationship: %w", err)
	}
	rel.Version = 1
	return nil
}

func (r *pgEmotionalRepository) SaveRelationship(ctx context.Context, querier interfaces.DBTX, rel *models.UserCharacterRelationship) error {
	tag, err := querier.Exec(ctx, saveRelationshipQuery,
		rel.ID, rel.Status, rel.Level, rel.TrustLevel, rel.Familiarity, rel.Rapport,
		rel.InteractionCount, rel.LastInteractionAt, rel.Version)
	if err != nil {
		return fmt.Errorf("failed to save relationship: %w", err)
	}
	if err := casResult(tag); err != nil {
		return err
	}
	rel.Version++
	return nil
}

func (r *pgEmotionalRepository) GetEmotionalState(ctx context.Context, querier interfaces.DBTX, relationshipID uuid.UUID) (*models.UserCharacterEmotionalState, error) {
	var st models.UserCharacterEmotionalState
	err := querier.QueryRow(ctx, getEmotionalStateQuery, relationshipID).
		Scan(&st.RelationshipID, &st.Vector, &st.DominantEmotion, &st.UpdatedAt, &st.Version)
	if err != nil {
		return nil, WrapNotFound(err)
	}
	return &st, nil
}

func (r *pgEmotionalRepository) CreateEmotionalState(ctx context.Context, querier interfaces.DBTX, st *models.UserCharacterEmotionalState) error {
	_, err := querier.Exec(ctx, createEmotionalStateQuery, st.RelationshipID, st.Vector, st.DominantEmotion, st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: emotional state exists", models.ErrConcurrentUpdate)
		}
		return fmt.Errorf("failed to create emotional state: %w", err)
	}
	st.Version = 1
	return nil
}

func (r *pgEmotionalRepository) SaveEmotionalState(ctx context.Context, querier interfaces.DBTX, st *models.UserCharacterEmotionalState) error {
	tag, err := querier.Exec(ctx, saveEmotionalStateQuery, st.RelationshipID, st.Vector, st.DominantEmotion, st.UpdatedAt, st.Version)
	if err != nil {
		return fmt.Errorf("failed to save emotional state: %w", err)
	}
	if err := casResult(tag); err != nil {
		return err
	}
	st.Version++
	return nil
}

func (r *pgEmotionalRepository) InsertMemory(ctx context.Context, querier interfaces.DBTX, m *models.EmotionalMemory) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := querier.Exec(ctx, insertMemoryQuery,
		m.ID, m.RelationshipID, m.Summary, m.Details, m.EmotionalContext, m.ImportanceScore,
		m.IsForgotten, m.RecallCount, m.LastRecalledAt, m.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert memory", zap.Stringer("relationship_id", m.RelationshipID), zap.Error(err))
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

func (r *pgEmotionalRepository) ListActiveMemories(ctx context.Context, querier interfaces.DBTX, relationshipID uuid.UUID, limit int) ([]models.EmotionalMemory, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := querier.Query(ctx, listActiveMemoriesQuery, relationshipID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	memories := []models.EmotionalMemory{}
	for rows.Next() {
		var m models.EmotionalMemory
		if err := rows.Scan(&m.ID, &m.RelationshipID, &m.Summary, &m.Details, &m.EmotionalContext, &m.ImportanceScore,
			&m.IsForgotten, &m.RecallCount, &m.LastRecalledAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}
	return memories, nil
}

func (r *pgEmotionalRepository) MarkMemoriesRecalled(ctx context.Context, querier interfaces.DBTX, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := querier.Exec(ctx, markMemoriesRecalledQuery, ids, at); err != nil {
		return fmt.Errorf("failed to mark memories recalled: %w", err)
	}
	return nil
}

func (r *pgEmotionalRepository) ForgetStaleMemories(ctx context.Context, querier interfaces.DBTX, relationshipID uuid.UUID, olderThan time.Time, minImportance float64) (int64, error) {
	tag, err := querier.Exec(ctx, forgetStaleMemoriesQuery, relationshipID, olderThan, minImportance)
	if err != nil {
		return 0, fmt.Errorf("failed to forget stale memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgEmotionalRepository) GetPersonality(ctx context.Context, querier interfaces.DBTX, relationshipID uuid.UUID) (*models.PersonalityAdaptation, error) {
	var p models.PersonalityAdaptation
	err := querier.QueryRow(ctx, getPersonalityQuery, relationshipID).
		Scan(&p.RelationshipID, &p.Dials, &p.ConfidenceScore, &p.UpdatedAt, &p.Version)
	if err != nil {
		return nil, WrapNotFound(err)
	}
	if p.Dials == nil {
		p.Dials = map[string]float64{}
	}
	return &p, nil
}

func (r *pgEmotionalRepository) CreatePersonality(ctx context.Context, querier interfaces.DBTX, p *models.PersonalityAdaptation) error {
	_, err := querier.Exec(ctx, createPersonalityQuery, p.RelationshipID, nonNilFactors(p.Dials), p.ConfidenceScore, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: personality exists", models.ErrConcurrentUpdate)
		}
		return fmt.Errorf("failed to create personality adaptation: %w", err)
	}
	p.Version = 1
	return nil
}

func (r *pgEmotionalRepository) SavePersonality(ctx context.Context, querier interfaces.DBTX, p *models.PersonalityAdaptation) error {
	tag, err := querier.Exec(ctx, savePersonalityQuery, p.RelationshipID, nonNilFactors(p.Dials), p.ConfidenceScore, p.UpdatedAt, p.Version)
	if err != nil {
		return fmt.Errorf("failed to save personality adaptation: %w", err)
	}
	if err := casResult(tag); err != nil {
		return err
	}
	p.Version++
	return nil
}
