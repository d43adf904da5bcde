package database

import (
	"context"
	"fmt"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	fragmentColumns = `key, title, "character", text, tags, reward_points, reward_items, emotional_triggers, created_at`
	choiceColumns   = `id, source_fragment_key, target_fragment_key, text, points_delta, relationship_delta, sort_order, created_at`

	getFragmentQuery         = `SELECT ` + fragmentColumns + ` FROM story_fragments WHERE key = $1`
	getChoiceQuery           = `SELECT ` + choiceColumns + ` FROM narrative_choices WHERE id = $1`
	listChoicesBySourceQuery = `SELECT ` + choiceColumns + ` FROM narrative_choices WHERE source_fragment_key = $1 ORDER BY sort_order, id`
	countFragmentsQuery      = `SELECT COUNT(*) FROM story_fragments`
	upsertFragmentQuery      = `
        INSERT INTO story_fragments (key, title, "character", text, tags, reward_points, reward_items, emotional_triggers)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (key) DO UPDATE SET
            title = EXCLUDED.title,
            "character" = EXCLUDED."character",
            text = EXCLUDED.text,
            tags = EXCLUDED.tags,
            reward_points = EXCLUDED.reward_points,
            reward_items = EXCLUDED.reward_items,
            emotional_triggers = EXCLUDED.emotional_triggers`
	upsertChoiceQuery = `
        INSERT INTO narrative_choices (id, source_fragment_key, target_fragment_key, text, points_delta, relationship_delta, sort_order)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            source_fragment_key = EXCLUDED.source_fragment_key,
            target_fragment_key = EXCLUDED.target_fragment_key,
            text = EXCLUDED.text,
            points_delta = EXCLUDED.points_delta,
            relationship_delta = EXCLUDED.relationship_delta,
            sort_order = EXCLUDED.sort_order`
)

type pgStoryContentRepository struct {
	logger *zap.Logger
}

var _ interfaces.StoryContentRepository = (*pgStoryContentRepository)(nil)

func NewPgStoryContentRepository(logger *zap.Logger) interfaces.StoryContentRepository {
	return &pgStoryContentRepository{logger: logger.Named("PgStoryContentRepo")}
}

func scanFragment(row pgx.Row) (*models.StoryFragment, error) {
	var f models.StoryFragment
	err := row.Scan(&f.Key, &f.Title, &f.Character, &f.Text, &f.Tags, &f.RewardPoints, &f.RewardItems, &f.EmotionalTriggers, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *pgStoryContentRepository) GetFragment(ctx context.Context, querier interfaces.DBTX, key string) (*models.StoryFragment, error) {
	f, err := scanFragment(querier.QueryRow(ctx, getFragmentQuery, key))
	if err != nil {
		return nil, WrapNotFound(err)
	}
	return f, nil
}

func (r *pgStoryContentRepository) GetChoice(ctx context.Context, querier interfaces.DBTX, id string) (*models.NarrativeChoice, error) {
	var c models.NarrativeChoice
	if err := pgxscan.Get(ctx, querier, &c, getChoiceQuery, id); err != nil {
		return nil, WrapNotFound(err)
	}
	return &c, nil
}

func (r *pgStoryContentRepository) ListChoicesBySource(ctx context.Context, querier interfaces.DBTX, sourceKey string) ([]models.NarrativeChoice, error) {
	choices := []models.NarrativeChoice{}
	if err := pgxscan.Select(ctx, querier, &choices, listChoicesBySourceQuery, sourceKey); err != nil {
		r.logger.Error("Failed to list choices", zap.String("source", sourceKey), zap.Error(err))
		return nil, fmt.Errorf("failed to list choices of %s: %w", sourceKey, err)
	}
	return choices, nil
}

func (r *pgStoryContentRepository) CountFragments(ctx context.Context, querier interfaces.DBTX) (int, error) {
	var n int
	if err := querier.QueryRow(ctx, countFragmentsQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fragments: %w", err)
	}
	return n, nil
}

func (r *pgStoryContentRepository) UpsertFragment(ctx context.Context, querier interfaces.DBTX, f *models.StoryFragment) error {
	_, err := querier.Exec(ctx, upsertFragmentQuery,
		f.Key, f.Title, f.Character, f.Text, nonNilStrings(f.Tags), f.RewardPoints, nonNilStrings(f.RewardItems), f.EmotionalTriggers)
	if err != nil {
		r.logger.Error("Failed to upsert fragment", zap.String("key", f.Key), zap.Error(err))
		return fmt.Errorf("failed to upsert fragment %s: %w", f.Key, err)
	}
	return nil
}

func (r *pgStoryContentRepository) UpsertChoice(ctx context.Context, querier interfaces.DBTX, c *models.NarrativeChoice) error {
	_, err := querier.Exec(ctx, upsertChoiceQuery,
		c.ID, c.SourceFragmentKey, c.TargetFragmentKey, c.Text, c.PointsDelta, c.RelationshipDelta, c.SortOrder)
	if err != nil {
		r.logger.Error("Failed to upsert choice", zap.String("id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert choice %s: %w", c.ID, err)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
