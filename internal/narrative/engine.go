package narrative

import (
	"context"
	"errors"
	"fmt"

	"progression-server/internal/clock"
	"progression-server/internal/configservice"
	"progression-server/internal/interfaces"
	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"go.uber.org/zap"
)

// relationshipDeltaScale converts a choice's relationship_delta into an impact.
const relationshipDeltaScale = 10.0

// Engine walks each user through the fragment graph.
type Engine struct {
	content   interfaces.StoryContentRepository
	states    interfaces.NarrativeStateRepository
	ledger    interfaces.GamificationLedger
	emotional interfaces.EmotionalModel
	bus       interfaces.EventBus
	cfg       *configservice.ConfigService
	clock     clock.Clock
	logger    *zap.Logger
}

var _ interfaces.NarrativeEngine = (*Engine)(nil)
var _ interfaces.Subscriber = (*Engine)(nil)

func NewEngine(
	content interfaces.StoryContentRepository,
	states interfaces.NarrativeStateRepository,
	ledger interfaces.GamificationLedger,
	emotional interfaces.EmotionalModel,
	bus interfaces.EventBus,
	cfg *configservice.ConfigService,
	clk clock.Clock,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		content:   content,
		states:    states,
		ledger:    ledger,
		emotional: emotional,
		bus:       bus,
		cfg:       cfg,
		clock:     clk,
		logger:    logger.Named("NarrativeEngine"),
	}
}

// loadState locks the user's narrative state, placing a new reader at the entry fragment.
func (e *Engine) loadState(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserNarrativeState, error) {
	st, err := e.states.GetForUpdate(ctx, tx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load narrative state for user %d: %w", userID, err)
	}

	entry := e.cfg.EntryFragmentKey()
	created := models.NewUserNarrativeState(userID, entry, e.clock.Now())
	if err := e.states.Create(ctx, tx, &created); err != nil {
		return nil, fmt.Errorf("failed to create narrative state for user %d: %w", userID, err)
	}
	e.logger.Info("Narrative state initialized", zap.Int64("user_id", userID), zap.String("fragment", entry))
	return &created, nil
}

func (e *Engine) getFragment(ctx context.Context, tx interfaces.DBTX, key string) (*models.StoryFragment, error) {
	f, err := e.content.GetFragment(ctx, tx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: fragment %q", models.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to load fragment %q: %w", key, err)
	}
	return f, nil
}

func (e *Engine) save(ctx context.Context, tx interfaces.DBTX, st *models.UserNarrativeState) error {
	if err := e.states.Save(ctx, tx, st); err != nil {
		if errors.Is(err, models.ErrConcurrentUpdate) {
			return fmt.Errorf("%w: narrative state of user %d changed concurrently", models.ErrStateConflict, st.UserID)
		}
		return fmt.Errorf("failed to save narrative state: %w", err)
	}
	return nil
}

// GetCurrentFragment returns the fragment the user is on together with its outgoing choices.
func (e *Engine) GetCurrentFragment(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.FragmentView, error) {
	st, err := e.loadState(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	fragment, err := e.getFragment(ctx, tx, st.CurrentFragmentKey)
	if err != nil {
		return nil, err
	}
	choices, err := e.content.ListChoicesBySource(ctx, tx, fragment.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to list choices of %q: %w", fragment.Key, err)
	}
	return &models.FragmentView{
		Fragment:         *fragment,
		Choices:          choices,
		VisitedFragments: append([]string(nil), st.VisitedFragments...),
		Inventory:        copyItems(st.NarrativeItems),
	}, nil
}

// MakeChoice follows a choice leaving the user's current fragment.
func (e *Engine) MakeChoice(ctx context.Context, tx interfaces.DBTX, userID int64, choiceID string) (*models.ChoiceResult, error) {
	logFields := []zap.Field{zap.Int64("user_id", userID), zap.String("choice_id", choiceID)}

	st, err := e.loadState(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	choice, err := e.content.GetChoice(ctx, tx, choiceID)
	if err != nil {
		metrics.NarrativeChoicesTotal.WithLabelValues("not_found").Inc()
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: choice %q", models.ErrNotFound, choiceID)
		}
		return nil, fmt.Errorf("failed to load choice %q: %w", choiceID, err)
	}
	if choice.SourceFragmentKey != st.CurrentFragmentKey {
		metrics.NarrativeChoicesTotal.WithLabelValues("conflict").Inc()
		e.logger.Info("Choice does not leave the current fragment", append(logFields,
			zap.String("current", st.CurrentFragmentKey), zap.String("source", choice.SourceFragmentKey))...)
		return nil, fmt.Errorf("%w: choice %q starts at %q, user is at %q",
			models.ErrStateConflict, choiceID, choice.SourceFragmentKey, st.CurrentFragmentKey)
	}
	target, err := e.getFragment(ctx, tx, choice.TargetFragmentKey)
	if err != nil {
		return nil, err
	}

	result := &models.ChoiceResult{
		Fragment:          *target,
		EmotionalTriggers: target.EmotionalTriggers,
		FirstVisit:        !st.HasVisited(target.Key),
	}

	// Списание до изменения состояния: нехватка баллов отменяет выбор целиком.
	if choice.PointsDelta < 0 {
		if _, err := e.ledger.SpendPoints(ctx, tx, userID, -choice.PointsDelta, "narrative choice "+choice.ID); err != nil {
			metrics.NarrativeChoicesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		result.PointsSpent = -choice.PointsDelta
	}

	now := e.clock.Now()
	next := st.WithChoice(*choice, now)
	if result.FirstVisit {
		for _, item := range target.RewardItems {
			next = next.WithItem(item, 1, now)
			result.ItemsGranted = append(result.ItemsGranted, item)
		}
	}
	if err := e.save(ctx, tx, &next); err != nil {
		return nil, err
	}

	// Награды выдаются после сохранения: обработчики LevelUp сами пишут в состояние.
	award := func(amount int64, description string) error {
		if amount <= 0 {
			return nil
		}
		res, err := e.ledger.AwardPoints(ctx, tx, userID, amount, models.SourceNarrative, description)
		if err != nil {
			return err
		}
		result.PointsAwarded += res.Awarded
		result.LevelUp = result.LevelUp || res.LevelUp
		return nil
	}
	if err := award(e.cfg.NarrativeProgressionPoints(), "narrative progression"); err != nil {
		return nil, err
	}
	if err := award(choice.PointsDelta, "narrative choice "+choice.ID); err != nil {
		return nil, err
	}
	if result.FirstVisit {
		if err := award(target.RewardPoints, "first visit "+target.Key); err != nil {
			return nil, err
		}
	}

	impact := ChoiceImpact(*choice, *target)
	if !impact.IsZero() {
		resp, err := e.emotional.ProcessNarrativeProgression(ctx, tx, userID, target.Character, impact, target.Title)
		if err != nil {
			return nil, err
		}
		result.EmotionalResponse = resp
	}

	choices, err := e.content.ListChoicesBySource(ctx, tx, target.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to list choices of %q: %w", target.Key, err)
	}
	result.Choices = choices

	metrics.NarrativeChoicesTotal.WithLabelValues("accepted").Inc()
	e.logger.Info("Choice accepted", append(logFields,
		zap.String("fragment", target.Key),
		zap.Bool("first_visit", result.FirstVisit),
		zap.Int64("points_awarded", result.PointsAwarded),
	)...)

	e.bus.Publish(ctx, models.NarrativeProgressionEvent{
		UserID:      userID,
		FragmentKey: target.Key,
		Character:   target.Character,
		ChoiceID:    choice.ID,
	})
	return result, nil
}

// ChoiceImpact merges the target fragment's triggers with the choice's relationship delta.
func ChoiceImpact(choice models.NarrativeChoice, target models.StoryFragment) models.EmotionVector {
	impact := target.EmotionalTriggers
	d := float64(choice.RelationshipDelta) / relationshipDeltaScale
	switch {
	case d > 0:
		impact.Trust = min(impact.Trust+d, 1)
		impact.Joy = min(impact.Joy+d, 1)
	case d < 0:
		impact.Sadness = min(impact.Sadness-d, 1)
	}
	return impact
}

// GetProgress is the share of fragments visited, as a percentage capped at 100.
func (e *Engine) GetProgress(ctx context.Context, tx interfaces.DBTX, userID int64) (float64, error) {
	st, err := e.loadState(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	total, err := e.content.CountFragments(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("failed to count fragments: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return min(float64(len(st.VisitedFragments))/float64(total)*100, 100), nil
}

// Reset returns the user to the entry fragment, keeping items and visited fragments.
func (e *Engine) Reset(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserNarrativeState, error) {
	st, err := e.loadState(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	next := st.Reset(e.cfg.EntryFragmentKey(), e.clock.Now())
	if err := e.save(ctx, tx, &next); err != nil {
		return nil, err
	}
	e.logger.Info("Narrative reset", zap.Int64("user_id", userID))
	return &next, nil
}

// AddItem adds qty units of an item. Quantities below 1 are rejected.
func (e *Engine) AddItem(ctx context.Context, tx interfaces.DBTX, userID int64, itemKey string, qty int) (*models.UserNarrativeState, error) {
	if itemKey == "" {
		return nil, fmt.Errorf("%w: item key is required", models.ErrValidation)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: item quantity must be positive, got %d", models.ErrValidation, qty)
	}
	st, err := e.loadState(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	next := st.WithItem(itemKey, qty, e.clock.Now())
	if err := e.save(ctx, tx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (e *Engine) GetInventory(ctx context.Context, tx interfaces.DBTX, userID int64) (map[string]int, error) {
	st, err := e.loadState(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return copyItems(st.NarrativeItems), nil
}

// SetVariable stores a free-form narrative variable.
func (e *Engine) SetVariable(ctx context.Context, tx interfaces.DBTX, userID int64, name string, value any) error {
	if name == "" {
		return fmt.Errorf("%w: variable name is required", models.ErrValidation)
	}
	st, err := e.loadState(ctx, tx, userID)
	if err != nil {
		return err
	}
	next := st.WithVariable(name, value, e.clock.Now())
	return e.save(ctx, tx, &next)
}

func copyItems(items map[string]int) map[string]int {
	out := make(map[string]int, len(items))
	for k, v := range items {
		out[k] = v
	}
	return out
}
