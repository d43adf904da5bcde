package gamification

import (
	"context"
	"errors"
	"fmt"

	"progression-server/internal/dbctx"
	"progression-server/internal/interfaces"
	"progression-server/internal/models"
)

// Subscriptions is the ledger's registration table on the event bus.
func (l *Ledger) Subscriptions() []interfaces.Subscription {
	return []interfaces.Subscription{
		{EventType: models.EventLevelUp, Name: "gamification.check_level_achievements", Handler: l.onLevelUp},
		{EventType: models.EventUserMessage, Name: "gamification.objective_messages", Handler: l.onUserMessage},
		{EventType: models.EventReactionAdded, Name: "gamification.objective_reactions", Handler: l.onReactionAdded},
		{EventType: models.EventNarrativeProgression, Name: "gamification.objective_fragments", Handler: l.onNarrativeProgression},
		{EventType: models.EventUserStartedBot, Name: "gamification.welcome_achievement", Handler: l.onUserStartedBot},
	}
}

func (l *Ledger) onLevelUp(ctx context.Context, event models.DomainEvent) error {
	e, ok := event.(models.LevelUpEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	tx, _ := dbctx.Querier(ctx)
	_, err := l.CheckLevelAchievements(ctx, tx, e.UserID, e.NewLevel)
	return err
}

func (l *Ledger) onUserMessage(ctx context.Context, event models.DomainEvent) error {
	return l.advanceObjective(ctx, event, ObjectiveMessages)
}

func (l *Ledger) onReactionAdded(ctx context.Context, event models.DomainEvent) error {
	return l.advanceObjective(ctx, event, ObjectiveReactions)
}

func (l *Ledger) onNarrativeProgression(ctx context.Context, event models.DomainEvent) error {
	return l.advanceObjective(ctx, event, ObjectiveFragments)
}

func (l *Ledger) advanceObjective(ctx context.Context, event models.DomainEvent, objective string) error {
	tx, _ := dbctx.Querier(ctx)
	_, err := l.IncrementObjective(ctx, tx, event.EventUserID(), objective, 1)
	return err
}

func (l *Ledger) onUserStartedBot(ctx context.Context, event models.DomainEvent) error {
	tx, _ := dbctx.Querier(ctx)
	_, err := l.CompleteAchievement(ctx, tx, event.EventUserID(), AchievementWelcome)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}
