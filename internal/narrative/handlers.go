package narrative

import (
	"context"
	"fmt"

	"progression-server/internal/dbctx"
	"progression-server/internal/interfaces"
	"progression-server/internal/models"
)

// VariableRelationshipPrefix prefixes the per-character relationship variable.
const VariableRelationshipPrefix = "relationship:"

// VariableLevel holds the user's last known ledger level.
const VariableLevel = "level"

// Subscriptions is the engine's registration table on the event bus.
func (e *Engine) Subscriptions() []interfaces.Subscription {
	return []interfaces.Subscription{
		{EventType: models.EventRelationshipMilestone, Name: "narrative.relationship_variable", Handler: e.onRelationshipMilestone},
		{EventType: models.EventLevelUp, Name: "narrative.level_variable", Handler: e.onLevelUp},
	}
}

func (e *Engine) onRelationshipMilestone(ctx context.Context, event models.DomainEvent) error {
	m, ok := event.(models.RelationshipMilestoneEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	tx, _ := dbctx.Querier(ctx)
	return e.SetVariable(ctx, tx, m.UserID, VariableRelationshipPrefix+m.Character, string(m.NewStatus))
}

func (e *Engine) onLevelUp(ctx context.Context, event models.DomainEvent) error {
	l, ok := event.(models.LevelUpEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	tx, _ := dbctx.Querier(ctx)
	return e.SetVariable(ctx, tx, l.UserID, VariableLevel, l.NewLevel)
}
