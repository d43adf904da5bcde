package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"progression-server/internal/clock"
	"progression-server/internal/configservice"
	"progression-server/internal/interfaces"
	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"go.uber.org/zap"
)

const (
	opMessage  = "handle_message"
	opCommand  = "handle_command"
	opReaction = "handle_reaction"
	opChoice   = "handle_narrative_choice"
	opVIP      = "set_vip"
)

// ReactionPoints is the fixed reaction -> points table. "poll" and unknown reactions are configurable.
var ReactionPoints = map[string]int64{
	"like": 1,
	"love": 2,
	"wow":  3,
	"kiss": 5,
}

const ReactionPoll = "poll"

// Orchestrator runs every inbound user action in one locked transactional scope.
type Orchestrator struct {
	session   interfaces.SessionProvider
	locker    interfaces.UserLocker
	ledger    interfaces.GamificationLedger
	emotional interfaces.EmotionalModel
	narrative interfaces.NarrativeEngine
	bus       interfaces.EventBus
	broker    interfaces.BrokerPublisher
	cfg       *configservice.ConfigService
	clock     clock.Clock
	errors    *ErrorHandler
	logger    *zap.Logger
}

var _ interfaces.Subscriber = (*Orchestrator)(nil)

// Deps groups the orchestrator collaborators. Broker may be nil.
type Deps struct {
	Session   interfaces.SessionProvider
	Locker    interfaces.UserLocker
	Ledger    interfaces.GamificationLedger
	Emotional interfaces.EmotionalModel
	Narrative interfaces.NarrativeEngine
	Bus       interfaces.EventBus
	Broker    interfaces.BrokerPublisher
	Config    *configservice.ConfigService
	Clock     clock.Clock
}

func New(deps Deps, logger *zap.Logger) *Orchestrator {
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalUserLocker()
	}
	return &Orchestrator{
		session:   deps.Session,
		locker:    locker,
		ledger:    deps.Ledger,
		emotional: deps.Emotional,
		narrative: deps.Narrative,
		bus:       deps.Bus,
		broker:    deps.Broker,
		cfg:       deps.Config,
		clock:     deps.Clock,
		errors:    NewErrorHandler(logger),
		logger:    logger.Named("Orchestrator"),
	}
}

// run serializes the user, opens the transaction and publishes outbound events after commit.
func (o *Orchestrator) run(ctx context.Context, userID int64, operation string, fn func(ctx context.Context, tx interfaces.DBTX) error) *ActionError {
	unlock, err := o.locker.Lock(ctx, userID)
	if err != nil {
		metrics.OrchestratorActionsTotal.WithLabelValues(operation, "error").Inc()
		return o.errors.Handle(ctx, ErrorContext{UserID: userID, Operation: operation, Err: fmt.Errorf("failed to lock user: %w", err)})
	}
	defer unlock()

	box := &outbox{}
	if err := o.session.WithTx(withOutbox(ctx, box), fn); err != nil {
		metrics.OrchestratorActionsTotal.WithLabelValues(operation, "error").Inc()
		return o.errors.Handle(ctx, ErrorContext{UserID: userID, Operation: operation, Err: err})
	}
	metrics.OrchestratorActionsTotal.WithLabelValues(operation, "ok").Inc()
	o.flush(ctx, userID, box.drain())
	return nil
}

// pointsBefore and pointsSummary frame an action so rewards from event handlers are included.
func (o *Orchestrator) pointsBefore(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserPoints, error) {
	return o.ledger.GetPoints(ctx, tx, userID)
}

func (o *Orchestrator) pointsSummary(ctx context.Context, tx interfaces.DBTX, before *models.UserPoints) (*PointsSummary, error) {
	after, err := o.ledger.GetPoints(ctx, tx, before.UserID)
	if err != nil {
		return nil, err
	}
	info := o.ledger.CalculateLevel(after.TotalEarned)
	return &PointsSummary{
		Awarded:   after.TotalEarned - before.TotalEarned,
		Balance:   after.CurrentPoints,
		Level:     info.Level,
		LevelName: info.Name,
		LevelUp:   after.Level > before.Level,
	}, nil
}

// currentFragment tolerates missing story content.
func (o *Orchestrator) currentFragment(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.FragmentView, error) {
	view, err := o.narrative.GetCurrentFragment(ctx, tx, userID)
	if errors.Is(err, models.ErrNotFound) {
		o.logger.Warn("Story content missing, skipping fragment", zap.Int64("user_id", userID), zap.Error(err))
		return nil, nil
	}
	return view, err
}

// HandleMessage awards per-message points, updates the relationship with the default character
// and returns the character's reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID int64, text, username string) *MessageResponse {
	resp := &MessageResponse{UserID: userID, Timestamp: o.clock.Now()}
	character := o.emotional.DefaultCharacter()

	actionErr := o.run(ctx, userID, opMessage, func(ctx context.Context, tx interfaces.DBTX) error {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: empty message", models.ErrValidation)
		}
		before, err := o.pointsBefore(ctx, tx, userID)
		if err != nil {
			return err
		}
		amount := int64(math.Round(float64(o.cfg.PointsPerMessage()) * before.EffectiveMultiplier()))
		if amount > 0 {
			if _, err := o.ledger.AwardPoints(ctx, tx, userID, amount, models.SourceMessage, "message"); err != nil {
				return err
			}
		}
		emo, err := o.emotional.ProcessMessage(ctx, tx, userID, character, text)
		if err != nil {
			return err
		}
		o.bus.Publish(ctx, models.UserMessageEvent{UserID: userID, Message: text, Timestamp: resp.Timestamp})

		view, err := o.currentFragment(ctx, tx, userID)
		if err != nil {
			return err
		}
		pts, err := o.pointsSummary(ctx, tx, before)
		if err != nil {
			return err
		}
		resp.EmotionalState = emo
		resp.Points = pts
		resp.NarrativeFragment = view
		resp.Text = renderMessage(character, emo, pts)
		return nil
	})
	if actionErr != nil {
		*resp = MessageResponse{UserID: userID, Timestamp: resp.Timestamp, Text: actionErr.Message, Error: actionErr.Message, ErrorKind: actionErr.Kind}
		return resp
	}
	o.logger.Debug("Message handled", zap.Int64("user_id", userID), zap.String("username", username))
	return resp
}

// reactionPoints resolves the award for a reaction type.
func (o *Orchestrator) reactionPoints(reactionType string) int64 {
	if reactionType == ReactionPoll {
		return o.cfg.PointsPerPoll()
	}
	if pts, ok := ReactionPoints[reactionType]; ok {
		return pts
	}
	return o.cfg.PointsPerReaction()
}

// HandleReaction awards reaction points and applies the reaction's emotional impact.
func (o *Orchestrator) HandleReaction(ctx context.Context, userID int64, messageID, reactionType string) *ReactionResponse {
	resp := &ReactionResponse{Timestamp: o.clock.Now()}
	reactionType = strings.ToLower(strings.TrimSpace(reactionType))

	actionErr := o.run(ctx, userID, opReaction, func(ctx context.Context, tx interfaces.DBTX) error {
		if reactionType == "" {
			return fmt.Errorf("%w: reaction type is required", models.ErrValidation)
		}
		points := o.reactionPoints(reactionType)
		if points > 0 {
			if _, err := o.ledger.AwardPoints(ctx, tx, userID, points, models.SourceReaction, "reaction "+reactionType); err != nil {
				return err
			}
		}
		emo, err := o.emotional.ProcessReaction(ctx, tx, userID, o.emotional.DefaultCharacter(), reactionType)
		if err != nil {
			return err
		}
		o.bus.Publish(ctx, models.ReactionAddedEvent{UserID: userID, MessageID: messageID, ReactionType: reactionType, PointsToAward: points})
		resp.PointsAwarded = points
		resp.EmotionalResponse = emo
		return nil
	})
	if actionErr != nil {
		return &ReactionResponse{Timestamp: resp.Timestamp, Error: actionErr.Message, ErrorKind: actionErr.Kind}
	}
	resp.Success = true
	return resp
}

// HandleNarrativeChoice applies a story choice.
func (o *Orchestrator) HandleNarrativeChoice(ctx context.Context, userID int64, choiceID string) *ChoiceResponse {
	resp := &ChoiceResponse{Timestamp: o.clock.Now()}

	actionErr := o.run(ctx, userID, opChoice, func(ctx context.Context, tx interfaces.DBTX) error {
		if strings.TrimSpace(choiceID) == "" {
			return fmt.Errorf("%w: choice id is required", models.ErrValidation)
		}
		result, err := o.narrative.MakeChoice(ctx, tx, userID, choiceID)
		if err != nil {
			return err
		}
		resp.NarrativeFragment = result
		resp.PointsAwarded = result.PointsAwarded
		return nil
	})
	if actionErr != nil {
		return &ChoiceResponse{Timestamp: resp.Timestamp, Error: actionErr.Message, ErrorKind: actionErr.Kind}
	}
	resp.Success = true
	return resp
}

// SetVIP turns the user's vip multiplier on or off. Repeating the current state is a no-op.
func (o *Orchestrator) SetVIP(ctx context.Context, userID int64, enabled bool) *VIPResponse {
	resp := &VIPResponse{UserID: userID, Timestamp: o.clock.Now()}
	actionErr := o.run(ctx, userID, opVIP, func(ctx context.Context, tx interfaces.DBTX) error {
		var (
			p   *models.UserPoints
			err error
		)
		if enabled {
			p, err = o.ledger.SetVIP(ctx, tx, userID)
		} else {
			p, err = o.ledger.ClearVIP(ctx, tx, userID)
		}
		if err != nil {
			return err
		}
		resp.VIP = enabled
		resp.Multipliers = p.ActiveMultipliers
		return nil
	})
	if actionErr != nil {
		resp.Error = actionErr.Message
		resp.ErrorKind = actionErr.Kind
	}
	return resp
}
