package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"
)

// Command names. Aliases resolve through commandAliases.
const (
	CmdStart     = "start"
	CmdProfile   = "profile"
	CmdInventory = "mochila"
	CmdMissions  = "misiones"
	CmdAchieve   = "logros"
	CmdGift      = "regalo"
	CmdStory     = "historia"
	CmdReset     = "reiniciar"
	CmdHistory   = "historial"
	CmdMemories  = "recuerdos"
	CmdHelp      = "help"

	subStartMission = "iniciar"
)

var commandAliases = map[string]string{
	"perfil": CmdProfile,
	"ayuda":  CmdHelp,
}

// NormalizeCommand strips the leading slash and a @botname suffix and resolves aliases.
func NormalizeCommand(command string) string {
	c := strings.ToLower(strings.TrimSpace(command))
	c = strings.TrimPrefix(c, "/")
	if i := strings.IndexByte(c, '@'); i >= 0 {
		c = c[:i]
	}
	if alias, ok := commandAliases[c]; ok {
		return alias
	}
	return c
}

type commandFunc func(ctx context.Context, tx interfaces.DBTX, userID int64, args []string, resp *CommandResponse) error

const (
	historyCommandLimit  = 10
	memoriesCommandLimit = 5
)

func (o *Orchestrator) commands(username string) map[string]commandFunc {
	return map[string]commandFunc{
		CmdStart: func(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
			return o.cmdStart(ctx, tx, userID, username, resp)
		},
		CmdProfile:   o.cmdProfile,
		CmdInventory: o.cmdInventory,
		CmdMissions:  o.cmdMissions,
		CmdAchieve:   o.cmdAchievements,
		CmdGift:      o.cmdGift,
		CmdStory:     o.cmdStory,
		CmdReset:     o.cmdReset,
		CmdHistory:   o.cmdHistory,
		CmdMemories:  o.cmdMemories,
	}
}

// commandConflictMessages overrides the generic state-conflict message per command.
var commandConflictMessages = map[string]string{
	CmdGift: "Ya reclamaste tu regalo de hoy. ¡Vuelve mañana!",
}

// HandleCommand dispatches a bot command. Unknown commands return the help text.
// username is only recorded by /start.
func (o *Orchestrator) HandleCommand(ctx context.Context, userID int64, command string, args []string, username string) *CommandResponse {
	name := NormalizeCommand(command)
	resp := &CommandResponse{UserID: userID, Command: name, Timestamp: o.clock.Now()}

	handler, known := o.commands(username)[name]
	actionErr := o.run(ctx, userID, opCommand, func(ctx context.Context, tx interfaces.DBTX) error {
		if known {
			if err := handler(ctx, tx, userID, args, resp); err != nil {
				return err
			}
		} else {
			resp.Text = helpText
		}
		o.bus.Publish(ctx, models.CommandExecutedEvent{UserID: userID, Command: name, Args: args, Timestamp: resp.Timestamp})
		return nil
	})
	if actionErr != nil {
		msg := actionErr.Message
		if override, ok := commandConflictMessages[name]; ok && actionErr.Kind == KindStateConflict {
			msg = override
		}
		return &CommandResponse{UserID: userID, Command: name, Timestamp: resp.Timestamp, Text: msg, Error: msg, ErrorKind: actionErr.Kind}
	}
	return resp
}

func (o *Orchestrator) cmdStart(ctx context.Context, tx interfaces.DBTX, userID int64, username string, resp *CommandResponse) error {
	character := o.emotional.DefaultCharacter()
	if _, err := o.emotional.GetOrCreateRelationship(ctx, tx, userID, character); err != nil {
		return err
	}
	o.bus.Publish(ctx, models.UserStartedBotEvent{UserID: userID, Username: username})

	view, err := o.currentFragment(ctx, tx, userID)
	if err != nil {
		return err
	}
	resp.Fragment = view
	resp.Text = fmt.Sprintf("¡Hola! Soy %s. Qué bueno tenerte aquí.", character)
	if view != nil {
		resp.Text += "\n\n" + renderFragment(view)
	}
	return nil
}

func (o *Orchestrator) cmdProfile(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	profile, err := o.ledger.GetProfile(ctx, tx, userID)
	if err != nil {
		return err
	}
	resp.Profile = profile
	resp.Text = renderProfile(profile)
	return nil
}

func (o *Orchestrator) cmdInventory(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	items, err := o.narrative.GetInventory(ctx, tx, userID)
	if err != nil {
		return err
	}
	resp.Inventory = items
	resp.Text = renderInventory(items)
	return nil
}

func (o *Orchestrator) cmdMissions(ctx context.Context, tx interfaces.DBTX, userID int64, args []string, resp *CommandResponse) error {
	if len(args) > 0 && strings.EqualFold(args[0], subStartMission) {
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return fmt.Errorf("%w: mission key is required", models.ErrValidation)
		}
		um, err := o.ledger.StartMission(ctx, tx, userID, args[1])
		if err != nil {
			return err
		}
		resp.Mission = um
		switch um.Status {
		case models.MissionCompleted:
			resp.Text = fmt.Sprintf("Ya completaste la misión %s.", um.MissionKey)
		case models.MissionExpired:
			resp.Text = fmt.Sprintf("La misión %s ya expiró.", um.MissionKey)
		default:
			resp.Text = fmt.Sprintf("Misión %s en curso.", um.MissionKey)
			if um.ExpiresAt != nil {
				resp.Text += fmt.Sprintf(" Vence: %s UTC.", um.ExpiresAt.UTC().Format("2006-01-02 15:04"))
			}
		}
		return nil
	}

	missions, err := o.ledger.ListMissions(ctx, tx, userID)
	if err != nil {
		return err
	}
	resp.Missions = missions
	resp.Text = renderMissions(missions)
	return nil
}

func (o *Orchestrator) cmdAchievements(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	achievements, err := o.ledger.ListAchievements(ctx, tx, userID)
	if err != nil {
		return err
	}
	resp.Achievements = achievements
	resp.Text = renderAchievements(achievements)
	return nil
}

func (o *Orchestrator) cmdGift(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	before, err := o.pointsBefore(ctx, tx, userID)
	if err != nil {
		return err
	}
	if _, err := o.ledger.ClaimDailyGift(ctx, tx, userID); err != nil {
		return err
	}
	pts, err := o.pointsSummary(ctx, tx, before)
	if err != nil {
		return err
	}
	resp.Points = pts
	var b strings.Builder
	b.WriteString("¡Tu regalo de hoy!")
	writePoints(&b, pts)
	resp.Text = b.String()
	return nil
}

func (o *Orchestrator) cmdStory(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	view, err := o.narrative.GetCurrentFragment(ctx, tx, userID)
	if err != nil {
		return err
	}
	progress, err := o.narrative.GetProgress(ctx, tx, userID)
	if err != nil {
		return err
	}
	resp.Fragment = view
	resp.Progress = &progress
	resp.Text = renderFragment(view) + fmt.Sprintf("\n\nHas explorado el %.0f%% de la historia.", progress)
	return nil
}

func (o *Orchestrator) cmdReset(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	if _, err := o.narrative.Reset(ctx, tx, userID); err != nil {
		return err
	}
	view, err := o.narrative.GetCurrentFragment(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			resp.Text = "Historia reiniciada."
			return nil
		}
		return err
	}
	resp.Fragment = view
	resp.Text = "Historia reiniciada. Tus objetos siguen en la mochila.\n\n" + renderFragment(view)
	return nil
}

func (o *Orchestrator) cmdHistory(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	entries, err := o.ledger.GetHistory(ctx, tx, userID, historyCommandLimit)
	if err != nil {
		return err
	}
	resp.History = entries
	resp.Text = renderHistory(entries)
	return nil
}

// cmdMemories forgets stale memories first, so only what still matters is recalled.
func (o *Orchestrator) cmdMemories(ctx context.Context, tx interfaces.DBTX, userID int64, _ []string, resp *CommandResponse) error {
	character := o.emotional.DefaultCharacter()
	if _, err := o.emotional.ForgetStaleMemories(ctx, tx, userID, character); err != nil {
		return err
	}
	memories, err := o.emotional.RecallMemories(ctx, tx, userID, character, memoriesCommandLimit)
	if err != nil {
		return err
	}
	resp.Memories = memories
	resp.Text = renderMemories(character, memories)
	return nil
}
