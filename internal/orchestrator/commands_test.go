package orchestrator_test

import (
	"testing"
	"time"

	"progression-server/internal/models"
	"progression-server/internal/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCommand(t *testing.T) {
	tests := map[string]string{
		"/start":          orchestrator.CmdStart,
		"  /Perfil@MyBot": orchestrator.CmdProfile,
		"profile":         orchestrator.CmdProfile,
		"MOCHILA":         orchestrator.CmdInventory,
		"/ayuda":          orchestrator.CmdHelp,
		"/unknown":        "unknown",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, orchestrator.NormalizeCommand(in))
		})
	}
}

func TestHandleCommandStart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Achievements().Upsert(f.ctx, nil, &models.Achievement{
		Key: "welcome", Name: "Bienvenida", PointsReward: 10,
	}))

	resp := f.orch.HandleCommand(f.ctx, 1, "/start", nil, "ana")
	require.Empty(t, resp.Error)
	assert.Equal(t, orchestrator.CmdStart, resp.Command)
	assert.Contains(t, resp.Text, "Soy Diana")
	assert.Contains(t, resp.Text, "Todo empieza aquí.")
	assert.Contains(t, resp.Text, "1. Entrar")
	require.NotNil(t, resp.Fragment)
	assert.Equal(t, int64(10), f.balance(t, 1))

	_, err := f.store.Emotional().GetProfile(f.ctx, nil, "Diana")
	require.NoError(t, err)

	require.Len(t, f.published, 1)
	assert.Equal(t, []models.EventType{
		models.EventPointsAwarded,
		models.EventAchievementUnlocked,
		models.EventUserStartedBot,
		models.EventCommandExecuted,
	}, eventTypes(f.published[0]))
	started, ok := f.published[0][2].(models.UserStartedBotEvent)
	require.True(t, ok)
	assert.Equal(t, "ana", started.Username)

	t.Run("Second start does not re-award", func(t *testing.T) {
		resp := f.orch.HandleCommand(f.ctx, 1, "start", nil, "")
		require.Empty(t, resp.Error)
		assert.Equal(t, int64(10), f.balance(t, 1))
	})
}

func TestHandleCommandProfile(t *testing.T) {
	f := newFixture(t)
	f.orch.HandleMessage(f.ctx, 1, "hola", "")

	resp := f.orch.HandleCommand(f.ctx, 1, "/perfil", nil, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, orchestrator.CmdProfile, resp.Command)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, int64(5), resp.Profile.Points.CurrentPoints)
	assert.Contains(t, resp.Text, "Nivel 1: Novato")
	assert.Contains(t, resp.Text, "Besitos: 5")
}

func TestHandleCommandInventoryAndStory(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.HandleCommand(f.ctx, 1, "mochila", nil, "")
	assert.Equal(t, "Tu mochila está vacía.", resp.Text)

	require.True(t, f.orch.HandleNarrativeChoice(f.ctx, 1, "start_forest").Success)

	resp = f.orch.HandleCommand(f.ctx, 1, "mochila", nil, "")
	assert.Equal(t, map[string]int{"lantern": 1}, resp.Inventory)
	assert.Contains(t, resp.Text, "lantern x1")

	resp = f.orch.HandleCommand(f.ctx, 1, "historia", nil, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, "forest", resp.Fragment.Fragment.Key)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, 100.0, *resp.Progress)

	resp = f.orch.HandleCommand(f.ctx, 1, "reiniciar", nil, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, "start", resp.Fragment.Fragment.Key)
	assert.Equal(t, map[string]int{"lantern": 1}, resp.Fragment.Inventory)
}

func TestHandleCommandMissions(t *testing.T) {
	f := newFixture(t)
	hours := 24
	require.NoError(t, f.store.Missions().Upsert(f.ctx, nil, &models.Mission{
		Key:            "daily_checkin",
		Title:          "Visita diaria",
		MissionType:    models.MissionDaily,
		TimeLimitHours: &hours,
		PointsReward:   15,
		Objectives:     []models.MissionObjective{{Key: "checkin"}},
	}))

	resp := f.orch.HandleCommand(f.ctx, 1, "misiones", nil, "")
	require.Len(t, resp.Missions, 1)
	assert.Equal(t, models.MissionAvailable, resp.Missions[0].Status)
	assert.Contains(t, resp.Text, "Visita diaria [disponible]")

	resp = f.orch.HandleCommand(f.ctx, 1, "misiones", []string{"iniciar", "daily_checkin"}, "")
	require.Empty(t, resp.Error)
	assert.Contains(t, resp.Text, "Vence: 2024-05-11 09:00 UTC.")

	f.clock.Advance(25 * time.Hour)
	resp = f.orch.HandleCommand(f.ctx, 1, "misiones", nil, "")
	assert.Equal(t, models.MissionExpired, resp.Missions[0].Status)

	resp = f.orch.HandleCommand(f.ctx, 1, "misiones", []string{"iniciar", "daily_checkin"}, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, models.MissionInProgress, resp.Mission.Status)
	assert.Contains(t, resp.Text, "Vence: 2024-05-12 10:00 UTC.")

	t.Run("Missing key", func(t *testing.T) {
		resp := f.orch.HandleCommand(f.ctx, 1, "misiones", []string{"iniciar"}, "")
		assert.Equal(t, orchestrator.KindValidation, resp.ErrorKind)
	})

	t.Run("Unknown mission", func(t *testing.T) {
		resp := f.orch.HandleCommand(f.ctx, 1, "misiones", []string{"iniciar", "nope"}, "")
		assert.Equal(t, orchestrator.KindNotFound, resp.ErrorKind)
	})
}

func TestHandleCommandGift(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.HandleCommand(f.ctx, 1, "regalo", nil, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, int64(10), resp.Points.Awarded)
	assert.Contains(t, resp.Text, "+10 besitos")

	resp = f.orch.HandleCommand(f.ctx, 1, "regalo", nil, "")
	assert.Equal(t, orchestrator.KindStateConflict, resp.ErrorKind)
	assert.Equal(t, "Ya reclamaste tu regalo de hoy. ¡Vuelve mañana!", resp.Text)

	f.clock.Advance(24 * time.Hour)
	resp = f.orch.HandleCommand(f.ctx, 1, "regalo", nil, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, int64(20), f.balance(t, 1))
}

func TestHandleCommandAchievementsAndHelp(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Achievements().Upsert(f.ctx, nil, &models.Achievement{Key: "first", Name: "Primero", Description: "Algo"}))
	require.NoError(t, f.store.Achievements().Upsert(f.ctx, nil, &models.Achievement{Key: "secret", Name: "Secreto", IsHidden: true}))

	resp := f.orch.HandleCommand(f.ctx, 1, "logros", nil, "")
	require.Len(t, resp.Achievements, 1)
	assert.Contains(t, resp.Text, "☐ Primero: Algo")

	resp = f.orch.HandleCommand(f.ctx, 1, "/bailar", []string{"ya"}, "")
	require.Empty(t, resp.Error)
	assert.Contains(t, resp.Text, "Comandos disponibles")
	assert.Equal(t, "bailar", resp.Command)
}

func TestHandleCommandHistory(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.HandleCommand(f.ctx, 1, "historial", nil, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, "Todavía no tienes movimientos de besitos.", resp.Text)

	f.orch.HandleCommand(f.ctx, 1, "regalo", nil, "")
	resp = f.orch.HandleCommand(f.ctx, 1, "/historial", nil, "")
	require.Empty(t, resp.Error)
	require.Len(t, resp.History, 1)
	assert.Equal(t, models.SourceDailyGift, resp.History[0].Source)
	assert.Contains(t, resp.Text, "+10 (regalo diario) → 10")
}

func TestHandleCommandMemories(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.HandleCommand(f.ctx, 1, "recuerdos", nil, "")
	require.Empty(t, resp.Error)
	assert.Equal(t, "Diana aún no guarda recuerdos contigo.", resp.Text)

	f.orch.HandleMessage(f.ctx, 1, "hola", "")
	resp = f.orch.HandleCommand(f.ctx, 1, "recuerdos", nil, "")
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.Memories)
	for _, m := range resp.Memories {
		assert.Equal(t, 1, m.RecallCount)
	}
	assert.Contains(t, resp.Text, "Diana recuerda:")
	assert.Contains(t, resp.Text, "- message: hola")
}

func TestSetVIP(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.SetVIP(f.ctx, 1, true)
	require.Empty(t, resp.Error)
	assert.True(t, resp.VIP)
	assert.Equal(t, map[string]float64{"vip": 2}, resp.Multipliers)

	profile := f.orch.HandleCommand(f.ctx, 1, "perfil", nil, "")
	require.NotNil(t, profile.Profile)
	assert.Equal(t, 2.0, profile.Profile.Multiplier)

	resp = f.orch.SetVIP(f.ctx, 1, false)
	require.Empty(t, resp.Error)
	assert.False(t, resp.VIP)
	assert.Empty(t, resp.Multipliers)
}
