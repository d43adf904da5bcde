package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"progression-server/internal/models"
)

// PointsSummary is the ledger outcome attached to a response.
type PointsSummary struct {
	Awarded   int64  `json:"awarded"`
	Balance   int64  `json:"balance"`
	Level     int    `json:"level"`
	LevelName string `json:"level_name"`
	LevelUp   bool   `json:"level_up"`
}

type MessageResponse struct {
	Text              string                    `json:"text"`
	UserID            int64                     `json:"user_id"`
	EmotionalState    *models.EmotionalResponse `json:"emotional_state,omitempty"`
	Timestamp         time.Time                 `json:"timestamp"`
	Points            *PointsSummary            `json:"points,omitempty"`
	NarrativeFragment *models.FragmentView      `json:"narrative_fragment,omitempty"`
	Error             string                    `json:"error,omitempty"`
	ErrorKind         ErrorKind                 `json:"error_kind,omitempty"`
}

type CommandResponse struct {
	Text         string                    `json:"text"`
	UserID       int64                     `json:"user_id"`
	Command      string                    `json:"command"`
	Timestamp    time.Time                 `json:"timestamp"`
	Profile      *models.UserProfile       `json:"profile,omitempty"`
	Inventory    map[string]int            `json:"inventory,omitempty"`
	Missions     []models.MissionView      `json:"missions,omitempty"`
	Mission      *models.UserMission       `json:"mission,omitempty"`
	Achievements []models.AchievementView  `json:"achievements,omitempty"`
	Fragment     *models.FragmentView      `json:"narrative_fragment,omitempty"`
	Progress     *float64                  `json:"narrative_progress,omitempty"`
	Points       *PointsSummary            `json:"points,omitempty"`
	History      []models.PointTransaction `json:"history,omitempty"`
	Memories     []models.EmotionalMemory  `json:"memories,omitempty"`
	Error        string                    `json:"error,omitempty"`
	ErrorKind    ErrorKind                 `json:"error_kind,omitempty"`
}

// VIPResponse reports the user's multipliers after a VIP change.
type VIPResponse struct {
	UserID      int64              `json:"user_id"`
	VIP         bool               `json:"vip"`
	Multipliers map[string]float64 `json:"active_multipliers,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   ErrorKind          `json:"error_kind,omitempty"`
}

type ReactionResponse struct {
	Success           bool                      `json:"success"`
	PointsAwarded     int64                     `json:"points_awarded"`
	EmotionalResponse *models.EmotionalResponse `json:"emotional_response,omitempty"`
	Timestamp         time.Time                 `json:"timestamp"`
	Error             string                    `json:"error,omitempty"`
	ErrorKind         ErrorKind                 `json:"error_kind,omitempty"`
}

type ChoiceResponse struct {
	Success           bool                 `json:"success"`
	NarrativeFragment *models.ChoiceResult `json:"narrative_fragment,omitempty"`
	PointsAwarded     int64                `json:"points_awarded"`
	Timestamp         time.Time            `json:"timestamp"`
	Error             string               `json:"error,omitempty"`
	ErrorKind         ErrorKind            `json:"error_kind,omitempty"`
}

var emotionReplies = map[models.Emotion]string{
	models.EmotionJoy:          "¡Me alegra mucho leerte!",
	models.EmotionTrust:        "Sabes que puedes contar conmigo.",
	models.EmotionFear:         "Tranquilo, aquí estoy contigo.",
	models.EmotionSadness:      "Lo siento mucho... cuéntame más.",
	models.EmotionAnger:        "Entiendo que estés molesto.",
	models.EmotionSurprise:     "¡Vaya, no me lo esperaba!",
	models.EmotionAnticipation: "¡Ya quiero ver qué sigue!",
	models.EmotionDisgust:      "Uf, eso no suena nada bien.",
	models.EmotionNeutral:      "Te escucho.",
}

func renderMessage(character string, emo *models.EmotionalResponse, pts *PointsSummary) string {
	var b strings.Builder
	reply, ok := emotionReplies[emo.DominantEmotion]
	if !ok {
		reply = emotionReplies[models.EmotionNeutral]
	}
	fmt.Fprintf(&b, "%s: %s", character, reply)
	if emo.StageChanged {
		fmt.Fprintf(&b, "\nNuestra relación ahora es %s.", strings.ToLower(string(emo.Relationship.Status)))
	}
	writePoints(&b, pts)
	return b.String()
}

func writePoints(b *strings.Builder, pts *PointsSummary) {
	if pts == nil || pts.Awarded <= 0 {
		return
	}
	fmt.Fprintf(b, "\n+%d besitos (total: %d)", pts.Awarded, pts.Balance)
	if pts.LevelUp {
		fmt.Fprintf(b, "\n¡Subiste a nivel %d: %s!", pts.Level, pts.LevelName)
	}
}

func renderFragment(view *models.FragmentView) string {
	var b strings.Builder
	if view.Fragment.Title != "" {
		fmt.Fprintf(&b, "%s\n\n", view.Fragment.Title)
	}
	b.WriteString(view.Fragment.Text)
	for i, c := range view.Choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Text)
	}
	return b.String()
}

func renderProfile(p *models.UserProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Nivel %d: %s\n", p.Level.Level, p.Level.Name)
	fmt.Fprintf(&b, "Besitos: %d (ganados: %d)\n", p.Points.CurrentPoints, p.Points.TotalEarned)
	if p.Level.IsMaxLevel {
		b.WriteString("Nivel máximo alcanzado")
	} else {
		fmt.Fprintf(&b, "Progreso: %.0f%% (faltan %d para %s)", p.Level.ProgressPercentage, p.Level.PointsToNext, p.Level.NextLevelName)
	}
	if p.Multiplier != 1 {
		fmt.Fprintf(&b, "\nMultiplicador: x%.1f", p.Multiplier)
	}
	fmt.Fprintf(&b, "\nLogros: %d · Misiones activas: %d", len(p.Achievements), len(p.ActiveMissions))
	return b.String()
}

func renderInventory(items map[string]int) string {
	if len(items) == 0 {
		return "Tu mochila está vacía."
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("Tu mochila:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s x%d", k, items[k])
	}
	return b.String()
}

var missionStatusLabels = map[models.MissionStatus]string{
	models.MissionAvailable:  "disponible",
	models.MissionInProgress: "en curso",
	models.MissionCompleted:  "completada",
	models.MissionExpired:    "expirada",
}

func renderMissions(missions []models.MissionView) string {
	if len(missions) == 0 {
		return "No hay misiones por ahora."
	}
	var b strings.Builder
	b.WriteString("Misiones:")
	for _, m := range missions {
		fmt.Fprintf(&b, "\n- %s [%s] %.0f%% · %d besitos (%s)",
			m.Mission.Title, missionStatusLabels[m.Status], m.ProgressPercentage, m.Mission.PointsReward, m.Mission.Key)
	}
	return b.String()
}

func renderAchievements(achievements []models.AchievementView) string {
	if len(achievements) == 0 {
		return "Aún no hay logros."
	}
	var b strings.Builder
	b.WriteString("Logros:")
	for _, a := range achievements {
		mark := "☐"
		if a.IsCompleted {
			mark = "☑"
		}
		fmt.Fprintf(&b, "\n%s %s: %s", mark, a.Achievement.Name, a.Achievement.Description)
	}
	return b.String()
}

var pointSourceLabels = map[models.PointSource]string{
	models.SourceMessage:     "mensaje",
	models.SourceReaction:    "reacción",
	models.SourceMission:     "misión",
	models.SourceDailyGift:   "regalo diario",
	models.SourceMinigame:    "minijuego",
	models.SourceNarrative:   "historia",
	models.SourceAchievement: "logro",
	models.SourceSpend:       "canje",
}

func renderHistory(entries []models.PointTransaction) string {
	if len(entries) == 0 {
		return "Todavía no tienes movimientos de besitos."
	}
	var b strings.Builder
	b.WriteString("Tus últimos movimientos:")
	for _, e := range entries {
		source, ok := pointSourceLabels[e.Source]
		if !ok {
			source = string(e.Source)
		}
		fmt.Fprintf(&b, "\n%s %+d (%s) → %d", e.CreatedAt.UTC().Format("2006-01-02"), e.Amount, source, e.BalanceAfter)
		if e.Description != "" {
			fmt.Fprintf(&b, " · %s", e.Description)
		}
	}
	return b.String()
}

func renderMemories(character string, memories []models.EmotionalMemory) string {
	if len(memories) == 0 {
		return fmt.Sprintf("%s aún no guarda recuerdos contigo.", character)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s recuerda:", character)
	for _, m := range memories {
		fmt.Fprintf(&b, "\n- %s", m.Summary)
	}
	return b.String()
}

const helpText = `Comandos disponibles:
/start - comenzar
/perfil - tu nivel y besitos
/mochila - tus objetos
/misiones - misiones (/misiones iniciar <clave>)
/logros - tus logros
/regalo - regalo diario
/historia - dónde te quedaste
/reiniciar - volver al inicio de la historia
/historial - tus últimos besitos
/recuerdos - lo que recuerdan de ti`
