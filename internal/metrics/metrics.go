package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_events_published_total",
			Help: "Total number of domain events published on the in-process bus.",
		},
		[]string{"event_type"},
	)

	EventHandlerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_event_handler_failures_total",
			Help: "Total number of event handler errors and panics by handler.",
		},
		[]string{"event_type", "handler"},
	)

	PointsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_points_awarded_total",
			Help: "Total points awarded by source.",
		},
		[]string{"source"},
	)

	PointsSpentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "progression_points_spent_total",
		Help: "Total points spent.",
	})

	LevelUpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "progression_level_ups_total",
		Help: "Total number of level-ups.",
	})

	AchievementsUnlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_achievements_unlocked_total",
			Help: "Total number of achievements unlocked by key.",
		},
		[]string{"key"},
	)

	MissionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_mission_transitions_total",
			Help: "Total number of mission status transitions.",
		},
		[]string{"status"},
	)

	NarrativeChoicesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_narrative_choices_total",
			Help: "Total number of narrative choices by result.",
		},
		[]string{"result"},
	)

	OrchestratorActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_actions_total",
			Help: "Total number of inbound user actions by operation and status.",
		},
		[]string{"operation", "status"},
	)

	ActionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_action_errors_total",
			Help: "Total number of failed inbound actions by error kind.",
		},
		[]string{"kind"},
	)

	OutboxPublishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "progression_outbox_publish_failures_total",
		Help: "Total number of failed broker publishes after commit.",
	})
)
