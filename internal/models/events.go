package models

import "time"

// EventType names a domain event. It doubles as the RabbitMQ routing key for outbound events.
type EventType string

const (
	// Inbound user actions
	EventUserMessage     EventType = "UserMessageEvent"
	EventReactionAdded   EventType = "ReactionAddedEvent"
	EventUserStartedBot  EventType = "UserStartedBotEvent"
	EventCommandExecuted EventType = "CommandExecutedEvent"

	// Internal progression events
	EventPointsAwarded         EventType = "PointsAwardedEvent"
	EventPointsSpent           EventType = "PointsSpentEvent"
	EventLevelUp               EventType = "LevelUpEvent"
	EventAchievementUnlocked   EventType = "AchievementUnlockedEvent"
	EventMissionCompleted      EventType = "MissionCompletedEvent"
	EventNarrativeProgression  EventType = "NarrativeProgressionEvent"
	EventRelationshipMilestone EventType = "RelationshipMilestoneEvent"
)

// KnownEventTypes is the closed set of event types the bus accepts subscriptions for.
var KnownEventTypes = []EventType{
	EventUserMessage,
	EventReactionAdded,
	EventUserStartedBot,
	EventCommandExecuted,
	EventPointsAwarded,
	EventPointsSpent,
	EventLevelUp,
	EventAchievementUnlocked,
	EventMissionCompleted,
	EventNarrativeProgression,
	EventRelationshipMilestone,
}

// IsKnown reports whether t belongs to KnownEventTypes.
func (t EventType) IsKnown() bool {
	for _, known := range KnownEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// OutboundEventTypes are forwarded to the message broker after the action commits.
var OutboundEventTypes = []EventType{
	EventUserMessage,
	EventReactionAdded,
	EventUserStartedBot,
	EventCommandExecuted,
	EventPointsAwarded,
	EventLevelUp,
	EventAchievementUnlocked,
	EventMissionCompleted,
}

// DomainEvent is anything that can travel over the event bus.
type DomainEvent interface {
	EventType() EventType
	EventUserID() int64
}

type UserMessageEvent struct {
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e UserMessageEvent) EventType() EventType { return EventUserMessage }
func (e UserMessageEvent) EventUserID() int64   { return e.UserID }

type ReactionAddedEvent struct {
	UserID        int64  `json:"user_id"`
	MessageID     string `json:"message_id"`
	ReactionType  string `json:"reaction_type"`
	PointsToAward int64  `json:"points_to_award"`
}

func (e ReactionAddedEvent) EventType() EventType { return EventReactionAdded }
func (e ReactionAddedEvent) EventUserID() int64   { return e.UserID }

type UserStartedBotEvent struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
}

func (e UserStartedBotEvent) EventType() EventType { return EventUserStartedBot }
func (e UserStartedBotEvent) EventUserID() int64   { return e.UserID }

type CommandExecutedEvent struct {
	UserID    int64     `json:"user_id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

func (e CommandExecutedEvent) EventType() EventType { return EventCommandExecuted }
func (e CommandExecutedEvent) EventUserID() int64   { return e.UserID }

type PointsAwardedEvent struct {
	UserID  int64       `json:"user_id"`
	Amount  int64       `json:"amount"`
	Source  PointSource `json:"source"`
	Balance int64       `json:"balance"`
}

func (e PointsAwardedEvent) EventType() EventType { return EventPointsAwarded }
func (e PointsAwardedEvent) EventUserID() int64   { return e.UserID }

type PointsSpentEvent struct {
	UserID  int64  `json:"user_id"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
	Balance int64  `json:"balance"`
}

func (e PointsSpentEvent) EventType() EventType { return EventPointsSpent }
func (e PointsSpentEvent) EventUserID() int64   { return e.UserID }

type LevelUpEvent struct {
	UserID    int64  `json:"user_id"`
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
	LevelName string `json:"level_name"`
}

func (e LevelUpEvent) EventType() EventType { return EventLevelUp }
func (e LevelUpEvent) EventUserID() int64   { return e.UserID }

type AchievementUnlockedEvent struct {
	UserID        int64  `json:"user_id"`
	Key           string `json:"key"`
	PointsAwarded int64  `json:"points_awarded"`
}

func (e AchievementUnlockedEvent) EventType() EventType { return EventAchievementUnlocked }
func (e AchievementUnlockedEvent) EventUserID() int64   { return e.UserID }

type MissionCompletedEvent struct {
	UserID        int64       `json:"user_id"`
	Key           string      `json:"key"`
	MissionType   MissionType `json:"mission_type"`
	PointsAwarded int64       `json:"points_awarded"`
}

func (e MissionCompletedEvent) EventType() EventType { return EventMissionCompleted }
func (e MissionCompletedEvent) EventUserID() int64   { return e.UserID }

type NarrativeProgressionEvent struct {
	UserID      int64  `json:"user_id"`
	FragmentKey string `json:"fragment_key"`
	Character   string `json:"character"`
	ChoiceID    string `json:"choice_id"`
}

func (e NarrativeProgressionEvent) EventType() EventType { return EventNarrativeProgression }
func (e NarrativeProgressionEvent) EventUserID() int64   { return e.UserID }

type RelationshipMilestoneEvent struct {
	UserID    int64              `json:"user_id"`
	Character string             `json:"character"`
	OldStatus RelationshipStatus `json:"old_status"`
	NewStatus RelationshipStatus `json:"new_status"`
}

func (e RelationshipMilestoneEvent) EventType() EventType { return EventRelationshipMilestone }
func (e RelationshipMilestoneEvent) EventUserID() int64   { return e.UserID }

// OutboundEnvelope is the broker message body for a published domain event.
type OutboundEnvelope struct {
	EventID    string      `json:"event_id"`
	EventType  EventType   `json:"event_type"`
	UserID     int64       `json:"user_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    DomainEvent `json:"payload"`
}
