package models

import (
	"sort"
	"time"
)

// DefaultEntryFragmentKey is the fragment every new reader starts from.
const DefaultEntryFragmentKey = "start"

// StoryFragment is an atomic, immutable unit of narrative content (a node of the story graph).
type StoryFragment struct {
	Key               string        `json:"key" db:"key"`
	Title             string        `json:"title" db:"title"`
	Character         string        `json:"character" db:"character"`
	Text              string        `json:"text" db:"text"`
	Tags              []string      `json:"tags" db:"tags"`
	RewardPoints      int64         `json:"reward_points" db:"reward_points"`
	RewardItems       []string      `json:"reward_items" db:"reward_items"`
	EmotionalTriggers EmotionVector `json:"emotional_triggers" db:"emotional_triggers"` // Импакт, применяемый при входе во фрагмент
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

// NarrativeChoice is a directed edge between two fragments.
type NarrativeChoice struct {
	ID                string    `json:"id" db:"id"`
	SourceFragmentKey string    `json:"source_fragment_key" db:"source_fragment_key"`
	TargetFragmentKey string    `json:"target_fragment_key" db:"target_fragment_key"`
	Text              string    `json:"text" db:"text"`
	PointsDelta       int64     `json:"points_delta" db:"points_delta"`
	RelationshipDelta int       `json:"relationship_delta" db:"relationship_delta"`
	SortOrder         int       `json:"sort_order" db:"sort_order"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// UserNarrativeState is the per-user position in the story graph.
//
// The value is treated as immutable by the engine: every With* method returns
// an updated copy, so maps are never shared between two callers.
type UserNarrativeState struct {
	UserID             int64             `json:"user_id" db:"user_id"`
	CurrentFragmentKey string            `json:"current_fragment_key" db:"current_fragment_key"`
	VisitedFragments   []string          `json:"visited_fragments" db:"visited_fragments"` // отсортированное множество
	DecisionsMade      map[string]string `json:"decisions_made" db:"decisions_made"`
	NarrativeItems     map[string]int    `json:"narrative_items" db:"narrative_items"`
	NarrativeVariables map[string]any    `json:"narrative_variables" db:"narrative_variables"`
	Version            int64             `json:"version" db:"version"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

// NewUserNarrativeState builds the initial state positioned at entryKey.
func NewUserNarrativeState(userID int64, entryKey string, now time.Time) UserNarrativeState {
	return UserNarrativeState{
		UserID:             userID,
		CurrentFragmentKey: entryKey,
		VisitedFragments:   []string{entryKey},
		DecisionsMade:      map[string]string{},
		NarrativeItems:     map[string]int{},
		NarrativeVariables: map[string]any{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy of the state.
func (s UserNarrativeState) Clone() UserNarrativeState {
	out := s
	out.VisitedFragments = append([]string(nil), s.VisitedFragments...)
	out.DecisionsMade = make(map[string]string, len(s.DecisionsMade))
	for k, v := range s.DecisionsMade {
		out.DecisionsMade[k] = v
	}
	out.NarrativeItems = make(map[string]int, len(s.NarrativeItems))
	for k, v := range s.NarrativeItems {
		out.NarrativeItems[k] = v
	}
	out.NarrativeVariables = make(map[string]any, len(s.NarrativeVariables))
	for k, v := range s.NarrativeVariables {
		out.NarrativeVariables[k] = v
	}
	return out
}

// HasVisited reports whether the fragment is in the visited set.
func (s UserNarrativeState) HasVisited(key string) bool {
	i := sort.SearchStrings(s.VisitedFragments, key)
	return i < len(s.VisitedFragments) && s.VisitedFragments[i] == key
}

// WithChoice records the decision taken at the choice's source fragment and moves to its target.
func (s UserNarrativeState) WithChoice(choice NarrativeChoice, now time.Time) UserNarrativeState {
	out := s.Clone()
	out.DecisionsMade[choice.SourceFragmentKey] = choice.ID
	out.CurrentFragmentKey = choice.TargetFragmentKey
	out.VisitedFragments = addToSet(out.VisitedFragments, choice.SourceFragmentKey)
	out.VisitedFragments = addToSet(out.VisitedFragments, choice.TargetFragmentKey)
	out.UpdatedAt = now
	return out
}

// WithItem adds qty units of an item. Non-positive quantities leave the state unchanged.
func (s UserNarrativeState) WithItem(itemKey string, qty int, now time.Time) UserNarrativeState {
	out := s.Clone()
	if qty <= 0 {
		return out
	}
	out.NarrativeItems[itemKey] += qty
	out.UpdatedAt = now
	return out
}

// WithVariable sets a free-form narrative variable.
func (s UserNarrativeState) WithVariable(name string, value any, now time.Time) UserNarrativeState {
	out := s.Clone()
	out.NarrativeVariables[name] = value
	out.UpdatedAt = now
	return out
}

// Reset moves the reader back to the entry fragment. Items and visited fragments survive.
func (s UserNarrativeState) Reset(entryKey string, now time.Time) UserNarrativeState {
	out := s.Clone()
	out.CurrentFragmentKey = entryKey
	out.DecisionsMade = map[string]string{}
	out.NarrativeVariables = map[string]any{}
	out.VisitedFragments = addToSet(out.VisitedFragments, entryKey)
	out.UpdatedAt = now
	return out
}

func addToSet(set []string, key string) []string {
	i := sort.SearchStrings(set, key)
	if i < len(set) && set[i] == key {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = key
	return set
}

// NormalizeVisited sorts and deduplicates a visited list read from storage.
func NormalizeVisited(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = addToSet(out, k)
	}
	return out
}

// FragmentView is what the engine returns to callers for the current position.
type FragmentView struct {
	Fragment         StoryFragment     `json:"fragment"`
	Choices          []NarrativeChoice `json:"choices"`
	VisitedFragments []string          `json:"visited_fragments"`
	Inventory        map[string]int    `json:"inventory"`
}

// ChoiceResult is the outcome of an accepted narrative choice.
type ChoiceResult struct {
	Fragment          StoryFragment      `json:"fragment"`
	Choices           []NarrativeChoice  `json:"choices"`
	EmotionalTriggers EmotionVector      `json:"emotional_triggers"`
	PointsAwarded     int64              `json:"points_awarded"`
	PointsSpent       int64              `json:"points_spent"`
	ItemsGranted      []string           `json:"items_granted,omitempty"`
	FirstVisit        bool               `json:"first_visit"`
	LevelUp           bool               `json:"level_up"`
	EmotionalResponse *EmotionalResponse `json:"emotional_response,omitempty"`
}
