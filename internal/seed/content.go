// Package seed loads authored story content from YAML into the content tables.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"progression-server/internal/clock"
	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrContentIntegrity is returned when the content file references keys that do not exist.
var ErrContentIntegrity = errors.New("content integrity violation")

type FragmentSpec struct {
	Key               string             `yaml:"key"`
	Title             string             `yaml:"title"`
	Character         string             `yaml:"character"`
	Text              string             `yaml:"text"`
	Tags              []string           `yaml:"tags"`
	RewardPoints      int64              `yaml:"reward_points"`
	RewardItems       []string           `yaml:"reward_items"`
	EmotionalTriggers map[string]float64 `yaml:"emotional_triggers"`
}

type ChoiceSpec struct {
	ID                string `yaml:"id"`
	Source            string `yaml:"source"`
	Target            string `yaml:"target"`
	Text              string `yaml:"text"`
	PointsDelta       int64  `yaml:"points_delta"`
	RelationshipDelta int    `yaml:"relationship_delta"`
	SortOrder         int    `yaml:"sort_order"`
}

type ProfileSpec struct {
	CharacterName     string             `yaml:"character_name"`
	Base              map[string]float64 `yaml:"base"`
	PersonalityTraits map[string]float64 `yaml:"personality_traits"`
}

type ConfigSpec struct {
	Key         string `yaml:"key"`
	Value       string `yaml:"value"`
	Description string `yaml:"description"`
}

// ContentFile is the authoring format of `seed content --file`.
type ContentFile struct {
	Fragments    []FragmentSpec       `yaml:"fragments"`
	Choices      []ChoiceSpec         `yaml:"choices"`
	Achievements []models.Achievement `yaml:"achievements"`
	Missions     []models.Mission     `yaml:"missions"`
	Profiles     []ProfileSpec        `yaml:"profiles"`
	Configs      []ConfigSpec         `yaml:"configs"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Fragments    int
	Choices      int
	Achievements int
	Missions     int
	Profiles     int
	Configs      int
}

// Decode читает YAML. Неизвестные поля считаются ошибкой.
func Decode(r io.Reader) (*ContentFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file ContentFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, fmt.Errorf("failed to decode content file: %w", err)
	}
	return &file, nil
}

// Validate checks the file on its own: required fields, duplicates, emotion names, mission types.
// References to keys that may already be stored are checked by Loader.Apply.
func (f *ContentFile) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	fragments := map[string]bool{}
	for i, fr := range f.Fragments {
		if strings.TrimSpace(fr.Key) == "" {
			add("fragments[%d]: key is required", i)
			continue
		}
		if fragments[fr.Key] {
			add("fragment %q declared twice", fr.Key)
		}
		fragments[fr.Key] = true
		if fr.RewardPoints < 0 {
			add("fragment %q: reward_points must not be negative", fr.Key)
		}
		for name := range fr.EmotionalTriggers {
			if !models.Emotion(name).IsValid() {
				add("fragment %q: unknown emotion %q", fr.Key, name)
			}
		}
	}

	choices := map[string]bool{}
	for i, c := range f.Choices {
		if strings.TrimSpace(c.ID) == "" {
			add("choices[%d]: id is required", i)
			continue
		}
		if choices[c.ID] {
			add("choice %q declared twice", c.ID)
		}
		choices[c.ID] = true
		if c.Source == "" || c.Target == "" {
			add("choice %q: source and target are required", c.ID)
		}
	}

	achievements := map[string]bool{}
	for i, a := range f.Achievements {
		if strings.TrimSpace(a.Key) == "" {
			add("achievements[%d]: key is required", i)
			continue
		}
		if achievements[a.Key] {
			add("achievement %q declared twice", a.Key)
		}
		achievements[a.Key] = true
	}

	missions := map[string]bool{}
	for i, m := range f.Missions {
		if strings.TrimSpace(m.Key) == "" {
			add("missions[%d]: key is required", i)
			continue
		}
		if missions[m.Key] {
			add("mission %q declared twice", m.Key)
		}
		missions[m.Key] = true
		if !m.MissionType.IsValid() {
			add("mission %q: unknown mission_type %q", m.Key, m.MissionType)
		}
		if m.TimeLimitHours != nil && *m.TimeLimitHours <= 0 {
			add("mission %q: time_limit_hours must be positive", m.Key)
		}
	}

	for i, p := range f.Profiles {
		if strings.TrimSpace(p.CharacterName) == "" {
			add("profiles[%d]: character_name is required", i)
		}
		for name := range p.Base {
			if !models.Emotion(name).IsValid() {
				add("profile %q: unknown emotion %q", p.CharacterName, name)
			}
		}
	}

	for i, c := range f.Configs {
		if strings.TrimSpace(c.Key) == "" {
			add("configs[%d]: key is required", i)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrContentIntegrity, errors.Join(problems...))
	}
	return nil
}

// Repositories are the content stores the loader writes to.
type Repositories struct {
	Content      interfaces.StoryContentRepository
	Achievements interfaces.AchievementRepository
	Missions     interfaces.MissionRepository
	Emotional    interfaces.EmotionalRepository
	Configs      interfaces.DynamicConfigRepository
}

// Loader upserts a ContentFile in one transaction.
type Loader struct {
	session interfaces.SessionProvider
	repos   Repositories
	clock   clock.Clock
	logger  *zap.Logger
}

func NewLoader(session interfaces.SessionProvider, repos Repositories, clk clock.Clock, logger *zap.Logger) *Loader {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Loader{session: session, repos: repos, clock: clk, logger: logger.Named("SeedLoader")}
}

// Apply validates the file, resolves references against stored content and writes everything.
// Any failure rolls back the whole file.
func (l *Loader) Apply(ctx context.Context, file *ContentFile) (Summary, error) {
	var summary Summary
	if err := file.Validate(); err != nil {
		return summary, err
	}

	err := l.session.WithTx(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		if err := l.checkReferences(ctx, tx, file); err != nil {
			return err
		}

		for _, item := range file.Fragments {
			fragment := models.StoryFragment{
				Key:               item.Key,
				Title:             item.Title,
				Character:         item.Character,
				Text:              item.Text,
				Tags:              item.Tags,
				RewardPoints:      item.RewardPoints,
				RewardItems:       item.RewardItems,
				EmotionalTriggers: toVector(item.EmotionalTriggers),
			}
			if err := l.repos.Content.UpsertFragment(ctx, tx, &fragment); err != nil {
				return err
			}
			summary.Fragments++
		}
		for _, item := range file.Choices {
			choice := models.NarrativeChoice{
				ID:                item.ID,
				SourceFragmentKey: item.Source,
				TargetFragmentKey: item.Target,
				Text:              item.Text,
				PointsDelta:       item.PointsDelta,
				RelationshipDelta: item.RelationshipDelta,
				SortOrder:         item.SortOrder,
			}
			if err := l.repos.Content.UpsertChoice(ctx, tx, &choice); err != nil {
				return err
			}
			summary.Choices++
		}
		for i := range file.Achievements {
			if err := l.repos.Achievements.Upsert(ctx, tx, &file.Achievements[i]); err != nil {
				return err
			}
			summary.Achievements++
		}
		for i := range file.Missions {
			if err := l.repos.Missions.Upsert(ctx, tx, &file.Missions[i]); err != nil {
				return err
			}
			summary.Missions++
		}
		now := l.clock.Now()
		for _, item := range file.Profiles {
			profile := models.CharacterEmotionalProfile{
				CharacterName:     item.CharacterName,
				Base:              toVector(item.Base),
				PersonalityTraits: item.PersonalityTraits,
				CreatedAt:         now,
			}
			if err := l.repos.Emotional.UpsertProfile(ctx, tx, &profile); err != nil {
				return err
			}
			summary.Profiles++
		}
		for _, item := range file.Configs {
			cfg := models.DynamicConfig{Key: item.Key, Value: item.Value, Description: item.Description}
			if err := l.repos.Configs.Upsert(ctx, tx, &cfg); err != nil {
				return err
			}
			summary.Configs++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	l.logger.Info("Content applied",
		zap.Int("fragments", summary.Fragments),
		zap.Int("choices", summary.Choices),
		zap.Int("achievements", summary.Achievements),
		zap.Int("missions", summary.Missions),
		zap.Int("profiles", summary.Profiles),
		zap.Int("configs", summary.Configs),
	)
	return summary, nil
}

// checkReferences resolves choice endpoints and mission achievements that are not in the file.
func (l *Loader) checkReferences(ctx context.Context, tx interfaces.DBTX, file *ContentFile) error {
	inFile := map[string]bool{}
	for _, f := range file.Fragments {
		inFile[f.Key] = true
	}
	achievementsInFile := map[string]bool{}
	for _, a := range file.Achievements {
		achievementsInFile[a.Key] = true
	}

	var problems []error
	fragmentExists := func(key string) (bool, error) {
		if inFile[key] {
			return true, nil
		}
		_, err := l.repos.Content.GetFragment(ctx, tx, key)
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		inFile[key] = true
		return true, nil
	}

	for _, c := range file.Choices {
		for _, ref := range []string{c.Source, c.Target} {
			ok, err := fragmentExists(ref)
			if err != nil {
				return err
			}
			if !ok {
				problems = append(problems, fmt.Errorf("choice %q references unknown fragment %q", c.ID, ref))
			}
		}
	}

	for _, m := range file.Missions {
		if m.AchievementKey == nil || achievementsInFile[*m.AchievementKey] {
			continue
		}
		_, err := l.repos.Achievements.GetByKey(ctx, tx, *m.AchievementKey)
		if errors.Is(err, models.ErrNotFound) {
			problems = append(problems, fmt.Errorf("mission %q references unknown achievement %q", m.Key, *m.AchievementKey))
			continue
		}
		if err != nil {
			return err
		}
	}

	if len(problems) > 0 {
		l.logger.Warn("Content references are dangling", zap.Int("problems", len(problems)))
		return fmt.Errorf("%w: %w", ErrContentIntegrity, errors.Join(problems...))
	}
	return nil
}

func toVector(values map[string]float64) models.EmotionVector {
	var v models.EmotionVector
	for name, value := range values {
		v = v.With(models.Emotion(name), value)
	}
	return v
}
