// Package testutil provides in-memory repositories that behave like the PostgreSQL ones
// (copy-in/copy-out, version compare-and-swap, ErrNotFound) plus a session provider that
// restores a snapshot when the transaction function fails.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"progression-server/internal/dbctx"
	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/google/uuid"
)

type userAchievementKey struct {
	userID        int64
	achievementID uuid.UUID
}

type userMissionKey struct {
	userID    int64
	missionID uuid.UUID
}

type relationshipKey struct {
	userID      int64
	characterID uuid.UUID
}

type storeData struct {
	fragments        map[string]models.StoryFragment
	choices          map[string]models.NarrativeChoice
	narrativeStates  map[int64]models.UserNarrativeState
	points           map[int64]models.UserPoints
	transactions     []models.PointTransaction
	achievements     map[string]models.Achievement
	userAchievements map[userAchievementKey]models.UserAchievement
	missions         map[string]models.Mission
	userMissions     map[userMissionKey]models.UserMission
	profiles         map[string]models.CharacterEmotionalProfile
	relationships    map[relationshipKey]models.UserCharacterRelationship
	emotionalStates  map[uuid.UUID]models.UserCharacterEmotionalState
	memories         []models.EmotionalMemory
	personalities    map[uuid.UUID]models.PersonalityAdaptation
	configs          map[string]models.DynamicConfig
}

func newStoreData() storeData {
	return storeData{
		fragments:        map[string]models.StoryFragment{},
		choices:          map[string]models.NarrativeChoice{},
		narrativeStates:  map[int64]models.UserNarrativeState{},
		points:           map[int64]models.UserPoints{},
		achievements:     map[string]models.Achievement{},
		userAchievements: map[userAchievementKey]models.UserAchievement{},
		missions:         map[string]models.Mission{},
		userMissions:     map[userMissionKey]models.UserMission{},
		profiles:         map[string]models.CharacterEmotionalProfile{},
		relationships:    map[relationshipKey]models.UserCharacterRelationship{},
		emotionalStates:  map[uuid.UUID]models.UserCharacterEmotionalState{},
		personalities:    map[uuid.UUID]models.PersonalityAdaptation{},
		configs:          map[string]models.DynamicConfig{},
	}
}

func (d storeData) clone() storeData {
	out := newStoreData()
	for k, v := range d.fragments {
		out.fragments[k] = v
	}
	for k, v := range d.choices {
		out.choices[k] = v
	}
	for k, v := range d.narrativeStates {
		out.narrativeStates[k] = v.Clone()
	}
	for k, v := range d.points {
		out.points[k] = clonePoints(v)
	}
	out.transactions = append(out.transactions, d.transactions...)
	for k, v := range d.achievements {
		out.achievements[k] = v
	}
	for k, v := range d.userAchievements {
		out.userAchievements[k] = v
	}
	for k, v := range d.missions {
		out.missions[k] = v
	}
	for k, v := range d.userMissions {
		out.userMissions[k] = cloneUserMission(v)
	}
	for k, v := range d.profiles {
		out.profiles[k] = cloneProfile(v)
	}
	for k, v := range d.relationships {
		out.relationships[k] = v
	}
	for k, v := range d.emotionalStates {
		out.emotionalStates[k] = v
	}
	out.memories = append(out.memories, d.memories...)
	for k, v := range d.personalities {
		out.personalities[k] = clonePersonality(v)
	}
	for k, v := range d.configs {
		out.configs[k] = v
	}
	return out
}

// Store holds every table in memory. The zero value is not usable; call NewStore.
type Store struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	data      storeData
	Commits   int
	Rollbacks int
}

func NewStore() *Store {
	return &Store{data: newStoreData()}
}

// WithTx implements interfaces.SessionProvider. Transactions are serialized and a failed
// (or panicking) fn restores the data as it was before the call.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.data = snapshot
		s.Rollbacks++
		s.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		}
	}()

	if err = fn(dbctx.WithQuerier(ctx, nil), nil); err != nil {
		rollback()
		return err
	}
	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	return nil
}

var _ interfaces.SessionProvider = (*Store)(nil)

// Repositories

func (s *Store) Content() *ContentRepo { return &ContentRepo{s: s} }
func (s *Store) NarrativeStates() *NarrativeStateRepo { return &NarrativeStateRepo{s: s} }
func (s *Store) Points() *PointsRepo { return &PointsRepo{s: s} }
func (s *Store) Achievements() *AchievementRepo { return &AchievementRepo{s: s} }
func (s *Store) Missions() *MissionRepo { return &MissionRepo{s: s} }
func (s *Store) Emotional() *EmotionalRepo { return &EmotionalRepo{s: s} }
func (s *Store) DynamicConfigs() *DynamicConfigRepo { return &DynamicConfigRepo{s: s} }

func clonePoints(p models.UserPoints) models.UserPoints {
	out := p
	out.ActiveMultipliers = make(map[string]float64, len(p.ActiveMultipliers))
	for k, v := range p.ActiveMultipliers {
		out.ActiveMultipliers[k] = v
	}
	if p.LastDailyGiftAt != nil {
		t := *p.LastDailyGiftAt
		out.LastDailyGiftAt = &t
	}
	return out
}

func cloneUserMission(m models.UserMission) models.UserMission {
	out := m
	out.Progress = make(map[string]int, len(m.Progress))
	for k, v := range m.Progress {
		out.Progress[k] = v
	}
	return out
}

func cloneProfile(p models.CharacterEmotionalProfile) models.CharacterEmotionalProfile {
	out := p
	out.PersonalityTraits = make(map[string]float64, len(p.PersonalityTraits))
	for k, v := range p.PersonalityTraits {
		out.PersonalityTraits[k] = v
	}
	return out
}

func clonePersonality(p models.PersonalityAdaptation) models.PersonalityAdaptation {
	out := p
	out.Dials = make(map[string]float64, len(p.Dials))
	for k, v := range p.Dials {
		out.Dials[k] = v
	}
	return out
}

// ContentRepo implements interfaces.StoryContentRepository.
type ContentRepo struct{ s *Store }

var _ interfaces.StoryContentRepository = (*ContentRepo)(nil)

func (r *ContentRepo) GetFragment(_ context.Context, _ interfaces.DBTX, key string) (*models.StoryFragment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.data.fragments[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &f, nil
}

func (r *ContentRepo) GetChoice(_ context.Context, _ interfaces.DBTX, id string) (*models.NarrativeChoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.choices[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (r *ContentRepo) ListChoicesBySource(_ context.Context, _ interfaces.DBTX, sourceKey string) ([]models.NarrativeChoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.NarrativeChoice{}
	for _, c := range r.s.data.choices {
		if c.SourceFragmentKey == sourceKey {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *ContentRepo) CountFragments(context.Context, interfaces.DBTX) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.data.fragments), nil
}

func (r *ContentRepo) UpsertFragment(_ context.Context, _ interfaces.DBTX, f *models.StoryFragment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.fragments[f.Key] = *f
	return nil
}

func (r *ContentRepo) UpsertChoice(_ context.Context, _ interfaces.DBTX, c *models.NarrativeChoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.choices[c.ID] = *c
	return nil
}

// NarrativeStateRepo implements interfaces.NarrativeStateRepository.
type NarrativeStateRepo struct{ s *Store }

var _ interfaces.NarrativeStateRepository = (*NarrativeStateRepo)(nil)

func (r *NarrativeStateRepo) GetForUpdate(_ context.Context, _ interfaces.DBTX, userID int64) (*models.UserNarrativeState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.data.narrativeStates[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := st.Clone()
	return &out, nil
}

func (r *NarrativeStateRepo) Create(_ context.Context, _ interfaces.DBTX, st *models.UserNarrativeState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.narrativeStates[st.UserID]; ok {
		return fmt.Errorf("%w: narrative state for user %d exists", models.ErrConcurrentUpdate, st.UserID)
	}
	st.Version = 1
	r.s.data.narrativeStates[st.UserID] = st.Clone()
	return nil
}

func (r *NarrativeStateRepo) Save(_ context.Context, _ interfaces.DBTX, st *models.UserNarrativeState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.narrativeStates[st.UserID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != st.Version {
		return models.ErrConcurrentUpdate
	}
	st.Version++
	r.s.data.narrativeStates[st.UserID] = st.Clone()
	return nil
}

// PointsRepo implements interfaces.PointsRepository.
type PointsRepo struct{ s *Store }

var _ interfaces.PointsRepository = (*PointsRepo)(nil)

func (r *PointsRepo) GetForUpdate(_ context.Context, _ interfaces.DBTX, userID int64) (*models.UserPoints, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.points[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := clonePoints(p)
	return &out, nil
}

func (r *PointsRepo) Create(_ context.Context, _ interfaces.DBTX, p *models.UserPoints) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.points[p.UserID]; ok {
		return fmt.Errorf("%w: points for user %d exist", models.ErrConcurrentUpdate, p.UserID)
	}
	p.Version = 1
	r.s.data.points[p.UserID] = clonePoints(*p)
	return nil
}

func (r *PointsRepo) Save(_ context.Context, _ interfaces.DBTX, p *models.UserPoints) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.points[p.UserID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != p.Version {
		return models.ErrConcurrentUpdate
	}
	p.Version++
	r.s.data.points[p.UserID] = clonePoints(*p)
	return nil
}

func (r *PointsRepo) InsertTransaction(_ context.Context, _ interfaces.DBTX, tx *models.PointTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	r.s.data.transactions = append(r.s.data.transactions, *tx)
	return nil
}

func (r *PointsRepo) ListTransactions(_ context.Context, _ interfaces.DBTX, userID int64, limit int) ([]models.PointTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.PointTransaction{}
	for i := len(r.s.data.transactions) - 1; i >= 0; i-- {
		tx := r.s.data.transactions[i]
		if tx.UserID != userID {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AchievementRepo implements interfaces.AchievementRepository.
type AchievementRepo struct{ s *Store }

var _ interfaces.AchievementRepository = (*AchievementRepo)(nil)

func (r *AchievementRepo) GetByKey(_ context.Context, _ interfaces.DBTX, key string) (*models.Achievement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.achievements[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (r *AchievementRepo) List(context.Context, interfaces.DBTX) ([]models.Achievement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Achievement, 0, len(r.s.data.achievements))
	for _, a := range r.s.data.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *AchievementRepo) Upsert(_ context.Context, _ interfaces.DBTX, a *models.Achievement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.data.achievements[a.Key]; ok {
		a.ID = existing.ID
	} else if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.s.data.achievements[a.Key] = *a
	return nil
}

func (r *AchievementRepo) GetUserAchievement(_ context.Context, _ interfaces.DBTX, userID int64, achievementID uuid.UUID) (*models.UserAchievement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ua, ok := r.s.data.userAchievements[userAchievementKey{userID, achievementID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &ua, nil
}

func (r *AchievementRepo) SaveUserAchievement(_ context.Context, _ interfaces.DBTX, ua *models.UserAchievement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ua.ID == uuid.Nil {
		ua.ID = uuid.New()
	}
	r.s.data.userAchievements[userAchievementKey{ua.UserID, ua.AchievementID}] = *ua
	return nil
}

func (r *AchievementRepo) ListUserAchievements(_ context.Context, _ interfaces.DBTX, userID int64) ([]models.UserAchievement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.UserAchievement{}
	for k, ua := range r.s.data.userAchievements {
		if k.userID == userID {
			out = append(out, ua)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementKey < out[j].AchievementKey })
	return out, nil
}

// MissionRepo implements interfaces.MissionRepository.
type MissionRepo struct{ s *Store }

var _ interfaces.MissionRepository = (*MissionRepo)(nil)

func (r *MissionRepo) GetByKey(_ context.Context, _ interfaces.DBTX, key string) (*models.Mission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.missions[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &m, nil
}

func (r *MissionRepo) List(context.Context, interfaces.DBTX) ([]models.Mission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Mission, 0, len(r.s.data.missions))
	for _, m := range r.s.data.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *MissionRepo) Upsert(_ context.Context, _ interfaces.DBTX, m *models.Mission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.data.missions[m.Key]; ok {
		m.ID = existing.ID
	} else if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	r.s.data.missions[m.Key] = *m
	return nil
}

func (r *MissionRepo) GetUserMission(_ context.Context, _ interfaces.DBTX, userID int64, missionID uuid.UUID) (*models.UserMission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	um, ok := r.s.data.userMissions[userMissionKey{userID, missionID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := cloneUserMission(um)
	return &out, nil
}

func (r *MissionRepo) CreateUserMission(_ context.Context, _ interfaces.DBTX, um *models.UserMission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := userMissionKey{um.UserID, um.MissionID}
	if _, ok := r.s.data.userMissions[key]; ok {
		return fmt.Errorf("%w: user mission exists", models.ErrConcurrentUpdate)
	}
	if um.ID == uuid.Nil {
		um.ID = uuid.New()
	}
	um.Version = 1
	r.s.data.userMissions[key] = cloneUserMission(*um)
	return nil
}

func (r *MissionRepo) SaveUserMission(_ context.Context, _ interfaces.DBTX, um *models.UserMission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := userMissionKey{um.UserID, um.MissionID}
	stored, ok := r.s.data.userMissions[key]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != um.Version {
		return models.ErrConcurrentUpdate
	}
	um.Version++
	r.s.data.userMissions[key] = cloneUserMission(*um)
	return nil
}

func (r *MissionRepo) ListUserMissions(_ context.Context, _ interfaces.DBTX, userID int64) ([]models.UserMission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.UserMission{}
	for k, um := range r.s.data.userMissions {
		if k.userID == userID {
			out = append(out, cloneUserMission(um))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MissionKey < out[j].MissionKey })
	return out, nil
}

// EmotionalRepo implements interfaces.EmotionalRepository.
type EmotionalRepo struct{ s *Store }

var _ interfaces.EmotionalRepository = (*EmotionalRepo)(nil)

func (r *EmotionalRepo) GetProfile(_ context.Context, _ interfaces.DBTX, name string) (*models.CharacterEmotionalProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.profiles[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := cloneProfile(p)
	return &out, nil
}

func (r *EmotionalRepo) CreateProfile(_ context.Context, _ interfaces.DBTX, p *models.CharacterEmotionalProfile) (*models.CharacterEmotionalProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.data.profiles[p.CharacterName]; ok {
		out := cloneProfile(existing)
		return &out, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.s.data.profiles[p.CharacterName] = cloneProfile(*p)
	out := cloneProfile(*p)
	return &out, nil
}

func (r *EmotionalRepo) UpsertProfile(_ context.Context, _ interfaces.DBTX, p *models.CharacterEmotionalProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.data.profiles[p.CharacterName]; ok {
		p.ID = existing.ID
	} else if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.s.data.profiles[p.CharacterName] = cloneProfile(*p)
	return nil
}

func (r *EmotionalRepo) GetRelationship(_ context.Context, _ interfaces.DBTX, userID int64, characterID uuid.UUID) (*models.UserCharacterRelationship, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.data.relationships[relationshipKey{userID, characterID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rel, nil
}

func (r *EmotionalRepo) CreateRelationship(_ context.Context, _ interfaces.DBTX, rel *models.UserCharacterRelationship) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := relationshipKey{rel.UserID, rel.CharacterID}
	if _, ok := r.s.data.relationships[key]; ok {
		return fmt.Errorf("%w: relationship exists", models.ErrConcurrentUpdate)
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	rel.Version = 1
	r.s.data.relationships[key] = *rel
	return nil
}

func (r *EmotionalRepo) SaveRelationship(_ context.Context, _ interfaces.DBTX, rel *models.UserCharacterRelationship) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := relationshipKey{rel.UserID, rel.CharacterID}
	stored, ok := r.s.data.relationships[key]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != rel.Version {
		return models.ErrConcurrentUpdate
	}
	rel.Version++
	r.s.data.relationships[key] = *rel
	return nil
}

func (r *EmotionalRepo) GetEmotionalState(_ context.Context, _ interfaces.DBTX, relationshipID uuid.UUID) (*models.UserCharacterEmotionalState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.data.emotionalStates[relationshipID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &st, nil
}

func (r *EmotionalRepo) CreateEmotionalState(_ context.Context, _ interfaces.DBTX, st *models.UserCharacterEmotionalState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.emotionalStates[st.RelationshipID]; ok {
		return fmt.Errorf("%w: emotional state exists", models.ErrConcurrentUpdate)
	}
	st.Version = 1
	r.s.data.emotionalStates[st.RelationshipID] = *st
	return nil
}

func (r *EmotionalRepo) SaveEmotionalState(_ context.Context, _ interfaces.DBTX, st *models.UserCharacterEmotionalState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.emotionalStates[st.RelationshipID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != st.Version {
		return models.ErrConcurrentUpdate
	}
	st.Version++
	r.s.data.emotionalStates[st.RelationshipID] = *st
	return nil
}

func (r *EmotionalRepo) InsertMemory(_ context.Context, _ interfaces.DBTX, m *models.EmotionalMemory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	r.s.data.memories = append(r.s.data.memories, *m)
	return nil
}

func (r *EmotionalRepo) ListActiveMemories(_ context.Context, _ interfaces.DBTX, relationshipID uuid.UUID, limit int) ([]models.EmotionalMemory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.EmotionalMemory{}
	for _, m := range r.s.data.memories {
		if m.RelationshipID == relationshipID && !m.IsForgotten {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore > out[j].ImportanceScore
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EmotionalRepo) MarkMemoriesRecalled(_ context.Context, _ interfaces.DBTX, ids []uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range r.s.data.memories {
		if _, ok := wanted[r.s.data.memories[i].ID]; ok {
			r.s.data.memories[i].RecallCount++
			t := at
			r.s.data.memories[i].LastRecalledAt = &t
		}
	}
	return nil
}

func (r *EmotionalRepo) ForgetStaleMemories(_ context.Context, _ interfaces.DBTX, relationshipID uuid.UUID, olderThan time.Time, minImportance float64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.data.memories {
		m := &r.s.data.memories[i]
		if m.RelationshipID != relationshipID || m.IsForgotten || m.RecallCount > 0 {
			continue
		}
		if m.ImportanceScore < minImportance && m.CreatedAt.Before(olderThan) {
			m.IsForgotten = true
			n++
		}
	}
	return n, nil
}

func (r *EmotionalRepo) GetPersonality(_ context.Context, _ interfaces.DBTX, relationshipID uuid.UUID) (*models.PersonalityAdaptation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.personalities[relationshipID]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := clonePersonality(p)
	return &out, nil
}

func (r *EmotionalRepo) CreatePersonality(_ context.Context, _ interfaces.DBTX, p *models.PersonalityAdaptation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.personalities[p.RelationshipID]; ok {
		return fmt.Errorf("%w: personality exists", models.ErrConcurrentUpdate)
	}
	p.Version = 1
	r.s.data.personalities[p.RelationshipID] = clonePersonality(*p)
	return nil
}

func (r *EmotionalRepo) SavePersonality(_ context.Context, _ interfaces.DBTX, p *models.PersonalityAdaptation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.personalities[p.RelationshipID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != p.Version {
		return models.ErrConcurrentUpdate
	}
	p.Version++
	r.s.data.personalities[p.RelationshipID] = clonePersonality(*p)
	return nil
}

// Memories returns every stored memory, including forgotten ones.
func (r *EmotionalRepo) Memories() []models.EmotionalMemory {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.EmotionalMemory(nil), r.s.data.memories...)
}

// DynamicConfigRepo implements interfaces.DynamicConfigRepository.
type DynamicConfigRepo struct{ s *Store }

var _ interfaces.DynamicConfigRepository = (*DynamicConfigRepo)(nil)

func (r *DynamicConfigRepo) GetByKey(_ context.Context, _ interfaces.DBTX, key string) (*models.DynamicConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.configs[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (r *DynamicConfigRepo) GetAll(context.Context, interfaces.DBTX) ([]*models.DynamicConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.DynamicConfig, 0, len(r.s.data.configs))
	for _, c := range r.s.data.configs {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *DynamicConfigRepo) Upsert(_ context.Context, _ interfaces.DBTX, c *models.DynamicConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.configs[c.Key] = *c
	return nil
}
