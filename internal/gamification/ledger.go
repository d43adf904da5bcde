package gamification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/configservice"
	"progression-server/internal/interfaces"
	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100

	MultiplierVIP = "vip"
)

// Ledger owns points balances, levels, achievements and missions.
type Ledger struct {
	pointsRepo      interfaces.PointsRepository
	achievementRepo interfaces.AchievementRepository
	missionRepo     interfaces.MissionRepository
	bus             interfaces.EventBus
	cfg             *configservice.ConfigService
	clock           clock.Clock
	logger          *zap.Logger
}

var _ interfaces.GamificationLedger = (*Ledger)(nil)
var _ interfaces.Subscriber = (*Ledger)(nil)

func NewLedger(
	pointsRepo interfaces.PointsRepository,
	achievementRepo interfaces.AchievementRepository,
	missionRepo interfaces.MissionRepository,
	bus interfaces.EventBus,
	cfg *configservice.ConfigService,
	clk clock.Clock,
	logger *zap.Logger,
) *Ledger {
	return &Ledger{
		pointsRepo:      pointsRepo,
		achievementRepo: achievementRepo,
		missionRepo:     missionRepo,
		bus:             bus,
		cfg:             cfg,
		clock:           clk,
		logger:          logger.Named("GamificationLedger"),
	}
}

// CalculateLevel applies the configured level table to points.
func (l *Ledger) CalculateLevel(points int64) models.LevelInfo {
	return CalculateLevel(l.cfg.LevelTable(), points)
}

// loadPoints locks the user's ledger row, creating it on first access.
func (l *Ledger) loadPoints(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserPoints, error) {
	p, err := l.pointsRepo.GetForUpdate(ctx, tx, userID)
	if err == nil {
		if p.ActiveMultipliers == nil {
			p.ActiveMultipliers = map[string]float64{}
		}
		return p, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load points for user %d: %w", userID, err)
	}

	now := l.clock.Now()
	p = &models.UserPoints{
		UserID:            userID,
		Level:             l.CalculateLevel(0).Level,
		ActiveMultipliers: map[string]float64{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.pointsRepo.Create(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("failed to create points for user %d: %w", userID, err)
	}
	l.logger.Debug("Ledger created", zap.Int64("user_id", userID))
	return p, nil
}

// GetPoints returns the user's ledger, creating an empty one on first access.
func (l *Ledger) GetPoints(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserPoints, error) {
	return l.loadPoints(ctx, tx, userID)
}

// AwardPoints adds exactly amount to the balance. Multipliers are applied by callers.
func (l *Ledger) AwardPoints(ctx context.Context, tx interfaces.DBTX, userID int64, amount int64, source models.PointSource, description string) (*models.AwardResult, error) {
	logFields := []zap.Field{
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("source", string(source)),
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: award amount must be positive, got %d", models.ErrValidation, amount)
	}

	p, err := l.loadPoints(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	levels := l.cfg.LevelTable()
	before := CalculateLevel(levels, p.TotalEarned)

	p.CurrentPoints += amount
	p.TotalEarned += amount
	var tracked bool
	p.Breakdown, tracked = p.Breakdown.Add(source, amount)
	if !tracked {
		l.logger.Debug("Source has no breakdown counter", logFields...)
	}

	after := CalculateLevel(levels, p.TotalEarned)
	p.Level = after.Level
	p.UpdatedAt = l.clock.Now()

	if err := l.pointsRepo.Save(ctx, tx, p); err != nil {
		l.logger.Error("Failed to save points", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to save points: %w", err)
	}
	if err := l.recordTransaction(ctx, tx, userID, amount, source, description, p.CurrentPoints); err != nil {
		return nil, err
	}

	metrics.PointsAwardedTotal.WithLabelValues(string(source)).Add(float64(amount))
	result := &models.AwardResult{
		Points:    *p,
		Awarded:   amount,
		OldLevel:  before.Level,
		NewLevel:  after.Level,
		LevelName: after.Name,
		LevelUp:   after.Level > before.Level,
	}
	l.logger.Info("Points awarded", append(logFields, zap.Int64("balance", p.CurrentPoints), zap.Bool("level_up", result.LevelUp))...)

	l.bus.Publish(ctx, models.PointsAwardedEvent{UserID: userID, Amount: amount, Source: source, Balance: p.CurrentPoints})
	if result.LevelUp {
		metrics.LevelUpsTotal.Inc()
		l.bus.Publish(ctx, models.LevelUpEvent{UserID: userID, OldLevel: before.Level, NewLevel: after.Level, LevelName: after.Name})
	}
	return result, nil
}

// SpendPoints deducts amount. The balance never goes negative.
func (l *Ledger) SpendPoints(ctx context.Context, tx interfaces.DBTX, userID int64, amount int64, reason string) (*models.UserPoints, error) {
	logFields := []zap.Field{zap.Int64("user_id", userID), zap.Int64("amount", amount), zap.String("reason", reason)}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: spend amount must be positive, got %d", models.ErrValidation, amount)
	}

	p, err := l.loadPoints(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if p.CurrentPoints < amount {
		l.logger.Info("Insufficient balance", append(logFields, zap.Int64("balance", p.CurrentPoints))...)
		return nil, fmt.Errorf("%w: balance %d, requested %d", models.ErrInsufficientBalance, p.CurrentPoints, amount)
	}

	p.CurrentPoints -= amount
	p.TotalSpent += amount
	p.UpdatedAt = l.clock.Now()
	if err := l.pointsRepo.Save(ctx, tx, p); err != nil {
		l.logger.Error("Failed to save points", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to save points: %w", err)
	}
	if err := l.recordTransaction(ctx, tx, userID, -amount, models.SourceSpend, reason, p.CurrentPoints); err != nil {
		return nil, err
	}

	metrics.PointsSpentTotal.Add(float64(amount))
	l.logger.Info("Points spent", append(logFields, zap.Int64("balance", p.CurrentPoints))...)
	l.bus.Publish(ctx, models.PointsSpentEvent{UserID: userID, Amount: amount, Reason: reason, Balance: p.CurrentPoints})
	return p, nil
}

func (l *Ledger) recordTransaction(ctx context.Context, tx interfaces.DBTX, userID, amount int64, source models.PointSource, description string, balance int64) error {
	entry := &models.PointTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       amount,
		Source:       source,
		Description:  description,
		BalanceAfter: balance,
		CreatedAt:    l.clock.Now(),
	}
	if err := l.pointsRepo.InsertTransaction(ctx, tx, entry); err != nil {
		return fmt.Errorf("failed to record point transaction: %w", err)
	}
	return nil
}

// SetMultiplier activates (or replaces) a named multiplier.
func (l *Ledger) SetMultiplier(ctx context.Context, tx interfaces.DBTX, userID int64, name string, factor float64) (*models.UserPoints, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: multiplier name is empty", models.ErrValidation)
	}
	if factor <= 0 {
		return nil, fmt.Errorf("%w: multiplier factor must be positive, got %v", models.ErrValidation, factor)
	}
	p, err := l.loadPoints(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	p.ActiveMultipliers[name] = factor
	p.UpdatedAt = l.clock.Now()
	if err := l.pointsRepo.Save(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("failed to save multiplier: %w", err)
	}
	l.logger.Info("Multiplier set", zap.Int64("user_id", userID), zap.String("name", name), zap.Float64("factor", factor))
	return p, nil
}

// SetVIP activates the vip multiplier with the configured factor.
func (l *Ledger) SetVIP(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserPoints, error) {
	return l.SetMultiplier(ctx, tx, userID, MultiplierVIP, l.cfg.VIPMultiplier())
}

func (l *Ledger) ClearVIP(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserPoints, error) {
	return l.ClearMultiplier(ctx, tx, userID, MultiplierVIP)
}

// ClearMultiplier removes a named multiplier. Clearing an inactive one is not an error.
func (l *Ledger) ClearMultiplier(ctx context.Context, tx interfaces.DBTX, userID int64, name string) (*models.UserPoints, error) {
	p, err := l.loadPoints(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.ActiveMultipliers[name]; !ok {
		return p, nil
	}
	delete(p.ActiveMultipliers, name)
	p.UpdatedAt = l.clock.Now()
	if err := l.pointsRepo.Save(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("failed to clear multiplier: %w", err)
	}
	return p, nil
}

// GetHistory returns the newest ledger entries first.
func (l *Ledger) GetHistory(ctx context.Context, tx interfaces.DBTX, userID int64, limit int) ([]models.PointTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return l.pointsRepo.ListTransactions(ctx, tx, userID, limit)
}

// ClaimDailyGift awards the configured gift at most once per UTC day.
func (l *Ledger) ClaimDailyGift(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.AwardResult, error) {
	p, err := l.loadPoints(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now().UTC()
	if p.LastDailyGiftAt != nil && sameUTCDay(*p.LastDailyGiftAt, now) {
		return nil, fmt.Errorf("%w: daily gift already claimed today", models.ErrStateConflict)
	}
	p.LastDailyGiftAt = &now
	p.UpdatedAt = now
	if err := l.pointsRepo.Save(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("failed to save daily gift claim: %w", err)
	}
	return l.AwardPoints(ctx, tx, userID, l.cfg.DailyGiftPoints(), models.SourceDailyGift, "daily gift")
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// GetProfile aggregates balance, level, completed achievements and active missions.
func (l *Ledger) GetProfile(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserProfile, error) {
	p, err := l.loadPoints(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	achievements, err := l.ListAchievements(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	missions, err := l.ListMissions(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	profile := &models.UserProfile{
		UserID:         userID,
		Points:         *p,
		Level:          l.CalculateLevel(p.TotalEarned),
		Multiplier:     p.EffectiveMultiplier(),
		Achievements:   []models.AchievementView{},
		ActiveMissions: []models.MissionView{},
	}
	for _, a := range achievements {
		if a.IsCompleted {
			profile.Achievements = append(profile.Achievements, a)
		}
	}
	for _, m := range missions {
		if m.Status == models.MissionInProgress {
			profile.ActiveMissions = append(profile.ActiveMissions, m)
		}
	}
	return profile, nil
}
