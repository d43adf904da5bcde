package database

import (
	"context"
	"fmt"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pointsColumns = `user_id, current_points, total_earned, total_spent, breakdown, level, active_multipliers,
               last_daily_gift_at, version, created_at, updated_at`

	getPointsForUpdateQuery = `SELECT ` + pointsColumns + ` FROM user_points WHERE user_id = $1 FOR UPDATE`
	createPointsQuery       = `
        INSERT INTO user_points (user_id, current_points, total_earned, total_spent, breakdown, level,
                                 active_multipliers, last_daily_gift_at, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)`
	savePointsQuery = `
        UPDATE user_points SET
            current_points = $2,
            total_earned = $3,
            total_spent = $4,
            breakdown = $5,
            level = $6,
            active_multipliers = $7,
            last_daily_gift_at = $8,
            updated_at = $9,
            version = version + 1
        WHERE user_id = $1 AND version = $10`
	insertPointTransactionQuery = `
        INSERT INTO point_transactions (id, user_id, amount, source, description, balance_after, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	listPointTransactionsQuery = `
        SELECT id, user_id, amount, source, description, balance_after, created_at
        FROM point_transactions
        WHERE user_id = $1
        ORDER BY created_at DESC, id
        LIMIT $2`
)

type pgPointsRepository struct {
	logger *zap.Logger
}

var _ interfaces.PointsRepository = (*pgPointsRepository)(nil)

func NewPgPointsRepository(logger *zap.Logger) interfaces.PointsRepository {
	return &pgPointsRepository{logger: logger.Named("PgPointsRepo")}
}

func (r *pgPointsRepository) GetForUpdate(ctx context.Context, querier interfaces.DBTX, userID int64) (*models.UserPoints, error) {
	var p models.UserPoints
	err := querier.QueryRow(ctx, getPointsForUpdateQuery, userID).Scan(
		&p.UserID,
		&p.CurrentPoints,
		&p.TotalEarned,
		&p.TotalSpent,
		&p.Breakdown,
		&p.Level,
		&p.ActiveMultipliers,
		&p.LastDailyGiftAt,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, WrapNotFound(err)
	}
	if p.ActiveMultipliers == nil {
		p.ActiveMultipliers = map[string]float64{}
	}
	return &p, nil
}

func (r *pgPointsRepository) Create(ctx context.Context, querier interfaces.DBTX, p *models.UserPoints) error {
	_, err := querier.Exec(ctx, createPointsQuery,
		p.UserID, p.CurrentPoints, p.TotalEarned, p.TotalSpent, p.Breakdown, p.Level,
		nonNilFactors(p.ActiveMultipliers), p.LastDailyGiftAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: points for user %d exist", models.ErrConcurrentUpdate, p.UserID)
		}
		r.logger.Error("Failed to create user points", zap.Int64("user_id", p.UserID), zap.Error(err))
		return fmt.Errorf("failed to create user points: %w", err)
	}
	p.Version = 1
	return nil
}

func (r *pgPointsRepository) Save(ctx context.Context, querier interfaces.DBTX, p *models.UserPoints) error {
	tag, err := querier.Exec(ctx, savePointsQuery,
		p.UserID, p.CurrentPoints, p.TotalEarned, p.TotalSpent, p.Breakdown, p.Level,
		nonNilFactors(p.ActiveMultipliers), p.LastDailyGiftAt, p.UpdatedAt, p.Version)
	if err != nil {
		r.logger.Error("Failed to save user points", zap.Int64("user_id", p.UserID), zap.Error(err))
		return fmt.Errorf("failed to save user points: %w", err)
	}
	if err := casResult(tag); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *pgPointsRepository) InsertTransaction(ctx context.Context, querier interfaces.DBTX, tx *models.PointTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	_, err := querier.Exec(ctx, insertPointTransactionQuery,
		tx.ID, tx.UserID, tx.Amount, tx.Source, tx.Description, tx.BalanceAfter, tx.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert point transaction", zap.Int64("user_id", tx.UserID), zap.Error(err))
		return fmt.Errorf("failed to insert point transaction: %w", err)
	}
	return nil
}

func (r *pgPointsRepository) ListTransactions(ctx context.Context, querier interfaces.DBTX, userID int64, limit int) ([]models.PointTransaction, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	txs := []models.PointTransaction{}
	if err := pgxscan.Select(ctx, querier, &txs, listPointTransactionsQuery, userID, limitArg); err != nil {
		return nil, fmt.Errorf("failed to list point transactions: %w", err)
	}
	return txs, nil
}

func nonNilFactors(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
