package database

import (
	"context"
	"errors"
	"fmt"

	"progression-server/internal/dbctx"
	"progression-server/internal/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ TxBeginner = (*pgxpool.Pool)(nil)

// TxManager opens one transaction per inbound action.
type TxManager struct {
	db     TxBeginner
	logger *zap.Logger
}

var _ interfaces.SessionProvider = (*TxManager)(nil)

func NewTxManager(db TxBeginner, logger *zap.Logger) *TxManager {
	return &TxManager{db: db, logger: logger.Named("TxManager")}
}

// WithTx runs fn inside a transaction. The transaction is also stored in the context passed to fn.
// An error or panic from fn rolls back; the panic is re-raised after rollback.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) (err error) {
	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			m.rollback(tx)
			panic(p)
		}
		if err != nil {
			m.rollback(tx)
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			m.logger.Error("Failed to commit transaction", zap.Error(commitErr))
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(dbctx.WithQuerier(ctx, tx), tx)
}

func (m *TxManager) rollback(tx pgx.Tx) {
	// context.Background: откат должен пройти даже если ctx запроса уже отменен
	if err := tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		m.logger.Error("Failed to rollback transaction", zap.Error(err))
	}
}
