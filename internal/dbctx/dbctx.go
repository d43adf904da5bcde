// Package dbctx carries the active transaction of an inbound action through the context,
// so event handlers reached synchronously during the action write through the same transaction.
package dbctx

import (
	"context"
	"errors"
	"fmt"

	"progression-server/internal/interfaces"

	"github.com/jackc/pgx/v5"
)

type querierKey struct{}

// WithQuerier returns a copy of ctx carrying q.
func WithQuerier(ctx context.Context, q interfaces.DBTX) context.Context {
	return context.WithValue(ctx, querierKey{}, q)
}

// Querier returns the querier stored in ctx and whether one was present.
func Querier(ctx context.Context) (interfaces.DBTX, bool) {
	q, ok := ctx.Value(querierKey{}).(interfaces.DBTX)
	return q, ok && q != nil
}

// QuerierOr returns the querier stored in ctx, or fallback when there is none.
func QuerierOr(ctx context.Context, fallback interfaces.DBTX) interfaces.DBTX {
	if q, ok := Querier(ctx); ok {
		return q
	}
	return fallback
}

// nestedBeginner is satisfied by pgx.Tx: Begin on a transaction opens a savepoint.
type nestedBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithSavepoint runs fn inside a savepoint of the transaction carried by ctx.
// The savepoint is released when fn returns nil and rolled back on error or panic,
// leaving the outer transaction usable. The panic is re-raised after rollback.
// Without a nestable transaction in ctx fn runs directly.
func WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	q, ok := Querier(ctx)
	if !ok {
		return fn(ctx)
	}
	nb, ok := q.(nestedBeginner)
	if !ok {
		return fn(ctx)
	}

	sp, err := nb.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sp.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			// context.Background: ctx может быть уже отменен, а savepoint откатить нужно
			if rbErr := sp.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("failed to roll back savepoint: %w", rbErr))
			}
			return
		}
		if commitErr := sp.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("failed to release savepoint: %w", commitErr)
		}
	}()

	return fn(WithQuerier(ctx, sp))
}
