package interfaces

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
// Repository methods receive it explicitly so callers choose whether they run inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionProvider opens one transactional scope per inbound action.
// fn runs inside the transaction; a returned error or panic rolls it back, nil commits.
type SessionProvider interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// UserLocker serializes mutations of a single user's state.
// The returned unlock function must be called exactly once.
type UserLocker interface {
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
}
