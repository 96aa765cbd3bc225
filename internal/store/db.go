package store

import (
	"context"
	"database/sql"
)

// The store methods take the narrowest executor they need, so callers can pass
// either the pool or an open transaction.

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is what a store holds: *sqlx.DB satisfies it.
type DB interface {
	Execer
	Getter
	Selecter
}
