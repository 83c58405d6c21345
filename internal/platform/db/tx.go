package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// WithTx executes fn within a RepeatableRead transaction carried in ctx.
// Nested calls join the outer transaction; only the outermost call commits,
// after which hooks registered with AfterCommit run.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCtx, flush := NewHookScope(context.WithValue(ctx, txKey{}, tx))
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	flush(ctx)
	return nil
}

// Conn returns the transaction in ctx or the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries a database transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

type hookKey struct{}

type hookScope struct {
	fns []func(context.Context)
}

// NewHookScope attaches a commit hook list to ctx. The returned flush runs the
// registered hooks in order; callers invoke it once the unit of work commits.
// A scope already present in ctx is reused and its flush is a no-op.
func NewHookScope(ctx context.Context) (context.Context, func(context.Context)) {
	if _, ok := ctx.Value(hookKey{}).(*hookScope); ok {
		return ctx, func(context.Context) {}
	}
	scope := &hookScope{}
	return context.WithValue(ctx, hookKey{}, scope), func(runCtx context.Context) {
		fns := scope.fns
		scope.fns = nil
		for _, fn := range fns {
			fn(runCtx)
		}
	}
}

// AfterCommit defers fn until the enclosing unit of work commits. Outside a
// unit of work fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if scope, ok := ctx.Value(hookKey{}).(*hookScope); ok {
		scope.fns = append(scope.fns, fn)
		return
	}
	fn(ctx)
}
