package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jnst/easy-reminder/internal/db"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// TransactionManagerImpl implements TransactionManager using PostgreSQL.
type TransactionManagerImpl struct {
	pool TxBeginner
}

// NewTransactionManagerImpl creates a new TransactionManager implementation.
func NewTransactionManagerImpl(pool TxBeginner) TransactionManager {
	return &TransactionManagerImpl{pool: pool}
}

// WithTransaction executes fn within a database transaction. Repositories called
// with the context passed to fn run their statements on the transaction.
func (tm *TransactionManagerImpl) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := tm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rollbackErr)
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// queriesFor returns queries bound to the transaction in ctx, or to conn outside one.
func queriesFor(ctx context.Context, conn db.DBTX) *db.Queries {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return db.New(tx)
	}

	return db.New(conn)
}
