package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

const DefaultTxTimeout = 15 * time.Second

type txKey struct{}

// TxManager runs a unit of work in one database transaction. The
// transaction travels in the context, so every repository call made with
// that context joins it.
type TxManager struct {
	db      *bun.DB
	timeout time.Duration
}

func NewTxManager(db *bun.DB) *TxManager {
	return &TxManager{db: db, timeout: DefaultTxTimeout}
}

// WithTransaction executes fn within a transaction. Calls nested inside an
// outer transaction reuse it instead of opening a new one.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return runInTx(ctx, m.db, m.timeout, fn)
}

func runInTx(ctx context.Context, db *bun.DB, timeout time.Duration, fn func(ctx context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// default isolation: the conditional updates carry the concurrency guarantees
	tx, err := db.BeginTx(timeoutCtx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(timeoutCtx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *bun.DB) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return db
}

// inTx joins the ctx transaction or opens a short one of its own.
func inTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context, idb bun.IDB) error) error {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx, tx)
	}
	return runInTx(ctx, db, DefaultTxTimeout, func(ctx context.Context) error {
		return fn(ctx, conn(ctx, db))
	})
}
