package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/gridshare/energy-bpp/bpp/database/models"
)

type SettlementRepository interface {
	Upsert(ctx context.Context, s *models.Settlement) (*models.Settlement, error)
	Get(ctx context.Context, transactionID string, role models.SettlementRole) (*models.Settlement, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*models.Settlement, error)
	ListUnsettled(ctx context.Context, limit int) ([]*models.Settlement, error)
	Update(ctx context.Context, s *models.Settlement) error
}

type settlementRepository struct {
	db *bun.DB
}

func NewSettlementRepository(db *bun.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

// Upsert inserts a settlement or, when the (transaction, role) pair exists,
// refreshes its contract terms. A SETTLED row is final and keeps its terms.
// The stored row is returned.
func (r *settlementRepository) Upsert(ctx context.Context, s *models.Settlement) (*models.Settlement, error) {
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	_, err := conn(ctx, r.db).NewInsert().
		Model(s).
		On("CONFLICT (transaction_id, role) DO UPDATE").
		Set("contracted_quantity = EXCLUDED.contracted_quantity").
		Set("counterparty_id = EXCLUDED.counterparty_id").
		Set("order_item_id = EXCLUDED.order_item_id").
		Set("updated_at = EXCLUDED.updated_at").
		Where("s.status <> ?", models.SettlementSettled).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert settlement: %w", err)
	}
	return r.Get(ctx, s.TransactionID, s.Role)
}

func (r *settlementRepository) Get(ctx context.Context, transactionID string, role models.SettlementRole) (*models.Settlement, error) {
	s := new(models.Settlement)
	err := conn(ctx, r.db).NewSelect().
		Model(s).
		Where("transaction_id = ?", transactionID).
		Where("role = ?", role).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "settlement", ID: transactionID + "/" + string(role)}
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return s, nil
}

func (r *settlementRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*models.Settlement, error) {
	var rows []*models.Settlement
	err := conn(ctx, r.db).NewSelect().
		Model(&rows).
		Where("transaction_id = ?", transactionID).
		Order("role ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	return rows, nil
}

func (r *settlementRepository) ListUnsettled(ctx context.Context, limit int) ([]*models.Settlement, error) {
	var rows []*models.Settlement
	q := conn(ctx, r.db).NewSelect().
		Model(&rows).
		Where("status <> ?", models.SettlementSettled).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list unsettled settlements: %w", err)
	}
	return rows, nil
}

// Update writes the reconciliation columns. A row that is already SETTLED is
// never rewritten; ErrSettlementFinal reports that case.
func (r *settlementRepository) Update(ctx context.Context, s *models.Settlement) error {
	s.UpdatedAt = time.Now().UTC()

	result, err := conn(ctx, r.db).NewUpdate().
		Model(s).
		Column(
			"actual_delivered",
			"deviation",
			"buyer_discom_status",
			"seller_discom_status",
			"status",
			"settlement_cycle_id",
			"settled_at",
			"ledger_synced_at",
			"updated_at",
		).
		WherePK().
		Where("status <> ?", models.SettlementSettled).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("settlement %s: %w", s.ID, ErrSettlementFinal)
	}
	return nil
}
