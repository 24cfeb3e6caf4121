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

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, transactionID string, from, to models.OrderStatus) error
	GetSellerEarnings(ctx context.Context, sellerID string) (*models.SellerEarnings, error)
}

type orderRepository struct {
	db *bun.DB
}

func NewOrderRepository(db *bun.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	if _, err := conn(ctx, r.db).NewInsert().Model(order).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	order := new(models.Order)
	err := conn(ctx, r.db).NewSelect().
		Model(order).
		Where("transaction_id = ?", transactionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "order", ID: transactionID}
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// UpdateStatus moves an order along its lifecycle. The update only applies
// while the stored status still equals from.
func (r *orderRepository) UpdateStatus(ctx context.Context, transactionID string, from, to models.OrderStatus) error {
	if _, err := from.Transition(to); err != nil {
		return err
	}

	result, err := conn(ctx, r.db).NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("transaction_id = ?", transactionID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("order %s: %w", transactionID, ErrStatusConflict)
	}
	return nil
}

func (r *orderRepository) GetSellerEarnings(ctx context.Context, sellerID string) (*models.SellerEarnings, error) {
	earnings := &models.SellerEarnings{SellerID: sellerID}
	err := conn(ctx, r.db).NewSelect().
		Model((*models.Order)(nil)).
		ColumnExpr("COUNT(*) AS order_count").
		ColumnExpr("COALESCE(SUM(total_quantity), 0) AS total_quantity").
		ColumnExpr("COALESCE(SUM(total_value), 0) AS total_value").
		Where("seller_id = ?", sellerID).
		Where("status IN (?)", bun.In([]models.OrderStatus{models.OrderScheduled, models.OrderDelivered})).
		Scan(ctx, &earnings.OrderCount, &earnings.TotalQuantity, &earnings.TotalValue)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate seller earnings: %w", err)
	}
	return earnings, nil
}
