package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshare/energy-bpp/bpp/database/dbtest"
	"github.com/gridshare/energy-bpp/bpp/database/models"
)

func newOrder(txID string, qty int64) *models.Order {
	price := decimal.NewFromInt(6)
	energy := price.Mul(decimal.NewFromInt(qty))
	fee := decimal.NewFromInt(qty)
	return &models.Order{
		ID:            "order-" + txID,
		TransactionID: txID,
		BapID:         "bap.example",
		BppID:         "bpp.example",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Lines: []models.OrderLine{
			{ItemID: "item-1", OfferID: "offer-1", Quantity: float64(qty), UnitPrice: price},
		},
		TotalQuantity: float64(qty),
		EnergyValue:   energy,
		WheelingFee:   fee,
		TotalValue:    energy.Add(fee),
		Currency:      "INR",
		Status:        models.OrderScheduled,
		ConfirmedAt:   time.Now().UTC(),
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	repo := NewOrderRepository(dbtest.New(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newOrder("txn-1", 7)))

	got, err := repo.GetByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderScheduled, got.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 7.0, got.Lines[0].Quantity)
	assert.True(t, got.TotalValue.Equal(decimal.NewFromInt(49)), "total %s", got.TotalValue)

	_, err = repo.GetByTransactionID(ctx, "txn-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	repo := NewOrderRepository(dbtest.New(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newOrder("txn-1", 2)))

	require.Error(t, repo.UpdateStatus(ctx, "txn-1", models.OrderScheduled, models.OrderCreated))
	require.NoError(t, repo.UpdateStatus(ctx, "txn-1", models.OrderScheduled, models.OrderDelivered))
	require.ErrorIs(t, repo.UpdateStatus(ctx, "txn-1", models.OrderScheduled, models.OrderDelivered), ErrStatusConflict)
}

func TestOrderRepository_GetSellerEarnings(t *testing.T) {
	repo := NewOrderRepository(dbtest.New(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newOrder("txn-1", 2)))
	require.NoError(t, repo.Create(ctx, newOrder("txn-2", 3)))

	earnings, err := repo.GetSellerEarnings(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 2, earnings.OrderCount)
	assert.Equal(t, 5.0, earnings.TotalQuantity)
	assert.True(t, earnings.TotalValue.Equal(decimal.NewFromInt(35)), "total %s", earnings.TotalValue)
}
