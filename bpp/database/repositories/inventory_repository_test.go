package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshare/energy-bpp/bpp/database/dbtest"
	"github.com/gridshare/energy-bpp/bpp/database/models"
)

func seedItem(t *testing.T, repo InventoryRepository, itemID, offerID string, qty float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateItem(ctx, &models.Item{
		ID:                itemID,
		SellerID:          "seller-1",
		ProviderID:        "provider-1",
		CatalogID:         "catalog-1",
		AvailableQuantity: qty,
	}))
	require.NoError(t, repo.CreateOffer(ctx, &models.Offer{
		ID:                 offerID,
		ItemID:             itemID,
		CatalogID:          "catalog-1",
		ProviderID:         "provider-1",
		Price:              decimal.RequireFromString("6.5"),
		Currency:           "INR",
		ApplicableQuantity: qty,
	}))
}

func TestInventoryRepository_Decrement(t *testing.T) {
	tests := []struct {
		name      string
		initial   float64
		take      float64
		wantErr   error
		wantAfter float64
	}{
		{name: "Partial", initial: 10, take: 7, wantAfter: 3},
		{name: "Exact", initial: 10, take: 10, wantAfter: 0},
		{name: "TooMuch", initial: 3, take: 10, wantErr: ErrInsufficientInventory, wantAfter: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewInventoryRepository(dbtest.New(t))
			seedItem(t, repo, "item-1", "offer-1", tt.initial)

			err := repo.Decrement(context.Background(), "item-1", "offer-1", tt.take)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var insufficient *InsufficientError
				require.True(t, errors.As(err, &insufficient))
				assert.Equal(t, tt.take, insufficient.Requested)
				assert.Equal(t, tt.initial, insufficient.Available)
			} else {
				require.NoError(t, err)
			}

			item, err := repo.GetItem(context.Background(), "item-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAfter, item.AvailableQuantity)

			offer, err := repo.GetOffer(context.Background(), "offer-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAfter, offer.ApplicableQuantity)
		})
	}
}

func TestInventoryRepository_DecrementOfferShortRollsBackItem(t *testing.T) {
	repo := NewInventoryRepository(dbtest.New(t))
	seedItem(t, repo, "item-1", "offer-1", 10)
	require.NoError(t, repo.CreateOffer(context.Background(), &models.Offer{
		ID:                 "offer-small",
		ItemID:             "item-1",
		CatalogID:          "catalog-1",
		ProviderID:         "provider-1",
		Price:              decimal.NewFromInt(5),
		Currency:           "INR",
		ApplicableQuantity: 2,
	}))

	err := repo.Decrement(context.Background(), "item-1", "offer-small", 4)
	require.ErrorIs(t, err, ErrInsufficientInventory)

	item, err := repo.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, item.AvailableQuantity)
}

func TestInventoryRepository_ConcurrentDecrementNeverOversells(t *testing.T) {
	db := dbtest.NewFile(t)
	repo := NewInventoryRepository(db)
	seedItem(t, repo, "item-1", "offer-1", 10)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
		ready    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			err := repo.Decrement(context.Background(), "item-1", "offer-1", 3)
			mu.Lock()
			defer mu.Unlock()
			var insufficient *InsufficientError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &insufficient):
				assert.Equal(t, 3.0, insufficient.Requested)
				assert.Less(t, insufficient.Available, 3.0)
				fail++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(ready)
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, callers-3, fail)
	assert.Greater(t, db.DB.Stats().MaxOpenConnections, 1, "callers must not share one connection")

	item, err := repo.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, item.AvailableQuantity)
	offer, err := repo.GetOffer(context.Background(), "offer-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, offer.ApplicableQuantity)
}

func TestInventoryRepository_DecrementMissingItem(t *testing.T) {
	repo := NewInventoryRepository(dbtest.New(t))
	err := repo.Decrement(context.Background(), "ghost", "", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInventoryRepository_ClaimGiftOnce(t *testing.T) {
	repo := NewInventoryRepository(dbtest.New(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateItem(ctx, &models.Item{
		ID: "item-g", SellerID: "seller-1", ProviderID: "provider-1", CatalogID: "catalog-1", AvailableQuantity: 5,
	}))
	require.NoError(t, repo.CreateOffer(ctx, &models.Offer{
		ID:                 "gift-1",
		ItemID:             "item-g",
		CatalogID:          "catalog-1",
		ProviderID:         "provider-1",
		Price:              decimal.Zero,
		Currency:           "INR",
		ApplicableQuantity: 5,
		IsGift:             true,
		ClaimVerifier:      "abc",
		GiftExpiresAt:      now.Add(time.Hour),
	}))

	require.NoError(t, repo.ClaimGift(ctx, "gift-1", "buyer-9", now))
	require.ErrorIs(t, repo.ClaimGift(ctx, "gift-1", "buyer-9", now), ErrGiftUnavailable)

	offer, err := repo.GetOffer(ctx, "gift-1")
	require.NoError(t, err)
	assert.Equal(t, models.GiftClaimed, offer.GiftStatus)
	assert.Equal(t, "buyer-9", offer.ClaimedBy)
	assert.False(t, offer.ClaimedAt.IsZero())

	require.ErrorIs(t, repo.RevokeGift(ctx, "gift-1"), ErrGiftUnavailable)
}

func TestInventoryRepository_GiftLifecycle(t *testing.T) {
	repo := NewInventoryRepository(dbtest.New(t))
	ctx := context.Background()
	now := time.Now().UTC()
	seedItem(t, repo, "item-1", "offer-1", 10)

	require.ErrorIs(t, repo.ClaimGift(ctx, "offer-1", "buyer-1", now), ErrGiftUnavailable, "a regular offer cannot be claimed")
	require.ErrorIs(t, repo.RevokeGift(ctx, "offer-1"), ErrGiftUnavailable)
	require.ErrorIs(t, repo.RevokeGift(ctx, "ghost"), ErrNotFound)

	offer, err := repo.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	offer.IsGift = true
	offer.GiftStatus = models.GiftUnclaimed
	offer.ClaimVerifier = "abc"
	offer.RecipientPhone = "+910000000000"
	offer.GiftExpiresAt = now.Add(time.Hour)
	require.NoError(t, repo.IssueGift(ctx, offer))
	require.ErrorIs(t, repo.IssueGift(ctx, offer), ErrGiftUnavailable, "a gift is issued once")

	require.NoError(t, repo.RevokeGift(ctx, "offer-1"))
	stored, err := repo.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, models.GiftRevoked, stored.GiftStatus)
	assert.Equal(t, "+910000000000", stored.RecipientPhone)

	require.ErrorIs(t, repo.ClaimGift(ctx, "offer-1", "buyer-1", now), ErrGiftUnavailable)
	require.ErrorIs(t, repo.RevokeGift(ctx, "offer-1"), ErrGiftUnavailable)
}

func TestInventoryRepository_ClaimExpiredGift(t *testing.T) {
	repo := NewInventoryRepository(dbtest.New(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateItem(ctx, &models.Item{
		ID: "item-g", SellerID: "seller-1", ProviderID: "provider-1", CatalogID: "catalog-1", AvailableQuantity: 5,
	}))
	require.NoError(t, repo.CreateOffer(ctx, &models.Offer{
		ID: "gift-old", ItemID: "item-g", CatalogID: "catalog-1", ProviderID: "provider-1",
		Price: decimal.Zero, Currency: "INR", ApplicableQuantity: 5,
		IsGift: true, ClaimVerifier: "abc", GiftExpiresAt: now.Add(-time.Minute),
	}))

	require.ErrorIs(t, repo.ClaimGift(ctx, "gift-old", "buyer-1", now), ErrGiftUnavailable)
	offer, err := repo.GetOffer(ctx, "gift-old")
	require.NoError(t, err)
	assert.Equal(t, models.GiftUnclaimed, offer.GiftStatus)
}

func TestInventoryRepository_RebuildCatalog(t *testing.T) {
	repo := NewInventoryRepository(dbtest.New(t))
	ctx := context.Background()
	now := time.Now().UTC()

	seedItem(t, repo, "item-a", "offer-a", 10)
	seedItem(t, repo, "item-b", "offer-b", 4)
	require.NoError(t, repo.Decrement(ctx, "item-b", "offer-b", 4))

	require.NoError(t, repo.CreateOffer(ctx, &models.Offer{
		ID: "gift-expired", ItemID: "item-a", CatalogID: "catalog-1", ProviderID: "provider-1",
		Price: decimal.Zero, Currency: "INR", ApplicableQuantity: 1,
		IsGift: true, GiftExpiresAt: now.Add(-time.Minute),
	}))

	snapshot, err := repo.RebuildCatalog(ctx, "catalog-1", now)
	require.NoError(t, err)
	require.Len(t, snapshot.Items, 1)
	assert.Equal(t, "item-a", snapshot.Items[0].ID)
	require.Len(t, snapshot.Items[0].Offers, 1)
	assert.Equal(t, "offer-a", snapshot.Items[0].Offers[0].ID)
	assert.Equal(t, "provider-1", snapshot.ProviderID)
}
