package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"

	"github.com/gridshare/energy-bpp/bpp/database/models"
)

type InventoryRepository interface {
	CreateItem(ctx context.Context, item *models.Item) error
	CreateOffer(ctx context.Context, offer *models.Offer) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	GetOffersByItem(ctx context.Context, itemID string) ([]*models.Offer, error)
	Decrement(ctx context.Context, itemID, offerID string, quantity float64) error
	IssueGift(ctx context.Context, offer *models.Offer) error
	ClaimGift(ctx context.Context, offerID, claimedBy string, now time.Time) error
	RevokeGift(ctx context.Context, offerID string) error
	RebuildCatalog(ctx context.Context, catalogID string, now time.Time) (*models.CatalogSnapshot, error)
}

type inventoryRepository struct {
	db *bun.DB
}

func NewInventoryRepository(db *bun.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) CreateItem(ctx context.Context, item *models.Item) error {
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	if _, err := conn(ctx, r.db).NewInsert().Model(item).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func (r *inventoryRepository) CreateOffer(ctx context.Context, offer *models.Offer) error {
	now := time.Now().UTC()
	offer.CreatedAt, offer.UpdatedAt = now, now
	if offer.IsGift && offer.GiftStatus == "" {
		offer.GiftStatus = models.GiftUnclaimed
	}
	if _, err := conn(ctx, r.db).NewInsert().Model(offer).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func (r *inventoryRepository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	item := new(models.Item)
	err := conn(ctx, r.db).NewSelect().
		Model(item).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "item", ID: id}
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (r *inventoryRepository) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	offer := new(models.Offer)
	err := conn(ctx, r.db).NewSelect().
		Model(offer).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "offer", ID: id}
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

func (r *inventoryRepository) GetOffersByItem(ctx context.Context, itemID string) ([]*models.Offer, error) {
	var offers []*models.Offer
	err := conn(ctx, r.db).NewSelect().
		Model(&offers).
		Where("item_id = ?", itemID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get offers for item %s: %w", itemID, err)
	}
	return offers, nil
}

// Decrement removes quantity from the item and, when offerID is set, from the
// offer, in one transaction. Each side is a conditional update so concurrent
// callers can never drive a quantity below zero.
func (r *inventoryRepository) Decrement(ctx context.Context, itemID, offerID string, quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("decrement quantity must be positive, got %v", quantity)
	}

	return inTx(ctx, r.db, func(ctx context.Context, idb bun.IDB) error {
		now := time.Now().UTC()

		result, err := idb.NewUpdate().
			Model((*models.Item)(nil)).
			Set("available_quantity = available_quantity - ?", quantity).
			Set("updated_at = ?", now).
			Where("id = ?", itemID).
			Where("available_quantity >= ?", quantity).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to decrement item %s: %w", itemID, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return r.insufficient(ctx, idb, "item", itemID, quantity)
		}

		if offerID == "" {
			return nil
		}

		result, err = idb.NewUpdate().
			Model((*models.Offer)(nil)).
			Set("applicable_quantity = applicable_quantity - ?", quantity).
			Set("updated_at = ?", now).
			Where("id = ?", offerID).
			Where("applicable_quantity >= ?", quantity).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to decrement offer %s: %w", offerID, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return r.insufficient(ctx, idb, "offer", offerID, quantity)
		}
		return nil
	})
}

// insufficient explains a zero-row decrement: either the row is gone or it
// holds less than requested.
func (r *inventoryRepository) insufficient(ctx context.Context, idb bun.IDB, entity, id string, requested float64) error {
	var available float64
	column, model := "available_quantity", any((*models.Item)(nil))
	if entity == "offer" {
		column, model = "applicable_quantity", (*models.Offer)(nil)
	}

	err := idb.NewSelect().
		Model(model).
		Column(column).
		Where("id = ?", id).
		Scan(ctx, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s %s quantity: %w", entity, id, err)
	}
	return &InsufficientError{Entity: entity, ID: id, Requested: requested, Available: available}
}

// IssueGift persists the gift fields set on offer, turning a regular offer
// into a gift. An offer that already is a gift is left alone.
func (r *inventoryRepository) IssueGift(ctx context.Context, offer *models.Offer) error {
	if !offer.IsGift || offer.GiftStatus != models.GiftUnclaimed {
		return fmt.Errorf("offer %s is not an unclaimed gift", offer.ID)
	}
	offer.UpdatedAt = time.Now().UTC()

	result, err := conn(ctx, r.db).NewUpdate().
		Model(offer).
		Column("is_gift", "gift_status", "claim_verifier", "claim_secret", "recipient_phone", "gift_expires_at", "updated_at").
		WherePK().
		Where("is_gift = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to issue gift %s: %w", offer.ID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("offer %s: %w", offer.ID, ErrGiftUnavailable)
	}
	return nil
}

// ClaimGift moves an unexpired gift to CLAIMED. Only one caller can win.
func (r *inventoryRepository) ClaimGift(ctx context.Context, offerID, claimedBy string, now time.Time) error {
	now = now.UTC()
	return r.moveGift(ctx, offerID, models.GiftClaimed, now, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("claimed_at = ?", now).
			Set("claimed_by = ?", claimedBy).
			WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
				return q.Where("gift_expires_at IS NULL").WhereOr("gift_expires_at > ?", now)
			})
	})
}

func (r *inventoryRepository) RevokeGift(ctx context.Context, offerID string) error {
	return r.moveGift(ctx, offerID, models.GiftRevoked, time.Now().UTC(), nil)
}

// moveGift checks the move against GiftStatus.Transition and applies it only
// while the stored status is still the one that was read, so concurrent
// callers cannot both succeed.
func (r *inventoryRepository) moveGift(ctx context.Context, offerID string, next models.GiftStatus, now time.Time, extra func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	return inTx(ctx, r.db, func(ctx context.Context, idb bun.IDB) error {
		offer := new(models.Offer)
		err := idb.NewSelect().
			Model(offer).
			Column("id", "is_gift", "gift_status").
			Where("id = ?", offerID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Entity: "offer", ID: offerID}
		}
		if err != nil {
			return fmt.Errorf("failed to read gift %s: %w", offerID, err)
		}
		if !offer.IsGift {
			return fmt.Errorf("offer %s is not a gift: %w", offerID, ErrGiftUnavailable)
		}
		if _, err := offer.GiftStatus.Transition(next); err != nil {
			return fmt.Errorf("gift %s: %w: %w", offerID, ErrGiftUnavailable, err)
		}

		q := idb.NewUpdate().
			Model((*models.Offer)(nil)).
			Set("gift_status = ?", next).
			Set("updated_at = ?", now).
			Where("id = ?", offerID).
			Where("gift_status = ?", offer.GiftStatus)
		if extra != nil {
			q = extra(q)
		}

		result, err := q.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to move gift %s to %s: %w", offerID, next, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("gift %s: %w", offerID, ErrGiftUnavailable)
		}
		return nil
	})
}

// RebuildCatalog assembles the publishable snapshot of a catalog from the
// items and offers that still have quantity. Claimed, revoked and expired
// gifts are left out.
func (r *inventoryRepository) RebuildCatalog(ctx context.Context, catalogID string, now time.Time) (*models.CatalogSnapshot, error) {
	var items []*models.Item
	err := conn(ctx, r.db).NewSelect().
		Model(&items).
		Where("catalog_id = ?", catalogID).
		Where("available_quantity > 0").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog items: %w", err)
	}

	var offers []*models.Offer
	err = conn(ctx, r.db).NewSelect().
		Model(&offers).
		Where("catalog_id = ?", catalogID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog offers: %w", err)
	}

	byItem := make(map[string][]models.CatalogOffer, len(items))
	for _, o := range offers {
		if o.Exhausted() || (o.IsGift && (o.GiftStatus != models.GiftUnclaimed || o.Expired(now))) {
			continue
		}
		entry := models.CatalogOffer{
			ID:                 o.ID,
			Price:              o.Price,
			Currency:           o.Currency,
			ApplicableQuantity: o.ApplicableQuantity,
			IsGift:             o.IsGift,
		}
		if o.IsGift && !o.GiftExpiresAt.IsZero() {
			expires := o.GiftExpiresAt
			entry.GiftExpiresAt = &expires
		}
		byItem[o.ItemID] = append(byItem[o.ItemID], entry)
	}

	snapshot := &models.CatalogSnapshot{
		CatalogID:   catalogID,
		Items:       make([]models.CatalogItem, 0, len(items)),
		GeneratedAt: now.UTC(),
	}
	for _, item := range items {
		itemOffers := byItem[item.ID]
		if len(itemOffers) == 0 {
			continue
		}
		sort.Slice(itemOffers, func(i, j int) bool { return itemOffers[i].ID < itemOffers[j].ID })
		if snapshot.ProviderID == "" {
			snapshot.ProviderID = item.ProviderID
		}
		snapshot.Items = append(snapshot.Items, models.CatalogItem{
			ID:                item.ID,
			SellerID:          item.SellerID,
			Name:              item.Name,
			SourceType:        item.SourceType,
			AvailableQuantity: item.AvailableQuantity,
			Offers:            itemOffers,
		})
	}
	return snapshot, nil
}
