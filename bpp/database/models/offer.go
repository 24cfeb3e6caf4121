package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type GiftStatus string

const (
	GiftUnclaimed GiftStatus = "UNCLAIMED"
	GiftClaimed   GiftStatus = "CLAIMED"
	GiftRevoked   GiftStatus = "REVOKED"
)

// CanTransition reports whether a gift may move from s to next.
// A claim happens once; revocation is only possible before a claim.
func (s GiftStatus) CanTransition(next GiftStatus) bool {
	switch s {
	case GiftUnclaimed:
		return next == GiftClaimed || next == GiftRevoked
	default:
		return false
	}
}

func (s GiftStatus) Transition(next GiftStatus) (GiftStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("gift cannot move from %s to %s", s, next)
	}
	return next, nil
}

// Offer is a priced quantity of an item. Its applicable quantity is
// decremented independently of the item's available quantity.
type Offer struct {
	bun.BaseModel `bun:"table:energy_offers,alias:eo"`

	ID                 string          `bun:"id,pk"`
	ItemID             string          `bun:"item_id,notnull"`
	CatalogID          string          `bun:"catalog_id,notnull"`
	ProviderID         string          `bun:"provider_id,notnull"`
	Price              decimal.Decimal `bun:"price,type:numeric(20,4),notnull"`
	Currency           string          `bun:"currency,notnull"`
	ApplicableQuantity float64         `bun:"applicable_quantity,notnull"`

	IsGift         bool       `bun:"is_gift,notnull,default:false"`
	GiftStatus     GiftStatus `bun:"gift_status,nullzero"`
	ClaimVerifier  string     `bun:"claim_verifier,nullzero"`
	ClaimSecret    string     `bun:"claim_secret,nullzero"`
	RecipientPhone string     `bun:"recipient_phone,nullzero"`
	GiftExpiresAt  time.Time  `bun:"gift_expires_at,nullzero"`
	ClaimedAt      time.Time  `bun:"claimed_at,nullzero"`
	ClaimedBy      string     `bun:"claimed_by,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (o *Offer) Exhausted() bool {
	return o.ApplicableQuantity <= 0
}

// Expired reports whether the gift window has passed, whatever the stored status says.
func (o *Offer) Expired(now time.Time) bool {
	return o.IsGift && !o.GiftExpiresAt.IsZero() && now.After(o.GiftExpiresAt)
}
