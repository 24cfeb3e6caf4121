package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogSnapshot is the publishable view of one catalog: every item that
// still has quantity, with its live offers.
type CatalogSnapshot struct {
	CatalogID   string        `json:"catalogId"`
	ProviderID  string        `json:"providerId"`
	Items       []CatalogItem `json:"items"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

type CatalogItem struct {
	ID                string         `json:"id"`
	SellerID          string         `json:"sellerId"`
	Name              string         `json:"name,omitempty"`
	SourceType        string         `json:"sourceType,omitempty"`
	AvailableQuantity float64        `json:"availableQuantity"`
	Offers            []CatalogOffer `json:"offers"`
}

type CatalogOffer struct {
	ID                 string          `json:"id"`
	Price              decimal.Decimal `json:"price"`
	Currency           string          `json:"currency"`
	ApplicableQuantity float64         `json:"applicableQuantity"`
	IsGift             bool            `json:"isGift,omitempty"`
	GiftExpiresAt      *time.Time      `json:"giftExpiresAt,omitempty"`
}
