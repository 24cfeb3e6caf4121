package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Item is a unit of energy a seller has published to a catalog.
type Item struct {
	bun.BaseModel `bun:"table:energy_items,alias:ei"`

	ID                string    `bun:"id,pk"`
	SellerID          string    `bun:"seller_id,notnull"`
	ProviderID        string    `bun:"provider_id,notnull"`
	CatalogID         string    `bun:"catalog_id,notnull"`
	Name              string    `bun:"name"`
	SourceType        string    `bun:"source_type"`
	MeterID           string    `bun:"meter_id"`
	AvailableQuantity float64   `bun:"available_quantity,notnull"`
	DeliveryStart     time.Time `bun:"delivery_start,nullzero"`
	DeliveryEnd       time.Time `bun:"delivery_end,nullzero"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Offers []*Offer `bun:"rel:has-many,join:id=item_id"`
}

const (
	SourceSolar   = "SOLAR"
	SourceWind    = "WIND"
	SourceBattery = "BATTERY"
)

func (i *Item) Exhausted() bool {
	return i.AvailableQuantity <= 0
}
