package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderScheduled OrderStatus = "SCHEDULED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:   {OrderScheduled, OrderRejected, OrderCancelled},
	OrderScheduled: {OrderDelivered, OrderCancelled},
}

func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Transition(next OrderStatus) (OrderStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("order cannot move from %s to %s", s, next)
	}
	return next, nil
}

// OrderLine is one confirmed line of an order, stored as JSON on the order row.
type OrderLine struct {
	ItemID    string          `json:"itemId"`
	OfferID   string          `json:"offerId"`
	Quantity  float64         `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	IsGift    bool            `json:"isGift,omitempty"`
}

// Order is a confirmed order, keyed by the protocol transaction id.
type Order struct {
	bun.BaseModel `bun:"table:energy_orders,alias:o"`

	ID            string          `bun:"id,pk"`
	TransactionID string          `bun:"transaction_id,notnull,unique"`
	BapID         string          `bun:"bap_id,notnull"`
	BppID         string          `bun:"bpp_id,notnull"`
	BuyerID       string          `bun:"buyer_id,notnull"`
	SellerID      string          `bun:"seller_id,notnull"`
	Lines         []OrderLine     `bun:"lines,type:jsonb,notnull"`
	TotalQuantity float64         `bun:"total_quantity,notnull"`
	EnergyValue   decimal.Decimal `bun:"energy_value,type:numeric(20,4),notnull"`
	WheelingFee   decimal.Decimal `bun:"wheeling_fee,type:numeric(20,4),notnull"`
	TotalValue    decimal.Decimal `bun:"total_value,type:numeric(20,4),notnull"`
	Currency      string          `bun:"currency,notnull"`
	Status        OrderStatus     `bun:"status,notnull"`
	SettlementID  string          `bun:"settlement_id,nullzero"`
	ConfirmedAt   time.Time       `bun:"confirmed_at,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

// SellerEarnings is a read-only rollup of confirmed orders for one seller.
type SellerEarnings struct {
	SellerID      string          `bun:"seller_id" json:"sellerId"`
	OrderCount    int             `bun:"order_count" json:"orderCount"`
	TotalQuantity float64         `bun:"total_quantity" json:"totalQuantity"`
	TotalValue    decimal.Decimal `bun:"total_value" json:"totalValue"`
}
