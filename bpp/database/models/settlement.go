package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SettlementStatus string

const (
	SettlementPending         SettlementStatus = "PENDING"
	SettlementBuyerCompleted  SettlementStatus = "BUYER_COMPLETED"
	SettlementSellerCompleted SettlementStatus = "SELLER_COMPLETED"
	SettlementSettled         SettlementStatus = "SETTLED"
)

type DiscomStatus string

const (
	DiscomPending   DiscomStatus = "PENDING"
	DiscomCompleted DiscomStatus = "COMPLETED"
)

type SettlementRole string

const (
	RoleBuyer  SettlementRole = "BUYER"
	RoleSeller SettlementRole = "SELLER"
)

// Settlement tracks ledger reconciliation for one side of a trade.
type Settlement struct {
	bun.BaseModel `bun:"table:settlements,alias:s"`

	ID                 string           `bun:"id,pk"`
	TransactionID      string           `bun:"transaction_id,notnull,unique:settlement_txn_role"`
	OrderItemID        string           `bun:"order_item_id"`
	Role               SettlementRole   `bun:"role,notnull,unique:settlement_txn_role"`
	CounterpartyID     string           `bun:"counterparty_id"`
	ContractedQuantity float64          `bun:"contracted_quantity,notnull"`
	ActualDelivered    *float64         `bun:"actual_delivered"`
	Deviation          *float64         `bun:"deviation"`
	BuyerDiscomStatus  DiscomStatus     `bun:"buyer_discom_status,notnull"`
	SellerDiscomStatus DiscomStatus     `bun:"seller_discom_status,notnull"`
	Status             SettlementStatus `bun:"status,notnull"`
	SettlementCycleID  string           `bun:"settlement_cycle_id,nullzero"`
	SettledAt          time.Time        `bun:"settled_at,nullzero"`
	LedgerSyncedAt     time.Time        `bun:"ledger_synced_at,nullzero"`
	CreatedAt          time.Time        `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt          time.Time        `bun:"updated_at,notnull,default:current_timestamp"`
}
