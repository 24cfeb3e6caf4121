package settlement

import "github.com/gridshare/energy-bpp/bpp/database/models"

type CreateParams struct {
	TransactionID      string
	OrderItemID        string
	ContractedQuantity float64
	Role               models.SettlementRole
	CounterpartyID     string
}

// Summary is the per-transaction view used by status reporting.
type Summary struct {
	TransactionID     string
	Status            models.SettlementStatus
	BuyerDiscom       models.DiscomStatus
	SellerDiscom      models.DiscomStatus
	Contracted        float64
	ActualDelivered   *float64
	SettlementCycleID string
	HasLedgerData     bool
}

// Summarize picks the row that best describes the transaction: the most
// advanced one, preferring the seller row on ties.
func Summarize(transactionID string, rows []*models.Settlement) *Summary {
	if len(rows) == 0 {
		return nil
	}

	best := rows[0]
	for _, row := range rows[1:] {
		if rank(row.Status) > rank(best.Status) ||
			(rank(row.Status) == rank(best.Status) && row.Role == models.RoleSeller) {
			best = row
		}
	}

	return &Summary{
		TransactionID:     transactionID,
		Status:            best.Status,
		BuyerDiscom:       best.BuyerDiscomStatus,
		SellerDiscom:      best.SellerDiscomStatus,
		Contracted:        best.ContractedQuantity,
		ActualDelivered:   best.ActualDelivered,
		SettlementCycleID: best.SettlementCycleID,
		HasLedgerData: best.Status != models.SettlementPending ||
			best.ActualDelivered != nil ||
			!best.LedgerSyncedAt.IsZero(),
	}
}

func rank(s models.SettlementStatus) int {
	switch s {
	case models.SettlementSettled:
		return 2
	case models.SettlementBuyerCompleted, models.SettlementSellerCompleted:
		return 1
	default:
		return 0
	}
}
