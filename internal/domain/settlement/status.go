package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/ledger"
)

var ErrIllegalTransition = errors.New("illegal settlement transition")

var transitions = map[models.SettlementStatus][]models.SettlementStatus{
	models.SettlementPending:         {models.SettlementBuyerCompleted, models.SettlementSellerCompleted, models.SettlementSettled},
	models.SettlementBuyerCompleted:  {models.SettlementSettled},
	models.SettlementSellerCompleted: {models.SettlementSettled},
}

// Transition validates a status change. Staying put is always allowed except
// that nothing leaves SETTLED.
func Transition(from, to models.SettlementStatus) error {
	if from == to {
		return nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// Derive computes the settlement status from the two discom statuses.
func Derive(buyer, seller models.DiscomStatus) models.SettlementStatus {
	switch {
	case buyer == models.DiscomCompleted && seller == models.DiscomCompleted:
		return models.SettlementSettled
	case buyer == models.DiscomCompleted:
		return models.SettlementBuyerCompleted
	case seller == models.DiscomCompleted:
		return models.SettlementSellerCompleted
	default:
		return models.SettlementPending
	}
}

// mergeDiscom keeps COMPLETED once reached, whatever the ledger reports later.
func mergeDiscom(current models.DiscomStatus, reported string) models.DiscomStatus {
	if current == models.DiscomCompleted {
		return current
	}
	if strings.EqualFold(strings.TrimSpace(reported), string(models.DiscomCompleted)) {
		return models.DiscomCompleted
	}
	if current == "" {
		return models.DiscomPending
	}
	return current
}

// Apply folds a ledger record into s and reports whether any reconciled field
// changed. Applying the same record again is a no-op.
func Apply(s *models.Settlement, rec ledger.Record, now time.Time) (bool, error) {
	if s.Status == models.SettlementSettled {
		return false, nil
	}

	next := *s
	next.BuyerDiscomStatus = mergeDiscom(s.BuyerDiscomStatus, rec.DiscomStatusBuyer)
	next.SellerDiscomStatus = mergeDiscom(s.SellerDiscomStatus, rec.DiscomStatusSeller)

	if actual, ok := rec.Metric(ledger.MetricActualPushed); ok {
		next.ActualDelivered = &actual
	}
	if next.ActualDelivered != nil {
		deviation := *next.ActualDelivered - next.ContractedQuantity
		next.Deviation = &deviation
	}
	if rec.SettlementCycleID != "" {
		next.SettlementCycleID = rec.SettlementCycleID
	}

	next.Status = Derive(next.BuyerDiscomStatus, next.SellerDiscomStatus)
	if err := Transition(s.Status, next.Status); err != nil {
		return false, err
	}
	if next.Status == models.SettlementSettled && next.SettledAt.IsZero() {
		next.SettledAt = now.UTC()
	}

	if !changed(s, &next) {
		return false, nil
	}
	next.LedgerSyncedAt = now.UTC()
	*s = next
	return true, nil
}

func changed(a, b *models.Settlement) bool {
	return a.BuyerDiscomStatus != b.BuyerDiscomStatus ||
		a.SellerDiscomStatus != b.SellerDiscomStatus ||
		a.Status != b.Status ||
		a.SettlementCycleID != b.SettlementCycleID ||
		!a.SettledAt.Equal(b.SettledAt) ||
		!floatPtrEqual(a.ActualDelivered, b.ActualDelivered) ||
		!floatPtrEqual(a.Deviation, b.Deviation)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
