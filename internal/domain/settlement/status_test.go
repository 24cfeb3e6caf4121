package settlement

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/ledger"
)

func pending(contracted float64) *models.Settlement {
	return &models.Settlement{
		ID:                 "s-1",
		TransactionID:      "txn-1",
		Role:               models.RoleSeller,
		ContractedQuantity: contracted,
		BuyerDiscomStatus:  models.DiscomPending,
		SellerDiscomStatus: models.DiscomPending,
		Status:             models.SettlementPending,
	}
}

func record(buyer, seller string, actual float64) ledger.Record {
	rec := ledger.Record{TransactionID: "txn-1", DiscomStatusBuyer: buyer, DiscomStatusSeller: seller}
	if actual >= 0 {
		rec.ValidationMetrics = []ledger.ValidationMetric{{MetricType: ledger.MetricActualPushed, MetricValue: actual}}
	}
	return rec
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name   string
		buyer  models.DiscomStatus
		seller models.DiscomStatus
		want   models.SettlementStatus
	}{
		{"NeitherDone", models.DiscomPending, models.DiscomPending, models.SettlementPending},
		{"BuyerOnly", models.DiscomCompleted, models.DiscomPending, models.SettlementBuyerCompleted},
		{"SellerOnly", models.DiscomPending, models.DiscomCompleted, models.SettlementSellerCompleted},
		{"Both", models.DiscomCompleted, models.DiscomCompleted, models.SettlementSettled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.buyer, tt.seller); got != tt.want {
				t.Errorf("Derive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to models.SettlementStatus
		wantErr  bool
	}{
		{models.SettlementPending, models.SettlementBuyerCompleted, false},
		{models.SettlementPending, models.SettlementSettled, false},
		{models.SettlementSellerCompleted, models.SettlementSettled, false},
		{models.SettlementSettled, models.SettlementSettled, false},
		{models.SettlementBuyerCompleted, models.SettlementPending, true},
		{models.SettlementBuyerCompleted, models.SettlementSellerCompleted, true},
		{models.SettlementSettled, models.SettlementPending, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("Transition() error = %v, want ErrIllegalTransition", err)
			}
		})
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := pending(7)
	rec := record("COMPLETED", "PENDING", 6.5)

	changed, err := Apply(s, rec, now)
	if err != nil || !changed {
		t.Fatalf("first Apply() = %v, %v", changed, err)
	}
	snapshot := *s

	changed, err = Apply(s, rec, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	if changed {
		t.Error("second Apply() reported a change")
	}
	if !reflect.DeepEqual(snapshot, *s) {
		t.Errorf("settlement changed on replay: %+v vs %+v", snapshot, *s)
	}
	if *s.ActualDelivered != 6.5 {
		t.Errorf("actual delivered = %v, want 6.5", *s.ActualDelivered)
	}
	if *s.Deviation != -0.5 {
		t.Errorf("deviation = %v, want -0.5", *s.Deviation)
	}
	if s.Status != models.SettlementBuyerCompleted {
		t.Errorf("status = %v", s.Status)
	}
}

func TestApply_IsMonotonic(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := pending(10)

	sequence := []ledger.Record{
		record("PENDING", "COMPLETED", -1),
		record("PENDING", "PENDING", 4),
		record("COMPLETED", "PENDING", 10),
		record("PENDING", "PENDING", 3),
	}
	var seen []models.SettlementStatus
	for i, rec := range sequence {
		if _, err := Apply(s, rec, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Apply(%d) error = %v", i, err)
		}
		seen = append(seen, s.Status)
	}

	want := []models.SettlementStatus{
		models.SettlementSellerCompleted,
		models.SettlementSellerCompleted,
		models.SettlementSettled,
		models.SettlementSettled,
	}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("status sequence = %v, want %v", seen, want)
	}
	if !s.SettledAt.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("settled at = %v", s.SettledAt)
	}
	if *s.ActualDelivered != 10 {
		t.Errorf("a settled row must not be rewritten, actual = %v", *s.ActualDelivered)
	}
}

func TestSummarize(t *testing.T) {
	seller := pending(5)
	buyer := pending(5)
	buyer.Role = models.RoleBuyer
	buyer.Status = models.SettlementBuyerCompleted

	got := Summarize("txn-1", []*models.Settlement{seller, buyer})
	if got.Status != models.SettlementBuyerCompleted || !got.HasLedgerData {
		t.Errorf("Summarize() = %+v", got)
	}
	if Summarize("txn-1", nil) != nil {
		t.Error("Summarize(nil) should be nil")
	}
	if Summarize("txn-1", []*models.Settlement{pending(5)}).HasLedgerData {
		t.Error("fresh settlement should carry no ledger data")
	}
}
