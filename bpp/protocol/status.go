package protocol

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gridshare/energy-bpp/bpp"
	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/logger"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

const (
	SourceSettlement = "SETTLEMENT"
	SourceLedger     = "LEDGER"
	SourceSimulation = "SIMULATION"

	maxSimulatedReadings = 6
	gridLoss             = 0.02
)

func (e *Engine) handleStatus(ctx context.Context, req *Request, _ string) (any, error) {
	rc := req.Context
	now := e.now()

	record, err := e.orders.GetByTransactionID(ctx, rc.TransactionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return e.reject(rc, ActionStatus, newError(CodeOrderNotFound, "no order for transaction %s", rc.TransactionID), nil), nil
	}
	if err != nil {
		logger.LogError("Status order lookup failed", err, "transaction_id", rc.TransactionID)
		return e.reject(rc, ActionStatus, newError(CodeInternal, "order lookup failed"), nil), nil
	}

	rows, err := e.settlements.GetByTransaction(ctx, rc.TransactionID)
	if err != nil {
		logger.LogError("Status settlement lookup failed", err, "transaction_id", rc.TransactionID)
		rows = nil
	}

	fulfillment := deliveryProgress(record, settlement.Summarize(rc.TransactionID, rows), now)

	if fulfillment.State == FulfillmentCompleted && record.Status.CanTransition(models.OrderDelivered) {
		err := e.orders.UpdateStatus(ctx, record.TransactionID, record.Status, models.OrderDelivered)
		switch {
		case err == nil:
			record.Status = models.OrderDelivered
		case errors.Is(err, repositories.ErrStatusConflict):
			if fresh, ferr := e.orders.GetByTransactionID(ctx, record.TransactionID); ferr == nil {
				record.Status = fresh.Status
			}
		default:
			logger.LogError("Failed to mark order delivered", err, "transaction_id", record.TransactionID)
		}
	}

	order := orderFromRecord(record)
	order.Fulfillment = fulfillment
	return e.reply(rc, ActionStatus, order), nil
}

// deliveryProgress reports how much of an order has been delivered, trusting
// a final settlement first, then partial ledger data, then a linear model of
// the delivery window.
func deliveryProgress(order *models.Order, summary *settlement.Summary, now time.Time) *Fulfillment {
	contracted := order.TotalQuantity
	ratio := elapsedRatio(order.ConfirmedAt, now)

	f := &Fulfillment{ContractedQuantity: contracted}
	if summary != nil {
		f.SettlementStatus = string(summary.Status)
		f.SettlementCycleID = summary.SettlementCycleID
	}

	switch {
	case summary != nil && summary.Status == models.SettlementSettled:
		f.Source = SourceSettlement
		f.State = FulfillmentCompleted
		f.Progress = 1
		f.DeliveredQuantity = contracted
		if summary.ActualDelivered != nil {
			f.DeliveredQuantity = *summary.ActualDelivered
		}

	case summary != nil && summary.HasLedgerData:
		f.Source = SourceLedger
		f.State = FulfillmentInProgress
		f.DeliveredQuantity = round3(contracted * ratio)
		if summary.ActualDelivered != nil {
			f.DeliveredQuantity = *summary.ActualDelivered
		}
		if contracted > 0 {
			f.Progress = round3(math.Min(f.DeliveredQuantity/contracted, 1))
		}

	default:
		f.Source = SourceSimulation
		f.DeliveredQuantity = round3(contracted * ratio)
		f.Progress = round3(ratio)
		f.MeterReadings = simulateReadings(order.ConfirmedAt, now, contracted)
		f.State = FulfillmentInProgress
		if ratio >= 1 {
			f.State = FulfillmentCompleted
		}
	}
	return f
}

// elapsedRatio is the share of the delivery window that has passed, in [0,1].
func elapsedRatio(confirmedAt, now time.Time) float64 {
	if confirmedAt.IsZero() {
		return 0
	}
	ratio := float64(now.Sub(confirmedAt)) / float64(bpp.DeliveryWindow)
	return math.Max(0, math.Min(ratio, 1))
}

// simulateReadings synthesizes the most recent hourly meter readings since
// confirmation, at most maxSimulatedReadings of them.
func simulateReadings(confirmedAt, now time.Time, contracted float64) []MeterReading {
	if confirmedAt.IsZero() {
		return nil
	}

	windowHours := int(bpp.DeliveryWindow / time.Hour)
	hours := int(now.Sub(confirmedAt) / time.Hour)
	if hours > windowHours {
		hours = windowHours
	}
	if hours <= 0 {
		return nil
	}

	hourly := contracted / float64(windowHours)
	first := max(1, hours-maxSimulatedReadings+1)

	readings := make([]MeterReading, 0, hours-first+1)
	for h := first; h <= hours; h++ {
		readings = append(readings, MeterReading{
			Timestamp:   confirmedAt.Add(time.Duration(h) * time.Hour).UTC(),
			ProducedKWh: round3(hourly),
			ConsumedKWh: round3(hourly * (1 - gridLoss)),
		})
	}
	return readings
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
