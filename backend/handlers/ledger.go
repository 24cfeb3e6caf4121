package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gridshare/energy-bpp/backend/models"
	"github.com/gridshare/energy-bpp/backend/utils"
	"github.com/gridshare/energy-bpp/bpp/ledger"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

// ledgerPush is either a single record or a batch under "records".
type ledgerPush struct {
	ledger.Record
	Records []ledger.Record `json:"records"`
}

// LedgerCallback applies records pushed by the ledger to local settlements.
// Records for unknown transactions are skipped.
func LedgerCallback(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var push ledgerPush
		if err := json.Unmarshal(c.Body(), &push); err != nil {
			return utils.SendBadRequest(c, "Invalid ledger payload", map[string]string{"body": err.Error()})
		}

		records := push.Records
		if len(records) == 0 && push.TransactionID != "" {
			records = []ledger.Record{push.Record}
		}
		if len(records) == 0 {
			return utils.SendBadRequest(c, "No ledger records in payload", nil)
		}

		var applied, skipped int
		for _, rec := range records {
			if strings.TrimSpace(rec.TransactionID) == "" {
				skipped++
				continue
			}

			_, err := webApp.Settlements.UpdateFromLedger(c.UserContext(), rec.TransactionID, rec)
			switch {
			case err == nil:
				applied++
			case errors.Is(err, settlement.ErrNotFound):
				skipped++
			default:
				slog.Error("Failed to apply ledger record",
					slog.String("type", "ledger"),
					slog.String("transaction_id", rec.TransactionID),
					slog.Any("error", err),
				)
				return utils.SendInternalServerError(c, "Failed to apply ledger record")
			}
		}

		return utils.SendSuccess(c, fiber.Map{"applied": applied, "skipped": skipped}, "Ledger records processed")
	}
}

func LedgerHealth(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health, err := webApp.Settlements.GetLedgerHealth(c.UserContext())
		if errors.Is(err, settlement.ErrNoLedger) {
			return utils.SendServiceUnavailable(c, "Ledger is not configured")
		}
		if err != nil {
			slog.Warn("Ledger health check failed", slog.String("type", "ledger"), slog.Any("error", err))
			return utils.SendError(c, fiber.StatusBadGateway, "LEDGER_UNAVAILABLE", err.Error(), nil)
		}

		return utils.SendSuccess(c, fiber.Map{
			"status":     health.Status,
			"version":    health.Version,
			"latency_ms": health.Latency.Milliseconds(),
		}, "Ledger reachable")
	}
}

// LedgerTrades lists the ledger's trades for a buyer, seller or transaction.
func LedgerTrades(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := ledger.TradeQuery{
			TransactionID: c.Query("transaction_id"),
			BuyerID:       c.Query("buyer_id"),
			SellerID:      c.Query("seller_id"),
			Limit:         c.QueryInt("limit", 50),
			Offset:        c.QueryInt("offset", 0),
		}

		records, err := webApp.Settlements.QueryTrades(c.UserContext(), query)
		if errors.Is(err, settlement.ErrNoLedger) {
			return utils.SendServiceUnavailable(c, "Ledger is not configured")
		}
		if err != nil {
			slog.Warn("Ledger trade query failed", slog.String("type", "ledger"), slog.Any("error", err))
			return utils.SendError(c, fiber.StatusBadGateway, "LEDGER_UNAVAILABLE", err.Error(), nil)
		}
		return utils.SendSuccess(c, records, "")
	}
}

func SettlementByTransaction(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		txID := c.Params("transaction_id")

		rows, err := webApp.Settlements.GetByTransaction(c.UserContext(), txID)
		if err != nil {
			slog.Error("Failed to load settlement", slog.String("type", "db"), slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to load settlement")
		}
		if len(rows) == 0 {
			return utils.SendNotFound(c, "No settlement for transaction "+txID)
		}

		return utils.SendSuccess(c, models.NewSettlementView(txID, rows), "")
	}
}

// ReconcileSettlement pulls the ledger's record for one transaction now.
func ReconcileSettlement(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		txID := c.Params("transaction_id")

		rows, err := webApp.Settlements.Reconcile(c.UserContext(), txID)
		switch {
		case errors.Is(err, settlement.ErrNoLedger):
			return utils.SendServiceUnavailable(c, "Ledger is not configured")
		case errors.Is(err, ledger.ErrRecordNotFound), errors.Is(err, settlement.ErrNotFound):
			return utils.SendNotFound(c, "Nothing to reconcile for transaction "+txID)
		case err != nil:
			slog.Error("Reconcile failed", slog.String("type", "ledger"), slog.Any("error", err))
			return utils.SendError(c, fiber.StatusBadGateway, "LEDGER_UNAVAILABLE", err.Error(), nil)
		}

		return utils.SendSuccess(c, models.NewSettlementView(txID, rows), "Settlement reconciled")
	}
}

func SellerEarnings(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		earnings, err := webApp.Orders.GetSellerEarnings(c.UserContext(), c.Params("id"))
		if err != nil {
			slog.Error("Failed to load earnings", slog.String("type", "db"), slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to load earnings")
		}
		return utils.SendSuccess(c, earnings, "")
	}
}
