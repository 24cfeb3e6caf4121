package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/gift"
	"github.com/gridshare/energy-bpp/bpp/logger"
	"github.com/gridshare/energy-bpp/bpp/services"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

const publishConcurrency = 4

func (e *Engine) handleConfirm(ctx context.Context, req *Request, _ string) (any, error) {
	rc := req.Context
	now := e.now()

	order, err := NormalizeOrder(rc, req.Message)
	if err != nil {
		return e.reject(rc, ActionConfirm, newError(CodeInvalidRequest, "%v", err), nil), nil
	}

	lines, perr, err := e.resolveLines(ctx, order, resolveBooking)
	if err != nil {
		logger.LogError("Confirm lookup failed", err, "transaction_id", rc.TransactionID)
		return e.reject(rc, ActionConfirm, newError(CodeInternal, "inventory lookup failed"), nil), nil
	}
	if perr != nil {
		return e.reject(rc, ActionConfirm, perr, nil), nil
	}

	// Nothing below mutates state until every check has passed.
	if perr := e.checkGifts(order, lines, now); perr != nil {
		return e.reject(rc, ActionConfirm, perr, e.draftOrder(order, lines, models.OrderRejected)), nil
	}

	existing, err := e.orders.GetByTransactionID(ctx, rc.TransactionID)
	switch {
	case err == nil:
		// Replayed confirm: answer with what was already booked.
		return e.reply(rc, ActionConfirm, orderFromRecord(existing)), nil
	case !errors.Is(err, repositories.ErrNotFound):
		logger.LogError("Confirm order lookup failed", err, "transaction_id", rc.TransactionID)
		return e.reject(rc, ActionConfirm, newError(CodeInternal, "order lookup failed"), nil), nil
	}

	if perr := shortfall(lines); perr != nil {
		return e.reject(rc, ActionConfirm, perr, e.draftOrder(order, lines, models.OrderRejected)), nil
	}

	q := e.quote(lines)
	record := e.newOrderRecord(rc, order, lines, q, now)

	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, rl := range lines {
			if err := e.inventory.Decrement(ctx, rl.item.ID, rl.offerID(), rl.line.Quantity); err != nil {
				return err
			}
		}

		st, err := e.settlements.CreateSettlement(ctx, settlement.CreateParams{
			TransactionID:      rc.TransactionID,
			OrderItemID:        lines[0].item.ID,
			ContractedQuantity: q.Quantity,
			Role:               models.RoleSeller,
			CounterpartyID:     order.BuyerID,
		})
		if err != nil {
			return err
		}
		record.SettlementID = st.ID

		if err := e.orders.Create(ctx, record); err != nil {
			return err
		}

		for _, rl := range lines {
			if !rl.isGift() {
				continue
			}
			if err := e.inventory.ClaimGift(ctx, rl.offer.ID, order.ClaimedBy, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return e.reject(rc, ActionConfirm, e.confirmFailure(ctx, order, lines, err), e.draftOrder(order, lines, models.OrderRejected)), nil
	}

	e.republish(ctx, lines, now)
	if e.notifier != nil {
		// the seller webhook must not hold up on_confirm
		e.scheduler.Go("notify:"+rc.TransactionID, func(ctx context.Context) error {
			e.notifyConfirmed(ctx, record, lines, q)
			return nil
		})
	}

	return e.reply(rc, ActionConfirm, orderFromRecord(record)), nil
}

func (e *Engine) newOrderRecord(rc Context, req *OrderRequest, lines []*resolvedLine, q quote, now time.Time) *models.Order {
	record := &models.Order{
		ID:            uuid.NewString(),
		TransactionID: rc.TransactionID,
		BapID:         rc.BapID,
		BppID:         firstNonEmpty(e.cfg.BppID, rc.BppID),
		BuyerID:       req.BuyerID,
		SellerID:      sellerOf(req, lines),
		TotalQuantity: q.Quantity,
		EnergyValue:   q.Energy,
		WheelingFee:   q.Wheeling,
		TotalValue:    q.Total,
		Currency:      q.Currency,
		Status:        models.OrderScheduled,
		ConfirmedAt:   now.UTC(),
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	for _, rl := range lines {
		record.Lines = append(record.Lines, models.OrderLine{
			ItemID:    rl.item.ID,
			OfferID:   rl.offerID(),
			Quantity:  rl.line.Quantity,
			UnitPrice: rl.unitPrice,
			IsGift:    rl.isGift(),
		})
	}
	return record
}

// shortfall sums the requested quantity per item and per offer across all
// lines and compares each total with what is in stock.
func shortfall(lines []*resolvedLine) *Error {
	type tally struct {
		entity    string
		id        string
		requested float64
		available float64
	}
	var order []string
	totals := make(map[string]*tally)
	add := func(entity, id string, qty, available float64) {
		key := entity + ":" + id
		t, ok := totals[key]
		if !ok {
			t = &tally{entity: entity, id: id, available: available}
			totals[key] = t
			order = append(order, key)
		}
		t.requested += qty
	}

	for _, rl := range lines {
		add("item", rl.item.ID, rl.line.Quantity, rl.item.AvailableQuantity)
		if rl.offer != nil {
			add("offer", rl.offer.ID, rl.line.Quantity, rl.offer.ApplicableQuantity)
		}
	}

	var msg string
	for _, key := range order {
		t := totals[key]
		if t.requested <= t.available {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s %s: requested %g kWh, available %g kWh", t.entity, t.id, t.requested, t.available)
	}
	if msg == "" {
		return nil
	}
	return &Error{Code: CodeInsufficientInventory, Message: msg}
}

// confirmFailure maps an error from the confirm transaction to the protocol
// error sent back. The transaction has been rolled back at this point.
func (e *Engine) confirmFailure(ctx context.Context, req *OrderRequest, lines []*resolvedLine, err error) *Error {
	var insufficient *repositories.InsufficientError
	switch {
	case errors.As(err, &insufficient):
		return newError(CodeInsufficientInventory, "%s %s: requested %g kWh, available %g kWh",
			insufficient.Entity, insufficient.ID, insufficient.Requested, insufficient.Available)
	case errors.Is(err, repositories.ErrGiftUnavailable):
		// Lost a race for the gift; re-read it to report why.
		for _, rl := range lines {
			if !rl.isGift() {
				continue
			}
			offer, gerr := e.inventory.GetOffer(ctx, rl.offer.ID)
			if gerr != nil {
				continue
			}
			if cerr := gift.ValidateClaim(offer, rl.line.secret(req), e.now()); cerr != nil {
				return &Error{Code: cerr.Code, Message: cerr.Message}
			}
		}
		return newError(gift.CodeAlreadyClaimed, "gift has already been claimed")
	case errors.Is(err, repositories.ErrNotFound):
		return newError(CodeItemNotFound, "%v", err)
	default:
		logger.LogError("Confirm transaction failed", err)
		return newError(CodeInternal, "order could not be confirmed")
	}
}

// republish rebuilds and pushes every catalog the order touched. Failures are
// logged; the order stands regardless.
func (e *Engine) republish(ctx context.Context, lines []*resolvedLine, now time.Time) {
	if e.catalogs == nil {
		return
	}

	seen := make(map[string]struct{})
	for _, rl := range lines {
		if rl.item.CatalogID != "" {
			seen[rl.item.CatalogID] = struct{}{}
		}
		if rl.offer != nil && rl.offer.CatalogID != "" {
			seen[rl.offer.CatalogID] = struct{}{}
		}
	}
	catalogIDs := make([]string, 0, len(seen))
	for id := range seen {
		catalogIDs = append(catalogIDs, id)
	}
	sort.Strings(catalogIDs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(publishConcurrency)
	for _, id := range catalogIDs {
		g.Go(func() error {
			snapshot, err := e.inventory.RebuildCatalog(gctx, id, now)
			if err != nil {
				logger.LogError("Catalog rebuild failed", err, "catalog_id", id)
				return nil
			}
			if err := e.catalogs.Publish(gctx, snapshot); err != nil {
				logger.LogError("Catalog publish failed", err, "catalog_id", id)
			}
			return nil
		})
	}
	g.Wait()
}

func (e *Engine) notifyConfirmed(ctx context.Context, record *models.Order, lines []*resolvedLine, q quote) {
	e.notifier.Notify(ctx, services.Notification{
		Event:         services.EventOrderConfirmed,
		SellerID:      record.SellerID,
		BuyerID:       record.BuyerID,
		TransactionID: record.TransactionID,
		Quantity:      record.TotalQuantity,
		Amount:        q.Total.StringFixed(2),
		Currency:      q.Currency,
		Message:       fmt.Sprintf("Order confirmed: %g kWh for %s %s", record.TotalQuantity, q.Total.StringFixed(2), q.Currency),
	})

	for _, rl := range lines {
		if !rl.isGift() {
			continue
		}
		e.notifier.Notify(ctx, services.Notification{
			Event:         services.EventGiftClaimed,
			SellerID:      record.SellerID,
			BuyerID:       record.BuyerID,
			TransactionID: record.TransactionID,
			Quantity:      rl.line.Quantity,
			Message:       fmt.Sprintf("Your gift of %g kWh was claimed", rl.line.Quantity),
		})
	}
}
