package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/gift"
)

// resolveMode selects how strictly buyer-supplied offer data is trusted.
type resolveMode int

const (
	// resolveStored prices every line from the persisted offer. The embedded
	// offer only counts for items that have no offers at all.
	resolveStored resolveMode = iota
	// resolveQuoted honours a positive embedded price.
	resolveQuoted
	// resolveBooking requires every line to land on a persisted offer of
	// its item.
	resolveBooking
)

// resolvedLine is an order line joined with what the store knows about it.
type resolvedLine struct {
	line  OrderLine
	item  *models.Item
	offer *models.Offer
	// available is what the line may take: the persisted offer's applicable
	// quantity, else the embedded offer's, else the item's.
	available float64
	unitPrice decimal.Decimal
	currency  string
}

func (rl *resolvedLine) offerID() string {
	if rl.offer == nil {
		return ""
	}
	return rl.offer.ID
}

func (rl *resolvedLine) isGift() bool {
	return rl.offer != nil && rl.offer.IsGift
}

// resolveLines looks up every line of req. Lines whose item is unknown are
// dropped. A protocol error is returned for malformed lines; a plain error
// means the store failed.
func (e *Engine) resolveLines(ctx context.Context, req *OrderRequest, mode resolveMode) ([]*resolvedLine, *Error, error) {
	if len(req.Lines) == 0 {
		return nil, newError(CodeEmptyOrder, "order has no items"), nil
	}

	lines := make([]*resolvedLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ItemID == "" {
			continue
		}
		if line.Quantity <= 0 {
			return nil, newError(CodeInvalidRequest, "item %s: quantity must be positive", line.ItemID), nil
		}

		rl, perr, err := e.resolveLine(ctx, req, line, mode)
		if err != nil || perr != nil {
			return nil, perr, err
		}
		if rl != nil {
			lines = append(lines, rl)
		}
	}

	if len(lines) == 0 {
		return nil, newError(CodeItemNotFound, "none of the requested items exist"), nil
	}
	return lines, nil, nil
}

func (e *Engine) resolveLine(ctx context.Context, req *OrderRequest, line OrderLine, mode resolveMode) (*resolvedLine, *Error, error) {
	item, err := e.inventory.GetItem(ctx, line.ItemID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rl := &resolvedLine{line: line, item: item, available: item.AvailableQuantity}

	if line.OfferID != "" {
		offer, err := e.inventory.GetOffer(ctx, line.OfferID)
		switch {
		case err == nil && offer.ItemID == item.ID:
			rl.offer = offer
		case err != nil && !errors.Is(err, repositories.ErrNotFound):
			return nil, nil, err
		case mode == resolveBooking:
			return nil, newError(CodeOfferNotFound, "item %s has no offer %s", item.ID, line.OfferID), nil
		}
	}

	if rl.offer == nil {
		offers, err := e.inventory.GetOffersByItem(ctx, item.ID)
		if err != nil {
			return nil, nil, err
		}
		rl.offer = defaultOffer(offers, line.secret(req))
	}
	if rl.offer == nil && mode == resolveBooking {
		return nil, newError(CodeOfferNotFound, "item %s has no offer to book against", item.ID), nil
	}

	switch {
	case rl.offer != nil:
		rl.available = rl.offer.ApplicableQuantity
	case line.Offer != nil && line.Offer.ApplicableQuantity != nil:
		rl.available = *line.Offer.ApplicableQuantity
	}

	rl.currency = e.currency(rl.offer)
	embedded := line.embeddedPrice()
	switch {
	case rl.offer == nil || (mode == resolveQuoted && embedded.IsPositive()):
		rl.unitPrice = embedded
		if line.Offer != nil && line.Offer.Price != nil && line.Offer.Price.Currency != "" {
			rl.currency = line.Offer.Price.Currency
		}
	default:
		rl.unitPrice = rl.offer.Price
	}
	return rl, nil, nil
}

// defaultOffer picks the offer a line without a usable offer id books
// against: the first regular offer with stock, then any regular offer. An
// item carrying only gifts resolves to its gift, preferring the one the
// secret opens, so the claim is still validated.
func defaultOffer(offers []*models.Offer, secret string) *models.Offer {
	var regular, gifted, opened *models.Offer
	for _, o := range offers {
		switch {
		case o.IsGift:
			if gifted == nil {
				gifted = o
			}
			if opened == nil && secret != "" && gift.Verify(secret, o.ClaimVerifier) {
				opened = o
			}
		case !o.Exhausted():
			return o
		case regular == nil:
			regular = o
		}
	}

	switch {
	case regular != nil:
		return regular
	case opened != nil:
		return opened
	}
	return gifted
}

// checkGifts validates the claim of every gift-backed line and returns the
// first failure.
func (e *Engine) checkGifts(req *OrderRequest, lines []*resolvedLine, now time.Time) *Error {
	for _, rl := range lines {
		if !rl.isGift() {
			continue
		}
		if cerr := gift.ValidateClaim(rl.offer, rl.line.secret(req), now); cerr != nil {
			return &Error{Code: cerr.Code, Message: cerr.Message}
		}
	}
	return nil
}

type quote struct {
	Quantity float64
	Energy   decimal.Decimal
	Wheeling decimal.Decimal
	Total    decimal.Decimal
	Currency string
}

// quote prices the lines: energy is the sum of quantity times unit price and
// wheeling is the configured per-kWh rate on the total quantity.
func (e *Engine) quote(lines []*resolvedLine) quote {
	q := quote{Energy: decimal.Zero, Currency: e.cfg.Currency}
	for i, rl := range lines {
		q.Quantity += rl.line.Quantity
		q.Energy = q.Energy.Add(rl.unitPrice.Mul(decimal.NewFromFloat(rl.line.Quantity)))
		if i == 0 && rl.currency != "" {
			q.Currency = rl.currency
		}
	}
	q.Energy = q.Energy.Round(4)
	q.Wheeling = e.cfg.Wheeling().Mul(decimal.NewFromFloat(q.Quantity)).Round(4)
	q.Total = q.Energy.Add(q.Wheeling)
	return q
}

func (q quote) orderValue() *OrderValue {
	return &OrderValue{
		Value:    q.Total,
		Currency: q.Currency,
		Components: []PriceComponent{
			{Type: ComponentEnergy, Value: q.Energy, Currency: q.Currency, Description: fmt.Sprintf("Energy for %g %s", q.Quantity, UnitKWh)},
			{Type: ComponentWheeling, Value: q.Wheeling, Currency: q.Currency, Description: "Wheeling charges"},
		},
	}
}

func (rl *resolvedLine) orderItem() OrderItem {
	oi := OrderItem{
		OrderedItem: rl.item.ID,
		Quantity:    Quantity{Count: rl.line.Quantity, Unit: UnitKWh},
	}
	if rl.offer != nil || rl.line.Offer != nil {
		oi.AcceptedOffer = &AcceptedOffer{
			ID:                 firstNonEmpty(rl.offerID(), rl.line.OfferID),
			Price:              Price{Value: rl.unitPrice, Currency: rl.currency},
			ApplicableQuantity: rl.available,
			IsGift:             rl.isGift(),
		}
	}
	return oi
}

// draftOrder renders resolved lines as a not yet persisted order.
func (e *Engine) draftOrder(req *OrderRequest, lines []*resolvedLine, status models.OrderStatus) *Order {
	order := &Order{
		Status:     string(status),
		Buyer:      &Party{ID: req.BuyerID},
		OrderItems: make([]OrderItem, 0, len(lines)),
	}
	if seller := sellerOf(req, lines); seller != "" {
		order.Seller = &Party{ID: seller}
	}
	for _, rl := range lines {
		order.OrderItems = append(order.OrderItems, rl.orderItem())
	}
	return order
}

func sellerOf(req *OrderRequest, lines []*resolvedLine) string {
	for _, rl := range lines {
		if rl.item.SellerID != "" {
			return rl.item.SellerID
		}
	}
	return req.SellerID
}

// orderFromRecord renders a persisted order.
func orderFromRecord(o *models.Order) *Order {
	out := &Order{
		ID:         o.ID,
		Status:     string(o.Status),
		Seller:     &Party{ID: o.SellerID},
		Buyer:      &Party{ID: o.BuyerID},
		OrderItems: make([]OrderItem, 0, len(o.Lines)),
		OrderValue: quote{
			Quantity: o.TotalQuantity,
			Energy:   o.EnergyValue,
			Wheeling: o.WheelingFee,
			Total:    o.TotalValue,
			Currency: o.Currency,
		}.orderValue(),
	}
	for _, l := range o.Lines {
		out.OrderItems = append(out.OrderItems, OrderItem{
			OrderedItem: l.ItemID,
			Quantity:    Quantity{Count: l.Quantity, Unit: UnitKWh},
			AcceptedOffer: &AcceptedOffer{
				ID:     l.OfferID,
				Price:  Price{Value: l.UnitPrice, Currency: o.Currency},
				IsGift: l.IsGift,
			},
		})
	}
	return out
}
