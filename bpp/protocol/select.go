package protocol

import (
	"context"
	"fmt"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/logger"
)

func (e *Engine) handleSelect(ctx context.Context, req *Request, _ string) (any, error) {
	rc := req.Context

	order, err := NormalizeOrder(rc, req.Message)
	if err != nil {
		return e.reject(rc, ActionSelect, newError(CodeInvalidRequest, "%v", err), nil), nil
	}

	lines, perr, err := e.resolveLines(ctx, order, resolveStored)
	if err != nil {
		logger.LogError("Select lookup failed", err, "transaction_id", rc.TransactionID)
		return e.reject(rc, ActionSelect, newError(CodeInternal, "inventory lookup failed"), nil), nil
	}
	if perr != nil {
		return e.reject(rc, ActionSelect, perr, nil), nil
	}

	if perr := e.checkGifts(order, lines, e.now()); perr != nil {
		return e.reject(rc, ActionSelect, perr, e.draftOrder(order, lines, models.OrderRejected)), nil
	}

	if perr := insufficientLines(lines); perr != nil {
		draft := e.draftOrder(order, lines, models.OrderRejected)
		for i := range draft.OrderItems {
			draft.OrderItems[i].Error = perr
		}
		return e.reject(rc, ActionSelect, perr, draft), nil
	}

	return e.reply(rc, ActionSelect, e.draftOrder(order, lines, models.OrderCreated)), nil
}

// insufficientLines reports every line asking for more than it may take.
func insufficientLines(lines []*resolvedLine) *Error {
	var msg string
	for _, rl := range lines {
		if rl.line.Quantity <= rl.available {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("item %s: requested %g kWh, available %g kWh", rl.item.ID, rl.line.Quantity, rl.available)
	}
	if msg == "" {
		return nil
	}
	return &Error{Code: CodeInsufficientInventory, Message: msg}
}
