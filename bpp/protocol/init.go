package protocol

import (
	"context"

	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/logger"
)

func (e *Engine) handleInit(ctx context.Context, req *Request, _ string) (any, error) {
	rc := req.Context

	order, err := NormalizeOrder(rc, req.Message)
	if err != nil {
		return e.reject(rc, ActionInit, newError(CodeInvalidRequest, "%v", err), nil), nil
	}

	lines, perr, err := e.resolveLines(ctx, order, resolveQuoted)
	if err != nil {
		logger.LogError("Init lookup failed", err, "transaction_id", rc.TransactionID)
		return e.reject(rc, ActionInit, newError(CodeInternal, "inventory lookup failed"), nil), nil
	}
	if perr != nil {
		return e.reject(rc, ActionInit, perr, nil), nil
	}

	if perr := e.checkGifts(order, lines, e.now()); perr != nil {
		return e.reject(rc, ActionInit, perr, e.draftOrder(order, lines, models.OrderRejected)), nil
	}

	draft := e.draftOrder(order, lines, models.OrderCreated)
	draft.OrderValue = e.quote(lines).orderValue()
	return e.reply(rc, ActionInit, draft), nil
}
