// Package protocol implements the seller side of the trading negotiation:
// select, init, confirm and status, plus the template-driven post-order
// actions. Every inbound request is acknowledged synchronously and answered
// later through an on_<action> callback.
package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gridshare/energy-bpp/bpp"
	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/logger"
	"github.com/gridshare/energy-bpp/bpp/services"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

const (
	ActionSelect  = "select"
	ActionInit    = "init"
	ActionConfirm = "confirm"
	ActionStatus  = "status"
	ActionCancel  = "cancel"
	ActionUpdate  = "update"
	ActionRating  = "rating"
	ActionSupport = "support"
	ActionTrack   = "track"
)

// TemplateActions are answered from stored callback templates.
var TemplateActions = []string{ActionCancel, ActionUpdate, ActionRating, ActionSupport, ActionTrack}

type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type SettlementRecorder interface {
	CreateSettlement(ctx context.Context, params settlement.CreateParams) (*models.Settlement, error)
	GetByTransaction(ctx context.Context, transactionID string) ([]*models.Settlement, error)
}

type CatalogSink interface {
	Publish(ctx context.Context, snapshot *models.CatalogSnapshot) error
}

type TemplateSource interface {
	Lookup(ctx context.Context, domain, action, persona string) (map[string]any, error)
}

type CallbackPoster interface {
	PostJSON(ctx context.Context, url string, payload any) error
}

type SellerNotifier interface {
	Notify(ctx context.Context, note services.Notification)
}

// Deps are the collaborators of an Engine. Catalogs, Templates and Notifier
// are optional.
type Deps struct {
	Inventory   repositories.InventoryRepository
	Orders      repositories.OrderRepository
	Settlements SettlementRecorder
	Tx          Transactor
	Poster      CallbackPoster
	Scheduler   Scheduler
	Catalogs    CatalogSink
	Templates   TemplateSource
	Notifier    SellerNotifier
}

type Engine struct {
	cfg         bpp.ProtocolConfig
	inventory   repositories.InventoryRepository
	orders      repositories.OrderRepository
	settlements SettlementRecorder
	tx          Transactor
	poster      CallbackPoster
	scheduler   Scheduler
	catalogs    CatalogSink
	templates   TemplateSource
	notifier    SellerNotifier
	now         func() time.Time
}

func NewEngine(cfg bpp.ProtocolConfig, deps Deps) *Engine {
	return &Engine{
		cfg:         cfg,
		inventory:   deps.Inventory,
		orders:      deps.Orders,
		settlements: deps.Settlements,
		tx:          deps.Tx,
		poster:      deps.Poster,
		scheduler:   deps.Scheduler,
		catalogs:    deps.Catalogs,
		templates:   deps.Templates,
		notifier:    deps.Notifier,
		now:         time.Now,
	}
}

// handlerFunc does the asynchronous part of an action. A nil payload means
// no callback is sent.
type handlerFunc func(ctx context.Context, req *Request, persona string) (any, error)

func (e *Engine) handler(action string) (handlerFunc, bool) {
	switch action {
	case ActionSelect:
		return e.handleSelect, true
	case ActionInit:
		return e.handleInit, true
	case ActionConfirm:
		return e.handleConfirm, true
	case ActionStatus:
		return e.handleStatus, true
	}
	for _, a := range TemplateActions {
		if a == action {
			return e.templateHandler(action), true
		}
	}
	return nil, false
}

// Handle validates the request just enough to know a callback can be
// delivered and returns the acknowledgement together with a start func.
// Nothing is scheduled until start is called, so the caller can write the
// ACK first. start is a no-op for a NACK and only schedules once.
func (e *Engine) Handle(_ context.Context, action string, req *Request, persona string) (Response, func()) {
	action = strings.TrimPrefix(strings.ToLower(action), "/")

	fn, ok := e.handler(action)
	if !ok {
		return nack(CodeInvalidRequest, fmt.Sprintf("unsupported action %q", action)), noStart
	}
	if req == nil {
		return nack(CodeInvalidRequest, "request body is required"), noStart
	}
	if req.Context.TransactionID == "" {
		logger.LogAPI(action, "", NackStatus)
		return nack(CodeInvalidContext, "context.transaction_id is required"), noStart
	}

	target, ok := callbackURL(e.cfg.CallbackEndpoint, req.Context.BapURI, action)
	if !ok {
		logger.LogAPI(action, req.Context.TransactionID, NackStatus)
		return nack(CodeInvalidContext, "no callback endpoint: context.bap_uri is missing or invalid"), noStart
	}

	task := func(ctx context.Context) error {
		payload, err := fn(ctx, req, persona)
		if err != nil {
			return err
		}
		if payload == nil {
			return nil
		}
		return e.deliver(ctx, action, target, payload)
	}

	logger.LogAPI(action, req.Context.TransactionID, AckStatus)
	return ack(), sync.OnceFunc(func() {
		e.scheduler.Go(action+":"+req.Context.TransactionID, task)
	})
}

func noStart() {}

func (e *Engine) deliver(ctx context.Context, action, target string, payload any) error {
	start := time.Now()
	err := e.poster.PostJSON(ctx, target, payload)
	logger.LogCallback("on_"+action, target, time.Since(start), err)
	return err
}

// reject builds a callback carrying a protocol error.
func (e *Engine) reject(rc Context, action string, perr *Error, order *Order) *Callback {
	cb := &Callback{Context: e.callbackContext(rc, action), Error: perr}
	if order != nil {
		order.Status = string(models.OrderRejected)
		cb.Message = OrderMessage{Order: order}
	}
	return cb
}

func (e *Engine) reply(rc Context, action string, order *Order) *Callback {
	return &Callback{Context: e.callbackContext(rc, action), Message: OrderMessage{Order: order}}
}

func (e *Engine) currency(offer *models.Offer) string {
	if offer != nil && offer.Currency != "" {
		return offer.Currency
	}
	return e.cfg.Currency
}
