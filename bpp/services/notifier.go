package services

import (
	"context"
	"log/slog"
	"time"
)

type callbackPoster interface {
	PostJSON(ctx context.Context, url string, payload any) error
}

type Notification struct {
	Event         string    `json:"event"`
	SellerID      string    `json:"sellerId"`
	BuyerID       string    `json:"buyerId,omitempty"`
	TransactionID string    `json:"transactionId"`
	Quantity      float64   `json:"quantity,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}

const (
	EventOrderConfirmed = "ORDER_CONFIRMED"
	EventGiftClaimed    = "GIFT_CLAIMED"
)

// Notifier forwards seller notifications to a webhook. Delivery is best
// effort: failures are logged and never reach the caller.
type Notifier struct {
	poster     callbackPoster
	webhookURL string
}

func NewNotifier(poster callbackPoster, webhookURL string) *Notifier {
	return &Notifier{poster: poster, webhookURL: webhookURL}
}

func (n *Notifier) Notify(ctx context.Context, note Notification) {
	if n == nil || n.webhookURL == "" {
		return
	}
	if note.At.IsZero() {
		note.At = time.Now().UTC()
	}

	if err := n.poster.PostJSON(ctx, n.webhookURL, note); err != nil {
		slog.Warn("Seller notification failed",
			slog.String("type", "sys"),
			slog.String("event", note.Event),
			slog.String("transaction_id", note.TransactionID),
			slog.Any("error", err),
		)
	}
}
