package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderRequest is the single internal shape of an order, whichever of the
// two wire shapes it arrived in.
type OrderRequest struct {
	BuyerID     string
	SellerID    string
	Lines       []OrderLine
	ClaimSecret string
	ClaimedBy   string
}

type OrderLine struct {
	ItemID      string
	OfferID     string
	Quantity    float64
	Offer       *OfferRef
	ClaimSecret string
}

// OfferRef is an offer embedded in the request by the buyer.
type OfferRef struct {
	ID                 string    `json:"id"`
	Price              *PriceRef `json:"price,omitempty"`
	ApplicableQuantity *float64  `json:"applicableQuantity,omitempty"`
}

type PriceRef struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// secret returns the claim secret for this line, falling back to the
// order-level secret.
func (l OrderLine) secret(req *OrderRequest) string {
	if l.ClaimSecret != "" {
		return l.ClaimSecret
	}
	return req.ClaimSecret
}

// embeddedPrice is the buyer-supplied unit price, or zero.
func (l OrderLine) embeddedPrice() decimal.Decimal {
	if l.Offer == nil || l.Offer.Price == nil {
		return decimal.Zero
	}
	return l.Offer.Price.Value
}

// flexQuantity accepts a bare number, a numeric string, {"count": n} or
// {"selected": {"count": n}}.
type flexQuantity float64

func (q *flexQuantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	switch data[0] {
	case '{':
		var obj struct {
			Count        *flexQuantity `json:"count"`
			UnitQuantity *flexQuantity `json:"unitQuantity"`
			Selected     *struct {
				Count *flexQuantity `json:"count"`
			} `json:"selected"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("invalid quantity: %w", err)
		}
		switch {
		case obj.Count != nil:
			*q = *obj.Count
		case obj.Selected != nil && obj.Selected.Count != nil:
			*q = *obj.Selected.Count
		case obj.UnitQuantity != nil:
			*q = *obj.UnitQuantity
		default:
			*q = 0
		}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("invalid quantity %q", s)
		}
		*q = flexQuantity(f)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("invalid quantity: %w", err)
		}
		*q = flexQuantity(f)
		return nil
	}
}

type wireParty struct {
	ID string `json:"id"`
}

type wireItem struct {
	ID          string       `json:"id"`
	ItemID      string       `json:"itemId"`
	OfferID     string       `json:"offerId"`
	Quantity    flexQuantity `json:"quantity"`
	Offer       *OfferRef    `json:"offer"`
	ClaimSecret string       `json:"claimSecret"`
}

type wireOrderItem struct {
	OrderedItem   string       `json:"orderedItem"`
	Quantity      flexQuantity `json:"quantity"`
	AcceptedOffer *OfferRef    `json:"acceptedOffer"`
	ClaimSecret   string       `json:"claimSecret"`
}

type wireOrder struct {
	Buyer       *wireParty      `json:"buyer"`
	Seller      *wireParty      `json:"seller"`
	OrderItems  []wireOrderItem `json:"orderItems"`
	ClaimSecret string          `json:"claimSecret"`
}

type wireMessage struct {
	Buyer       *wireParty `json:"buyer"`
	Items       []wireItem `json:"items"`
	Order       *wireOrder `json:"order"`
	ClaimSecret string     `json:"claimSecret"`
}

// NormalizeOrder converts either wire shape into an OrderRequest. The buyer
// is order.buyer.id when present, otherwise the requesting bap_id.
func NormalizeOrder(rc Context, raw json.RawMessage) (*OrderRequest, error) {
	var msg wireMessage
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
	}

	req := &OrderRequest{ClaimSecret: msg.ClaimSecret}
	if msg.Buyer != nil {
		req.BuyerID = msg.Buyer.ID
	}

	for _, it := range msg.Items {
		line := OrderLine{
			ItemID:      firstNonEmpty(it.ItemID, it.ID),
			OfferID:     it.OfferID,
			Quantity:    float64(it.Quantity),
			Offer:       it.Offer,
			ClaimSecret: it.ClaimSecret,
		}
		if line.OfferID == "" && it.Offer != nil {
			line.OfferID = it.Offer.ID
		}
		req.Lines = append(req.Lines, line)
	}

	if o := msg.Order; o != nil {
		if o.Buyer != nil && o.Buyer.ID != "" {
			req.BuyerID = o.Buyer.ID
		}
		if o.Seller != nil {
			req.SellerID = o.Seller.ID
		}
		if o.ClaimSecret != "" {
			req.ClaimSecret = o.ClaimSecret
		}
		for _, it := range o.OrderItems {
			line := OrderLine{
				ItemID:      it.OrderedItem,
				Quantity:    float64(it.Quantity),
				Offer:       it.AcceptedOffer,
				ClaimSecret: it.ClaimSecret,
			}
			if it.AcceptedOffer != nil {
				line.OfferID = it.AcceptedOffer.ID
			}
			req.Lines = append(req.Lines, line)
		}
	}

	if req.BuyerID == "" {
		req.BuyerID = rc.BapID
	}
	req.ClaimedBy = req.BuyerID
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
