package protocol

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrder(t *testing.T) {
	rc := Context{BapID: "bap.example"}

	tests := []struct {
		name    string
		message string
		buyer   string
		lines   []OrderLine
		secret  string
	}{
		{
			name:    "flat item list",
			message: `{"items":[{"id":"item-1","offerId":"offer-1","quantity":3}]}`,
			buyer:   "bap.example",
			lines:   []OrderLine{{ItemID: "item-1", OfferID: "offer-1", Quantity: 3}},
		},
		{
			name:    "item id alias and embedded offer",
			message: `{"buyer":{"id":"b-2"},"items":[{"itemId":"item-1","quantity":{"count":"2.5"},"offer":{"id":"offer-9"}}]}`,
			buyer:   "b-2",
			lines:   []OrderLine{{ItemID: "item-1", OfferID: "offer-9", Quantity: 2.5, Offer: &OfferRef{ID: "offer-9"}}},
		},
		{
			name: "order shaped",
			message: `{"order":{"buyer":{"id":"buyer-1"},"claimSecret":"s3cret","orderItems":[
				{"orderedItem":"item-1","quantity":{"selected":{"count":4}},"acceptedOffer":{"id":"offer-1"}},
				{"orderedItem":"item-2","quantity":1,"claimSecret":"line"}]}}`,
			buyer: "buyer-1",
			lines: []OrderLine{
				{ItemID: "item-1", OfferID: "offer-1", Quantity: 4, Offer: &OfferRef{ID: "offer-1"}},
				{ItemID: "item-2", Quantity: 1, ClaimSecret: "line"},
			},
			secret: "s3cret",
		},
		{
			name:    "empty message",
			message: ``,
			buyer:   "bap.example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NormalizeOrder(rc, json.RawMessage(tt.message))
			require.NoError(t, err)
			assert.Equal(t, tt.buyer, req.BuyerID)
			assert.Equal(t, tt.buyer, req.ClaimedBy)
			assert.Equal(t, tt.secret, req.ClaimSecret)
			assert.Equal(t, tt.lines, req.Lines)
		})
	}
}

func TestNormalizeOrder_Rejects(t *testing.T) {
	_, err := NormalizeOrder(Context{}, json.RawMessage(`{"items":[{"id":"x","quantity":"lots"}]}`))
	assert.Error(t, err)

	_, err = NormalizeOrder(Context{}, json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestOrderLine_SecretAndPrice(t *testing.T) {
	req := &OrderRequest{ClaimSecret: "order"}

	assert.Equal(t, "order", OrderLine{}.secret(req))
	assert.Equal(t, "line", OrderLine{ClaimSecret: "line"}.secret(req))

	line := OrderLine{Offer: &OfferRef{Price: &PriceRef{Value: decimal.RequireFromString("7.25")}}}
	assert.True(t, decimal.RequireFromString("7.25").Equal(line.embeddedPrice()))
	assert.True(t, OrderLine{}.embeddedPrice().IsZero())
}
