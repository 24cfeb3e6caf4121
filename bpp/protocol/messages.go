package protocol

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AckStatus  = "ACK"
	NackStatus = "NACK"

	UnitKWh = "kWh"

	ComponentEnergy   = "ENERGY"
	ComponentWheeling = "WHEELING_FEE"

	FulfillmentCompleted  = "COMPLETED"
	FulfillmentInProgress = "INPROGRESS"
)

// Request is an inbound protocol message. The message body is kept raw
// because its shape depends on the action.
type Request struct {
	Context Context         `json:"context"`
	Message json.RawMessage `json:"message"`
}

type Ack struct {
	Status string `json:"status"`
}

type AckMessage struct {
	Ack Ack `json:"ack"`
}

// Response is the synchronous answer to an inbound request.
type Response struct {
	Message AckMessage `json:"message"`
	Error   *Error     `json:"error,omitempty"`
}

func (r Response) Acked() bool {
	return r.Message.Ack.Status == AckStatus
}

func ack() Response {
	return Response{Message: AckMessage{Ack: Ack{Status: AckStatus}}}
}

func nack(code, message string) Response {
	return Response{
		Message: AckMessage{Ack: Ack{Status: NackStatus}},
		Error:   &Error{Code: code, Message: message},
	}
}

// Callback is the asynchronous on_<action> message sent to the counterparty.
type Callback struct {
	Context Context `json:"context"`
	Message any     `json:"message,omitempty"`
	Error   *Error  `json:"error,omitempty"`
}

type OrderMessage struct {
	Order *Order `json:"order"`
}

type Party struct {
	ID string `json:"id"`
}

type Quantity struct {
	Count float64 `json:"count"`
	Unit  string  `json:"unit"`
}

type Price struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type AcceptedOffer struct {
	ID                 string  `json:"id,omitempty"`
	Price              Price   `json:"price"`
	ApplicableQuantity float64 `json:"applicableQuantity,omitempty"`
	IsGift             bool    `json:"isGift,omitempty"`
}

type OrderItem struct {
	OrderedItem   string         `json:"orderedItem"`
	Quantity      Quantity       `json:"quantity"`
	AcceptedOffer *AcceptedOffer `json:"acceptedOffer,omitempty"`
	Error         *Error         `json:"error,omitempty"`
}

type PriceComponent struct {
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
}

type OrderValue struct {
	Value      decimal.Decimal  `json:"value"`
	Currency   string           `json:"currency"`
	Components []PriceComponent `json:"components"`
}

type MeterReading struct {
	Timestamp   time.Time `json:"timestamp"`
	ProducedKWh float64   `json:"producedKwh"`
	ConsumedKWh float64   `json:"consumedKwh"`
}

type Fulfillment struct {
	State              string         `json:"state"`
	ContractedQuantity float64        `json:"contractedQuantity"`
	DeliveredQuantity  float64        `json:"deliveredQuantity"`
	Progress           float64        `json:"progress"`
	Source             string         `json:"source"`
	SettlementStatus   string         `json:"settlementStatus,omitempty"`
	SettlementCycleID  string         `json:"settlementCycleId,omitempty"`
	MeterReadings      []MeterReading `json:"meterReadings,omitempty"`
}

// Order is the order payload exchanged in select/init/confirm/status.
type Order struct {
	ID          string       `json:"id,omitempty"`
	Status      string       `json:"status"`
	Seller      *Party       `json:"seller,omitempty"`
	Buyer       *Party       `json:"buyer,omitempty"`
	OrderItems  []OrderItem  `json:"orderItems"`
	OrderValue  *OrderValue  `json:"orderValue,omitempty"`
	Fulfillment *Fulfillment `json:"fulfillment,omitempty"`
}
