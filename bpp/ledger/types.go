package ledger

import "time"

const MetricActualPushed = "ACTUAL_PUSHED"

type ValidationMetric struct {
	MetricType  string  `json:"validationMetricType"`
	MetricValue float64 `json:"validationMetricValue"`
}

// Record is the ledger's view of one traded order item.
type Record struct {
	TransactionID      string             `json:"transactionId"`
	OrderItemID        string             `json:"orderItemId,omitempty"`
	Role               string             `json:"role,omitempty"`
	BuyerID            string             `json:"buyerId,omitempty"`
	SellerID           string             `json:"sellerId,omitempty"`
	DiscomStatusBuyer  string             `json:"statusBuyerDiscom,omitempty"`
	DiscomStatusSeller string             `json:"statusSellerDiscom,omitempty"`
	ValidationMetrics  []ValidationMetric `json:"buyerFulfillmentValidationMetrics,omitempty"`
	SettlementCycleID  string             `json:"settlementCycleId,omitempty"`
	TradeTime          *time.Time         `json:"tradeTime,omitempty"`
}

// Metric returns the value of the first metric of the given type.
func (r Record) Metric(metricType string) (float64, bool) {
	for _, m := range r.ValidationMetrics {
		if m.MetricType == metricType {
			return m.MetricValue, true
		}
	}
	return 0, false
}

type TradeQuery struct {
	TransactionID string `json:"transactionId,omitempty"`
	BuyerID       string `json:"buyerId,omitempty"`
	SellerID      string `json:"sellerId,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

type queryResponse struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	// Latency is measured by the client.
	Latency time.Duration `json:"-"`
}
