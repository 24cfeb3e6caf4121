package models

import (
	"time"

	dbmodels "github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

// APIResponse is the envelope of every non-protocol endpoint.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func NewSuccessResponse(data interface{}, message string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func NewErrorResponse(code, message string, details map[string]string) *APIResponse {
	return &APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
	}
}

// HealthCheck represents a health check response
type HealthCheck struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Commit     string                     `json:"commit,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func NewHealthCheck(version, commit string) *HealthCheck {
	return &HealthCheck{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    version,
		Commit:     commit,
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records a component; any unhealthy component makes the whole
// check unhealthy.
func (h *HealthCheck) AddComponent(name, status, message string, details map[string]interface{}) {
	h.Components[name] = ComponentHealth{
		Status:  status,
		Message: message,
		Details: details,
	}

	if status != "healthy" && h.Status == "healthy" {
		h.Status = "unhealthy"
	}
}

// SettlementView is the diagnostics view of one transaction's settlement.
type SettlementView struct {
	TransactionID string               `json:"transactionId"`
	Status        string               `json:"status"`
	Contracted    float64              `json:"contractedQuantity"`
	Actual        *float64             `json:"actualDelivered,omitempty"`
	CycleID       string               `json:"settlementCycleId,omitempty"`
	Rows          []*SettlementRowView `json:"rows"`
}

type SettlementRowView struct {
	ID           string     `json:"id"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	BuyerDiscom  string     `json:"buyerDiscomStatus"`
	SellerDiscom string     `json:"sellerDiscomStatus"`
	Contracted   float64    `json:"contractedQuantity"`
	Actual       *float64   `json:"actualDelivered,omitempty"`
	Deviation    *float64   `json:"deviationKwh,omitempty"`
	SettledAt    *time.Time `json:"settledAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func NewSettlementView(transactionID string, rows []*dbmodels.Settlement) *SettlementView {
	view := &SettlementView{TransactionID: transactionID, Rows: make([]*SettlementRowView, 0, len(rows))}
	if summary := settlement.Summarize(transactionID, rows); summary != nil {
		view.Status = string(summary.Status)
		view.Contracted = summary.Contracted
		view.Actual = summary.ActualDelivered
		view.CycleID = summary.SettlementCycleID
	}

	for _, row := range rows {
		rv := &SettlementRowView{
			ID:           row.ID,
			Role:         string(row.Role),
			Status:       string(row.Status),
			BuyerDiscom:  string(row.BuyerDiscomStatus),
			SellerDiscom: string(row.SellerDiscomStatus),
			Contracted:   row.ContractedQuantity,
			Actual:       row.ActualDelivered,
			Deviation:    row.Deviation,
			UpdatedAt:    row.UpdatedAt,
		}
		if !row.SettledAt.IsZero() {
			settled := row.SettledAt
			rv.SettledAt = &settled
		}
		view.Rows = append(view.Rows, rv)
	}
	return view
}
