package protocol

import "fmt"

const (
	CodeInvalidContext        = "INVALID_CONTEXT"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInsufficientInventory = "INSUFFICIENT_INVENTORY"
	CodeItemNotFound          = "ITEM_NOT_FOUND"
	CodeOfferNotFound         = "OFFER_NOT_FOUND"
	CodeOrderNotFound         = "ORDER_NOT_FOUND"
	CodeEmptyOrder            = "EMPTY_ORDER"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error is the protocol-level error object carried in NACKs and rejecting
// callbacks.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
