package repositories

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrGiftUnavailable       = errors.New("gift is not claimable")
	ErrSettlementFinal       = errors.New("settlement already settled")
	ErrStatusConflict        = errors.New("status changed concurrently")
)

// NotFoundError represents an entity not found error
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InsufficientError carries the quantities behind a failed decrement.
type InsufficientError struct {
	Entity    string
	ID        string
	Requested float64
	Available float64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient quantity on %s %s: requested %v, available %v",
		e.Entity, e.ID, e.Requested, e.Available)
}

func (e *InsufficientError) Is(target error) bool {
	return target == ErrInsufficientInventory
}
