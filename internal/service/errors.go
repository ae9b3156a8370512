package service

import (
	"fmt"

	"billpoint/backend/internal/domain"
	"billpoint/backend/internal/store"
)

// ValidationError reports a structurally invalid request. It is always
// raised before the store is touched, so a validation failure implies
// zero side effects.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// InsufficientStockError identifies the first line item, in input
// order, whose requested quantity exceeds available stock.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return store.ErrInsufficientStock
}

// SettlementPendingError is returned when a bill has been durably
// persisted but one or more of its stock or aggregate adjustments
// failed. The bill carries settlement state pending_adjustments and can
// be completed with RepairSettlement.
type SettlementPendingError struct {
	Bill  domain.Bill
	Cause error
}

func (e *SettlementPendingError) Error() string {
	return fmt.Sprintf("bill %s persisted with pending adjustments: %v", e.Bill.ID, e.Cause)
}

func (e *SettlementPendingError) Unwrap() error {
	return e.Cause
}
