package services

import (
	"errors"
	"fmt"
)

// Custom Errors shared across the service layer.
var (
	ErrValidation         = errors.New("validation failed")
	ErrOrderNotFound      = errors.New("order not found")
	ErrTicketNotFound     = errors.New("ticket item not found")
	ErrStationNotFound    = errors.New("station not found")
	ErrMenuItemNotFound   = errors.New("menu item not found or not available")
	ErrTableNotFound      = errors.New("table not found")
	ErrInventoryNotFound  = errors.New("inventory item not found")
	ErrInvalidOrderStatus = errors.New("invalid order status for this operation")
	ErrInvalidPrepStatus  = errors.New("invalid preparation status transition")
	ErrStatusConflict     = errors.New("status conflict")
	ErrInsufficientStock  = errors.New("insufficient stock")
)

// ConflictError reports a lost compare-and-swap: the record's stored status
// did not match the caller's expected prior status. Actual carries the real
// current status so the caller can re-fetch and retry instead of guessing.
type ConflictError struct {
	Entity   string // "order" or "ticket_item"
	ID       int64
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d is %q, expected %q", e.Entity, e.ID, e.Actual, e.Expected)
}

// Unwrap lets callers match with errors.Is(err, ErrStatusConflict).
func (e *ConflictError) Unwrap() error {
	return ErrStatusConflict
}

// StockShortfall itemizes one insufficient ingredient.
type StockShortfall struct {
	InventoryItemID int64   `json:"inventory_item_id"`
	Ingredient      string  `json:"ingredient"`
	Required        float64 `json:"required"`
	Available       float64 `json:"available"`
}

// InsufficientStockError carries the full shortfall list for an order whose
// confirmation was rejected. No partial deduction happened.
type InsufficientStockError struct {
	Shortfalls []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d ingredient(s)", len(e.Shortfalls))
}

// Unwrap lets callers match with errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
