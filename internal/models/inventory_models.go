package models

import "time"

// InventoryItem represents an ingredient with a tracked quantity.
// CurrentQuantity is mutated exclusively through InventoryTransactions so
// that the sum of all transaction deltas for an item always equals it.
type InventoryItem struct {
	ID              int64     `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Unit            string    `json:"unit" db:"unit"` // e.g. kg, l, pcs
	CurrentQuantity float64   `json:"current_quantity" db:"current_quantity"`
	MinQuantity     float64   `json:"min_quantity" db:"min_quantity"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// InventoryTransaction is an immutable ledger record of a quantity change.
// Reversals reference the transaction they compensate.
type InventoryTransaction struct {
	ID                     int64     `json:"id" db:"id"`
	InventoryItemID        int64     `json:"inventory_item_id" db:"inventory_item_id"`
	QuantityDelta          float64   `json:"quantity_delta" db:"quantity_delta"`
	TransactionType        string    `json:"transaction_type" db:"transaction_type"` // usage, adjustment
	OrderID                *int64    `json:"order_id,omitempty" db:"order_id"`
	ReferenceTransactionID *int64    `json:"reference_transaction_id,omitempty" db:"reference_transaction_id"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
	InventoryItem          *InventoryItem `json:"inventory_item,omitempty"` // For joining with inventory_items
}

// RecipeEntry maps a menu item to one ingredient quantity it consumes per
// unit ordered. Read-only reference data.
type RecipeEntry struct {
	ID               int64   `json:"id" db:"id"`
	MenuItemID       int64   `json:"menu_item_id" db:"menu_item_id"`
	InventoryItemID  int64   `json:"inventory_item_id" db:"inventory_item_id"`
	QuantityRequired float64 `json:"quantity_required" db:"quantity_required"`
}
