package models

import "time"

// Order represents one table's request, mutated only by the order service.
// Orders are retained indefinitely after completion or cancellation; the
// lifecycle never physically deletes a row.
type Order struct {
	ID        int64        `json:"id" db:"id"`
	TableID   int64        `json:"table_id" db:"table_id"`
	Status    string       `json:"status" db:"status"`
	Notes     *string      `json:"notes,omitempty" db:"notes"`
	BumpedAt  *time.Time   `json:"bumped_at,omitempty" db:"bumped_at"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
	Table     *DiningTable `json:"table,omitempty"` // For joining with dining_tables
	Items     []TicketItem `json:"items,omitempty"`
}

// TicketItem is an order's line item as tracked through the kitchen.
// PrepStatus walks forward only (pending -> preparing -> ready) and every
// transition is a compare-and-swap against the expected prior status.
type TicketItem struct {
	ID                  int64      `json:"id" db:"id"`
	OrderID             int64      `json:"order_id" db:"order_id"`
	MenuItemID          int64      `json:"menu_item_id" db:"menu_item_id"`
	Quantity            int        `json:"quantity" db:"quantity"`
	SpecialInstructions *string    `json:"special_instructions,omitempty" db:"special_instructions"`
	StationID           int64      `json:"station_id" db:"station_id"`
	PrepStatus          string     `json:"prep_status" db:"prep_status"`
	PrepStartTime       *time.Time `json:"prep_start_time,omitempty" db:"prep_start_time"`
	PrepEndTime         *time.Time `json:"prep_end_time,omitempty" db:"prep_end_time"`
	AssignedOperatorID  *int64     `json:"assigned_operator_id,omitempty" db:"assigned_operator_id"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	MenuItem            *MenuItem  `json:"menu_item,omitempty"` // For joining with menu_items
	Station             *Station   `json:"station,omitempty"`   // For joining with stations

	// Denormalized from the owning order for station queue views.
	OrderCreatedAt time.Time `json:"order_created_at,omitempty"`
	TableNumber    string    `json:"table_number,omitempty"`
}

// OrderFilters defines the available filters for querying orders.
// This struct is used by both the service and repository layers.
type OrderFilters struct {
	TableID  *int64  `form:"table_id"`
	Status   *string `form:"status"`
	Date     *string `form:"date"` // Expected format YYYY-MM-DD
	Page     int     `form:"page"`
	PageSize int     `form:"page_size"`
}
