package models

import "time"

// Station is a physical kitchen work area to which ticket items are routed.
// Static reference data; the core only reads it.
type Station struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Category     string    `json:"category" db:"category"` // grill, fry, saute, cold, beverage, expeditor
	DisplayOrder int       `json:"display_order" db:"display_order"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// MenuItem carries the menu-item -> station mapping consumed by ticket
// routing. Catalog management is owned externally.
type MenuItem struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	StationID   int64     `json:"station_id" db:"station_id"`
	IsAvailable bool      `json:"is_available" db:"is_available"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DiningTable identifies the table an order belongs to.
type DiningTable struct {
	ID          int64     `json:"id" db:"id"`
	TableNumber string    `json:"table_number" db:"table_number"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
