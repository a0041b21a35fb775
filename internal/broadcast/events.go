package broadcast

import (
	"fmt"
	"time"
)

// EventType tags the closed set of events this core can publish.
type EventType string

const (
	EventNewOrder          EventType = "new_order"
	EventItemStatusChanged EventType = "item_status_changed"
	EventOrderReady        EventType = "order_ready"
	EventOrderBumped       EventType = "order_bumped"
	EventItemReassigned    EventType = "item_reassigned"
	EventInventoryLow      EventType = "inventory_low"
)

// Event is a sealed union of the payload types below. The unexported marker
// method keeps the set closed: a publisher cannot hand the hub an event type
// the viewers do not know how to render, and there is no string-keyed
// dispatch to misspell.
type Event interface {
	Type() EventType
	isEvent()
}

// NewOrderItem is one line of a NewOrder payload.
type NewOrderItem struct {
	ItemID              int64   `json:"item_id"`
	MenuItemID          int64   `json:"menu_item_id"`
	MenuItemName        string  `json:"menu_item_name"`
	Quantity            int     `json:"quantity"`
	StationID           int64   `json:"station_id"`
	SpecialInstructions *string `json:"special_instructions,omitempty"`
}

// NewOrder announces a freshly confirmed order to the kitchen.
type NewOrder struct {
	OrderID int64          `json:"order_id"`
	Table   string         `json:"table"`
	Items   []NewOrderItem `json:"items"`
}

// ItemStatusChanged announces a ticket prep transition.
type ItemStatusChanged struct {
	ItemID     int64     `json:"item_id"`
	OrderID    int64     `json:"order_id"`
	StationID  int64     `json:"station_id"`
	PrepStatus string    `json:"prep_status"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderReady announces that every ticket of an order is ready.
type OrderReady struct {
	OrderID int64  `json:"order_id"`
	Table   string `json:"table"`
}

// OrderBumped announces an order leaving the kitchen display.
type OrderBumped struct {
	OrderID  int64     `json:"order_id"`
	Table    string    `json:"table"`
	BumpedAt time.Time `json:"bumped_at"`
}

// ItemReassigned announces a ticket moving between stations.
type ItemReassigned struct {
	ItemID       int64 `json:"item_id"`
	OldStationID int64 `json:"old_station_id"`
	NewStationID int64 `json:"new_station_id"`
}

// InventoryLow warns that an ingredient dropped to or below its minimum.
type InventoryLow struct {
	ItemName        string  `json:"item_name"`
	CurrentQuantity float64 `json:"current_quantity"`
	MinQuantity     float64 `json:"min_quantity"`
}

func (NewOrder) Type() EventType          { return EventNewOrder }
func (ItemStatusChanged) Type() EventType { return EventItemStatusChanged }
func (OrderReady) Type() EventType        { return EventOrderReady }
func (OrderBumped) Type() EventType       { return EventOrderBumped }
func (ItemReassigned) Type() EventType    { return EventItemReassigned }
func (InventoryLow) Type() EventType      { return EventInventoryLow }

func (NewOrder) isEvent()          {}
func (ItemStatusChanged) isEvent() {}
func (OrderReady) isEvent()        {}
func (OrderBumped) isEvent()       {}
func (ItemReassigned) isEvent()    {}
func (InventoryLow) isEvent()      {}

// Room names. Role rooms are fixed; station and table rooms are derived.
const (
	RoomChef    = "chef"
	RoomStaff   = "staff"
	RoomManager = "manager"
)

// StationRoom returns the room name for a station's viewers.
func StationRoom(stationID int64) string {
	return fmt.Sprintf("station:%d", stationID)
}

// TableRoom returns the room name for a table's customer viewers.
func TableRoom(tableNumber string) string {
	return "table:" + tableNumber
}
