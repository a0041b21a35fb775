package services

import (
	"errors"
	"fmt"
	"time"

	"kds_backend/internal/broadcast"
	"kds_backend/internal/models"
	"kds_backend/internal/repositories"
)

// OrderStatus constants. The walk is strictly forward:
// pending -> confirmed -> preparing -> ready -> served -> completed,
// with cancellation reachable from pending and confirmed only.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusPreparing = "preparing"
	StatusReady     = "ready"
	StatusServed    = "served"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Ticket preparation statuses, also forward-only.
const (
	PrepStatusPending   = "pending"
	PrepStatusPreparing = "preparing"
	PrepStatusReady     = "ready"
)

// --- Data Transfer Objects (DTOs) ---

// CreateTicketItemRequest is one line item of a new order.
type CreateTicketItemRequest struct {
	MenuItemID          int64  `json:"menu_item_id" binding:"required"`
	Quantity            int    `json:"quantity" binding:"required,gt=0"`
	SpecialInstructions string `json:"special_instructions"`
}

// CreateOrderRequest is used for creating a new order.
type CreateOrderRequest struct {
	TableID int64                     `json:"table_id" binding:"required"`
	Notes   *string                   `json:"notes"`
	Items   []CreateTicketItemRequest `json:"items" binding:"required,min=1,dive"`
}

// UpdateItemStatusRequest carries a CAS prep transition. ExpectedStatus must
// equal the ticket's stored status or the call is rejected with a conflict.
type UpdateItemStatusRequest struct {
	ExpectedStatus string `json:"expected_status" binding:"required"`
	NewStatus      string `json:"new_status" binding:"required"`
}

// KDSTicketView is a ticket item as rendered on the kitchen display.
type KDSTicketView struct {
	ItemID              int64       `json:"item_id"`
	OrderID             int64       `json:"order_id"`
	MenuItemName        string      `json:"menu_item_name"`
	Quantity            int         `json:"quantity"`
	SpecialInstructions *string     `json:"special_instructions,omitempty"`
	StationID           int64       `json:"station_id"`
	StationName         string      `json:"station_name,omitempty"`
	PrepStatus          string      `json:"prep_status"`
	PrepStartTime       *time.Time  `json:"prep_start_time,omitempty"`
	PrepEndTime         *time.Time  `json:"prep_end_time,omitempty"`
	AssignedOperatorID  *int64      `json:"assigned_operator_id,omitempty"`
	Urgency             UrgencyTier `json:"urgency"`
}

// KDSOrderView is an active order as rendered on the kitchen display.
// When filtered to a station it contains only that station's items.
type KDSOrderView struct {
	OrderID     int64           `json:"order_id"`
	TableNumber string          `json:"table_number"`
	Status      string          `json:"status"`
	Notes       *string         `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Urgency     UrgencyTier     `json:"urgency"`
	Items       []KDSTicketView `json:"items"`
}

// --- OrderService Interface ---

// OrderService owns the order/ticket state machine. Every mutation is a
// short check-and-swap; losers of a race get a ConflictError carrying the
// actual current state. Events are published only after the commit.
type OrderService interface {
	CreateOrder(req CreateOrderRequest) (*models.Order, error)
	ConfirmOrder(orderID int64) (*models.Order, error)
	UpdateItemStatus(itemID int64, operatorID int64, req UpdateItemStatusRequest) (*models.TicketItem, error)
	ServeOrder(orderID int64) (*models.Order, error)
	BumpOrder(orderID int64) (*models.Order, error)
	CancelOrder(orderID int64) (*models.Order, error)

	GetOrders(filters models.OrderFilters) ([]models.Order, int, error)
	GetOrderByID(orderID int64) (*models.Order, error)
	GetActiveKDSOrders(stationID *int64, now time.Time) ([]KDSOrderView, error)
}

// --- orderService Implementation ---

type orderService struct {
	orderRepo    repositories.OrderRepository
	stationRepo  repositories.StationRepository
	inventorySvc InventoryService
	bus          EventPublisher
	txp          repositories.TxProvider
	escalation   EscalationThresholds
}

// NewOrderService creates a new instance of OrderService.
func NewOrderService(
	or repositories.OrderRepository,
	sr repositories.StationRepository,
	is InventoryService,
	bus EventPublisher,
	txp repositories.TxProvider,
	escalation EscalationThresholds,
) OrderService {
	return &orderService{
		orderRepo:    or,
		stationRepo:  sr,
		inventorySvc: is,
		bus:          bus,
		txp:          txp,
		escalation:   escalation,
	}
}

// --- Method Implementations ---

func (s *orderService) CreateOrder(req CreateOrderRequest) (*models.Order, error) {
	if _, err := s.stationRepo.GetTableByID(req.TableID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: table ID %d", ErrTableNotFound, req.TableID)
		}
		return nil, fmt.Errorf("failed to validate table %d: %w", req.TableID, err)
	}

	// Resolve every line item's station up front so an unknown menu item
	// rejects the whole order before anything is written.
	type routedItem struct {
		req       CreateTicketItemRequest
		stationID int64
	}
	routed := make([]routedItem, 0, len(req.Items))
	for _, itemReq := range req.Items {
		if itemReq.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for menu item ID %d must be positive", ErrValidation, itemReq.MenuItemID)
		}
		menuItem, err := s.stationRepo.GetMenuItemByID(itemReq.MenuItemID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, fmt.Errorf("%w: menu item ID %d", ErrMenuItemNotFound, itemReq.MenuItemID)
			}
			return nil, fmt.Errorf("failed to fetch menu item %d: %w", itemReq.MenuItemID, err)
		}
		if !menuItem.IsAvailable {
			return nil, fmt.Errorf("%w: menu item ID %d", ErrMenuItemNotFound, itemReq.MenuItemID)
		}
		routed = append(routed, routedItem{req: itemReq, stationID: menuItem.StationID})
	}

	tx, err := s.txp.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start database transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	order := models.Order{
		TableID:   req.TableID,
		Status:    StatusPending,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	orderID, err := s.orderRepo.CreateOrder(tx, &order)
	if err != nil {
		return nil, fmt.Errorf("failed to create order record: %w", err)
	}

	for _, ri := range routed {
		item := models.TicketItem{
			OrderID:             orderID,
			MenuItemID:          ri.req.MenuItemID,
			Quantity:            ri.req.Quantity,
			SpecialInstructions: models.NewString(ri.req.SpecialInstructions),
			StationID:           ri.stationID,
			PrepStatus:          PrepStatusPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if _, err := s.orderRepo.CreateTicketItem(tx, &item); err != nil {
			return nil, fmt.Errorf("failed to create ticket item (menu_item_id: %d): %w", ri.req.MenuItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order transaction: %w", err)
	}

	return s.GetOrderByID(orderID)
}

func (s *orderService) ConfirmOrder(orderID int64) (*models.Order, error) {
	order, err := s.getOrderWithItems(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPending {
		return nil, &ConflictError{Entity: "order", ID: orderID, Expected: StatusPending, Actual: order.Status}
	}

	tx, err := s.txp.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Deduction and confirmation commit or roll back together; any
	// ingredient shortfall aborts both with no partial deduction.
	alerts, err := s.inventorySvc.DeductForOrder(tx, order)
	if err != nil {
		return nil, err
	}

	swapped, err := s.orderRepo.UpdateOrderStatusCAS(tx, orderID, StatusConfirmed, time.Now(), StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order %d: %w", orderID, err)
	}
	if !swapped {
		return nil, s.orderConflict(orderID, StatusPending)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation for order %d: %w", orderID, err)
	}

	// Broadcast only after the commit; a delivery fault never unwinds it.
	s.publishNewOrder(order)
	s.inventorySvc.PublishLowStockAlerts(alerts)

	return s.GetOrderByID(orderID)
}

func (s *orderService) publishNewOrder(order *models.Order) {
	event := broadcast.NewOrder{
		OrderID: order.ID,
		Table:   tableNumber(order),
	}
	stationRooms := make(map[string]bool)
	for _, item := range order.Items {
		name := ""
		if item.MenuItem != nil {
			name = item.MenuItem.Name
		}
		event.Items = append(event.Items, broadcast.NewOrderItem{
			ItemID:              item.ID,
			MenuItemID:          item.MenuItemID,
			MenuItemName:        name,
			Quantity:            item.Quantity,
			StationID:           item.StationID,
			SpecialInstructions: item.SpecialInstructions,
		})
		stationRooms[broadcast.StationRoom(item.StationID)] = true
	}
	rooms := []string{broadcast.RoomChef}
	for room := range stationRooms {
		rooms = append(rooms, room)
	}
	s.bus.Publish(event, rooms...)
}

func (s *orderService) UpdateItemStatus(itemID int64, operatorID int64, req UpdateItemStatusRequest) (*models.TicketItem, error) {
	valid := (req.ExpectedStatus == PrepStatusPending && req.NewStatus == PrepStatusPreparing) ||
		(req.ExpectedStatus == PrepStatusPreparing && req.NewStatus == PrepStatusReady)
	if !valid {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidPrepStatus, req.ExpectedStatus, req.NewStatus)
	}

	ticket, err := s.getTicket(itemID)
	if err != nil {
		return nil, err
	}
	order, err := s.GetOrderByID(ticket.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusConfirmed && order.Status != StatusPreparing {
		return nil, fmt.Errorf("%w: order %d is %s", ErrInvalidOrderStatus, order.ID, order.Status)
	}

	tx, err := s.txp.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize ticket completions per order; see LockOrder.
	if err := s.orderRepo.LockOrder(tx, ticket.OrderID); err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", ticket.OrderID, err)
	}

	now := time.Now()
	var swapped bool
	if req.NewStatus == PrepStatusPreparing {
		swapped, err = s.orderRepo.StartTicket(tx, itemID, operatorID, now)
	} else {
		swapped, err = s.orderRepo.CompleteTicket(tx, itemID, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition ticket %d: %w", itemID, err)
	}
	if !swapped {
		return nil, s.ticketConflict(itemID, req.ExpectedStatus)
	}

	orderBecameReady := false
	if req.NewStatus == PrepStatusPreparing {
		// First ticket to start cooking pulls the order into preparing.
		if _, err := s.orderRepo.UpdateOrderStatusCAS(tx, ticket.OrderID, StatusPreparing, now, StatusConfirmed); err != nil {
			return nil, fmt.Errorf("failed to advance order %d to preparing: %w", ticket.OrderID, err)
		}
	} else {
		remaining, err := s.orderRepo.CountNonReadyTickets(tx, ticket.OrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to count open tickets for order %d: %w", ticket.OrderID, err)
		}
		if remaining == 0 {
			// CAS keeps the auto-transition idempotent when several
			// tickets finish in the same instant.
			orderBecameReady, err = s.orderRepo.UpdateOrderStatusCAS(tx, ticket.OrderID, StatusReady, now, StatusConfirmed, StatusPreparing)
			if err != nil {
				return nil, fmt.Errorf("failed to advance order %d to ready: %w", ticket.OrderID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ticket transition for item %d: %w", itemID, err)
	}

	s.bus.Publish(broadcast.ItemStatusChanged{
		ItemID:     itemID,
		OrderID:    ticket.OrderID,
		StationID:  ticket.StationID,
		PrepStatus: req.NewStatus,
		Timestamp:  now,
	}, broadcast.StationRoom(ticket.StationID), broadcast.TableRoom(tableNumber(order)))

	if orderBecameReady {
		s.bus.Publish(broadcast.OrderReady{
			OrderID: ticket.OrderID,
			Table:   tableNumber(order),
		}, broadcast.RoomStaff, broadcast.RoomManager)
	}

	return s.getTicket(itemID)
}

func (s *orderService) ServeOrder(orderID int64) (*models.Order, error) {
	tx, err := s.txp.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	swapped, err := s.orderRepo.UpdateOrderStatusCAS(tx, orderID, StatusServed, time.Now(), StatusReady)
	if err != nil {
		return nil, fmt.Errorf("failed to serve order %d: %w", orderID, err)
	}
	if !swapped {
		return nil, s.orderConflict(orderID, StatusReady)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit serving order %d: %w", orderID, err)
	}
	return s.GetOrderByID(orderID)
}

func (s *orderService) BumpOrder(orderID int64) (*models.Order, error) {
	order, err := s.GetOrderByID(orderID)
	if err != nil {
		return nil, err
	}

	tx, err := s.txp.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	bumpedAt := time.Now()
	swapped, err := s.orderRepo.MarkOrderBumped(tx, orderID, bumpedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to bump order %d: %w", orderID, err)
	}
	if !swapped {
		return nil, s.orderConflict(orderID, StatusReady)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bump for order %d: %w", orderID, err)
	}

	// Completed orders drop out of every station queue query; the event
	// tells the displays to clear immediately instead of waiting to poll.
	s.bus.Publish(broadcast.OrderBumped{
		OrderID:  orderID,
		Table:    tableNumber(order),
		BumpedAt: bumpedAt,
	}, broadcast.RoomChef, broadcast.RoomStaff)

	return s.GetOrderByID(orderID)
}

func (s *orderService) CancelOrder(orderID int64) (*models.Order, error) {
	order, err := s.GetOrderByID(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPending && order.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: order %d is %s and can no longer be cancelled", ErrInvalidOrderStatus, orderID, order.Status)
	}

	tx, err := s.txp.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// A confirmed order already deducted stock; restore it before the
	// status flips so both commit together.
	if order.Status == StatusConfirmed {
		if err := s.inventorySvc.ReverseForOrder(tx, orderID); err != nil {
			return nil, err
		}
	}

	// CAS against the status we actually read. If a concurrent confirm
	// landed after a pending read, the swap fails and the caller re-fetches
	// instead of cancelling a deduction that was never reversed.
	swapped, err := s.orderRepo.UpdateOrderStatusCAS(tx, orderID, StatusCancelled, time.Now(), order.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	if !swapped {
		return nil, s.orderConflict(orderID, order.Status)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation for order %d: %w", orderID, err)
	}
	return s.GetOrderByID(orderID)
}

func (s *orderService) GetOrders(filters models.OrderFilters) ([]models.Order, int, error) {
	orders, totalCount, err := s.orderRepo.GetOrders(filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get orders: %w", err)
	}
	return orders, totalCount, nil
}

func (s *orderService) GetOrderByID(orderID int64) (*models.Order, error) {
	return s.getOrderWithItems(orderID)
}

func (s *orderService) GetActiveKDSOrders(stationID *int64, now time.Time) ([]KDSOrderView, error) {
	orders, err := s.orderRepo.GetActiveOrders()
	if err != nil {
		return nil, fmt.Errorf("failed to get active orders: %w", err)
	}

	views := []KDSOrderView{}
	for _, order := range orders {
		items := order.Items
		if stationID != nil {
			filtered := make([]models.TicketItem, 0, len(items))
			for _, item := range items {
				if item.StationID == *stationID {
					filtered = append(filtered, item)
				}
			}
			if len(filtered) == 0 {
				continue // this station has nothing to cook for the order
			}
			items = filtered
		}

		view := KDSOrderView{
			OrderID:     order.ID,
			TableNumber: tableNumber(&order),
			Status:      order.Status,
			Notes:       order.Notes,
			CreatedAt:   order.CreatedAt,
			Urgency:     Urgency(order.CreatedAt, now, s.escalation),
		}
		for _, item := range items {
			tv := KDSTicketView{
				ItemID:              item.ID,
				OrderID:             item.OrderID,
				Quantity:            item.Quantity,
				SpecialInstructions: item.SpecialInstructions,
				StationID:           item.StationID,
				PrepStatus:          item.PrepStatus,
				PrepStartTime:       item.PrepStartTime,
				PrepEndTime:         item.PrepEndTime,
				AssignedOperatorID:  item.AssignedOperatorID,
				Urgency:             Urgency(order.CreatedAt, now, s.escalation),
			}
			if item.MenuItem != nil {
				tv.MenuItemName = item.MenuItem.Name
			}
			if item.Station != nil {
				tv.StationName = item.Station.Name
			}
			view.Items = append(view.Items, tv)
		}
		views = append(views, view)
	}
	return views, nil
}

// --- helpers ---

func (s *orderService) getOrderWithItems(orderID int64) (*models.Order, error) {
	order, err := s.orderRepo.GetOrderByID(orderID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order by ID: %w", err)
	}
	items, err := s.orderRepo.GetTicketItemsByOrderID(orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket items for order %d: %w", orderID, err)
	}
	order.Items = items
	return order, nil
}

func (s *orderService) getTicket(itemID int64) (*models.TicketItem, error) {
	ticket, err := s.orderRepo.GetTicketItemByID(itemID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket item by ID: %w", err)
	}
	return ticket, nil
}

// orderConflict builds a ConflictError with the order's real current status.
func (s *orderService) orderConflict(orderID int64, expected string) error {
	actual := "unknown"
	if current, err := s.orderRepo.GetOrderByID(orderID); err == nil {
		actual = current.Status
	}
	return &ConflictError{Entity: "order", ID: orderID, Expected: expected, Actual: actual}
}

// ticketConflict builds a ConflictError with the ticket's real current status.
func (s *orderService) ticketConflict(itemID int64, expected string) error {
	actual := "unknown"
	if current, err := s.orderRepo.GetTicketItemByID(itemID); err == nil {
		actual = current.PrepStatus
	}
	return &ConflictError{Entity: "ticket_item", ID: itemID, Expected: expected, Actual: actual}
}

func tableNumber(order *models.Order) string {
	if order.Table != nil {
		return order.Table.TableNumber
	}
	return ""
}
