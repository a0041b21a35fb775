package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kds_backend/internal/models"

	"github.com/lib/pq" // For pq.Error and pq.Array
)

// OrderRepository defines the interface for order and ticket persistence.
// Status transitions are compare-and-swap: the UPDATE only matches when the
// stored status equals one of the caller's expected prior statuses, and the
// boolean result reports whether the swap won.
type OrderRepository interface {
	// Order methods
	CreateOrder(executor SQLExecutor, order *models.Order) (int64, error)
	GetOrderByID(orderID int64) (*models.Order, error)
	GetOrders(filters models.OrderFilters) ([]models.Order, int, error)
	GetActiveOrders() ([]models.Order, error)
	UpdateOrderStatusCAS(executor SQLExecutor, orderID int64, newStatus string, updatedAt time.Time, expected ...string) (bool, error)
	MarkOrderBumped(executor SQLExecutor, orderID int64, bumpedAt time.Time) (bool, error)
	LockOrder(executor SQLExecutor, orderID int64) error

	// TicketItem methods
	CreateTicketItem(executor SQLExecutor, item *models.TicketItem) (int64, error)
	GetTicketItemByID(itemID int64) (*models.TicketItem, error)
	GetTicketItemsByOrderID(orderID int64) ([]models.TicketItem, error)
	GetActiveTicketsByStation(stationID int64) ([]models.TicketItem, error)
	StartTicket(executor SQLExecutor, itemID, operatorID int64, startedAt time.Time) (bool, error)
	CompleteTicket(executor SQLExecutor, itemID int64, completedAt time.Time) (bool, error)
	CountNonReadyTickets(executor SQLExecutor, orderID int64) (int, error)
	UpdateTicketStation(executor SQLExecutor, itemID, newStationID int64, updatedAt time.Time) (bool, error)
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new instance of OrderRepository.
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

// --- Order Methods ---

func (r *orderRepository) CreateOrder(executor SQLExecutor, order *models.Order) (int64, error) {
	query := `INSERT INTO orders (table_id, status, notes, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id`

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now()
	}

	err := executor.QueryRow(query,
		order.TableID, order.Status, order.Notes, order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return 0, fmt.Errorf("%w: creating order (constraint: %s): %v", ErrDatabaseError, pqErr.Constraint, err)
		}
		return 0, fmt.Errorf("%w: creating order: %v", ErrDatabaseError, err)
	}
	return order.ID, nil
}

func (r *orderRepository) GetOrderByID(orderID int64) (*models.Order, error) {
	order := &models.Order{}
	var tableNumber sql.NullString
	query := `SELECT o.id, o.table_id, o.status, o.notes, o.bumped_at, o.created_at, o.updated_at,
	                 dt.table_number
	          FROM orders o
	          LEFT JOIN dining_tables dt ON o.table_id = dt.id
	          WHERE o.id = $1`
	err := r.db.QueryRow(query, orderID).Scan(
		&order.ID, &order.TableID, &order.Status, &order.Notes, &order.BumpedAt,
		&order.CreatedAt, &order.UpdatedAt, &tableNumber,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting order by ID %d: %v", ErrDatabaseError, orderID, err)
	}
	if tableNumber.Valid {
		order.Table = &models.DiningTable{ID: order.TableID, TableNumber: tableNumber.String}
	}
	return order, nil
}

func (r *orderRepository) GetOrders(filters models.OrderFilters) ([]models.Order, int, error) {
	orders := []models.Order{}
	totalCount := 0

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
        SELECT
            o.id, o.table_id, o.status, o.notes, o.bumped_at, o.created_at, o.updated_at,
            dt.table_number,
            COUNT(*) OVER() as total_count
        FROM orders o
        LEFT JOIN dining_tables dt ON o.table_id = dt.id
    `)

	var conditions []string
	var args []interface{}
	argCounter := 1

	if filters.TableID != nil {
		conditions = append(conditions, fmt.Sprintf("o.table_id = $%d", argCounter))
		args = append(args, *filters.TableID)
		argCounter++
	}
	if filters.Status != nil && *filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("o.status = $%d", argCounter))
		args = append(args, *filters.Status)
		argCounter++
	}
	if filters.Date != nil && *filters.Date != "" {
		parsedDate, err := time.Parse("2006-01-02", *filters.Date)
		if err == nil {
			startOfDay := time.Date(parsedDate.Year(), parsedDate.Month(), parsedDate.Day(), 0, 0, 0, 0, parsedDate.Location())
			endOfDay := startOfDay.AddDate(0, 0, 1).Add(-time.Nanosecond)
			conditions = append(conditions, fmt.Sprintf("o.created_at BETWEEN $%d AND $%d", argCounter, argCounter+1))
			args = append(args, startOfDay, endOfDay)
			argCounter += 2
		}
	}

	if len(conditions) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	queryBuilder.WriteString(" ORDER BY o.created_at DESC")

	if filters.PageSize > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argCounter))
		args = append(args, filters.PageSize)
		argCounter++
		if filters.Page > 0 {
			offset := (filters.Page - 1) * filters.PageSize
			queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", argCounter))
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: querying orders: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var o models.Order
		var tableNumber sql.NullString

		err := rows.Scan(
			&o.ID, &o.TableID, &o.Status, &o.Notes, &o.BumpedAt, &o.CreatedAt, &o.UpdatedAt,
			&tableNumber, &totalCount,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: scanning order: %v", ErrDatabaseError, err)
		}
		if tableNumber.Valid {
			o.Table = &models.DiningTable{ID: o.TableID, TableNumber: tableNumber.String}
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterating order rows: %v", ErrDatabaseError, err)
	}
	return orders, totalCount, nil
}

// GetActiveOrders returns orders currently on the kitchen display
// (confirmed, preparing or ready), oldest first, with their ticket items.
func (r *orderRepository) GetActiveOrders() ([]models.Order, error) {
	orders := []models.Order{}
	query := `SELECT o.id, o.table_id, o.status, o.notes, o.bumped_at, o.created_at, o.updated_at,
	                 dt.table_number
	          FROM orders o
	          LEFT JOIN dining_tables dt ON o.table_id = dt.id
	          WHERE o.status = ANY($1)
	          ORDER BY o.created_at`

	rows, err := r.db.Query(query, pq.Array([]string{"confirmed", "preparing", "ready"}))
	if err != nil {
		return nil, fmt.Errorf("%w: querying active orders: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var o models.Order
		var tableNumber sql.NullString
		err := rows.Scan(&o.ID, &o.TableID, &o.Status, &o.Notes, &o.BumpedAt, &o.CreatedAt, &o.UpdatedAt, &tableNumber)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning active order: %v", ErrDatabaseError, err)
		}
		if tableNumber.Valid {
			o.Table = &models.DiningTable{ID: o.TableID, TableNumber: tableNumber.String}
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating active order rows: %v", ErrDatabaseError, err)
	}

	for i := range orders {
		items, err := r.GetTicketItemsByOrderID(orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *orderRepository) UpdateOrderStatusCAS(executor SQLExecutor, orderID int64, newStatus string, updatedAt time.Time, expected ...string) (bool, error) {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`
	result, err := executor.Exec(query, newStatus, updatedAt, orderID, pq.Array(expected))
	if err != nil {
		return false, fmt.Errorf("%w: updating order status for ID %d: %v", ErrDatabaseError, orderID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: getting rows affected for order status update ID %d: %v", ErrDatabaseError, orderID, err)
	}
	return rowsAffected == 1, nil
}

func (r *orderRepository) MarkOrderBumped(executor SQLExecutor, orderID int64, bumpedAt time.Time) (bool, error) {
	query := `UPDATE orders SET status = 'completed', bumped_at = $1, updated_at = $1
	          WHERE id = $2 AND status = ANY($3)`
	result, err := executor.Exec(query, bumpedAt, orderID, pq.Array([]string{"ready", "served"}))
	if err != nil {
		return false, fmt.Errorf("%w: bumping order ID %d: %v", ErrDatabaseError, orderID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: getting rows affected for bumping order ID %d: %v", ErrDatabaseError, orderID, err)
	}
	return rowsAffected == 1, nil
}

// LockOrder takes a row lock on the order so concurrent ticket completions
// for the same order serialize; otherwise two final tickets could each see
// the other as still unfinished and neither would flip the order to ready.
func (r *orderRepository) LockOrder(executor SQLExecutor, orderID int64) error {
	var id int64
	err := executor.QueryRow(`SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: locking order ID %d: %v", ErrDatabaseError, orderID, err)
	}
	return nil
}

// --- TicketItem Methods ---

func (r *orderRepository) CreateTicketItem(executor SQLExecutor, item *models.TicketItem) (int64, error) {
	query := `INSERT INTO ticket_items
	            (order_id, menu_item_id, quantity, special_instructions, station_id,
	             prep_status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id`
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}

	err := executor.QueryRow(query,
		item.OrderID, item.MenuItemID, item.Quantity, item.SpecialInstructions, item.StationID,
		item.PrepStatus, item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return 0, fmt.Errorf("%w: creating ticket item (constraint: %s): %v", ErrDatabaseError, pqErr.Constraint, err)
		}
		return 0, fmt.Errorf("%w: creating ticket item: %v", ErrDatabaseError, err)
	}
	return item.ID, nil
}

const ticketSelectColumns = `
	ti.id, ti.order_id, ti.menu_item_id, ti.quantity, ti.special_instructions,
	ti.station_id, ti.prep_status, ti.prep_start_time, ti.prep_end_time,
	ti.assigned_operator_id, ti.created_at, ti.updated_at,
	mi.name as menu_item_name, s.name as station_name, s.category as station_category`

func scanTicketItem(rows *sql.Rows) (models.TicketItem, error) {
	var item models.TicketItem
	var menuItemName, stationName, stationCategory sql.NullString
	err := rows.Scan(
		&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.SpecialInstructions,
		&item.StationID, &item.PrepStatus, &item.PrepStartTime, &item.PrepEndTime,
		&item.AssignedOperatorID, &item.CreatedAt, &item.UpdatedAt,
		&menuItemName, &stationName, &stationCategory,
	)
	if err != nil {
		return item, err
	}
	if menuItemName.Valid {
		item.MenuItem = &models.MenuItem{ID: item.MenuItemID, Name: menuItemName.String, StationID: item.StationID}
	}
	if stationName.Valid {
		item.Station = &models.Station{ID: item.StationID, Name: stationName.String, Category: stationCategory.String}
	}
	return item, nil
}

func (r *orderRepository) GetTicketItemByID(itemID int64) (*models.TicketItem, error) {
	item := &models.TicketItem{}
	var menuItemName, stationName, stationCategory sql.NullString
	query := `SELECT ` + ticketSelectColumns + `
	          FROM ticket_items ti
	          JOIN menu_items mi ON ti.menu_item_id = mi.id
	          JOIN stations s ON ti.station_id = s.id
	          WHERE ti.id = $1`
	err := r.db.QueryRow(query, itemID).Scan(
		&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.SpecialInstructions,
		&item.StationID, &item.PrepStatus, &item.PrepStartTime, &item.PrepEndTime,
		&item.AssignedOperatorID, &item.CreatedAt, &item.UpdatedAt,
		&menuItemName, &stationName, &stationCategory,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting ticket item by ID %d: %v", ErrDatabaseError, itemID, err)
	}
	if menuItemName.Valid {
		item.MenuItem = &models.MenuItem{ID: item.MenuItemID, Name: menuItemName.String, StationID: item.StationID}
	}
	if stationName.Valid {
		item.Station = &models.Station{ID: item.StationID, Name: stationName.String, Category: stationCategory.String}
	}
	return item, nil
}

func (r *orderRepository) GetTicketItemsByOrderID(orderID int64) ([]models.TicketItem, error) {
	items := []models.TicketItem{}
	query := `SELECT ` + ticketSelectColumns + `
	          FROM ticket_items ti
	          JOIN menu_items mi ON ti.menu_item_id = mi.id
	          JOIN stations s ON ti.station_id = s.id
	          WHERE ti.order_id = $1
	          ORDER BY ti.id`

	rows, err := r.db.Query(query, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ticket items for order ID %d: %v", ErrDatabaseError, orderID, err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanTicketItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning ticket item for order ID %d: %v", ErrDatabaseError, orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating ticket item rows for order ID %d: %v", ErrDatabaseError, orderID, err)
	}
	return items, nil
}

// GetActiveTicketsByStation returns a station's non-ready tickets belonging
// to confirmed or preparing orders, together with the owning order's
// creation time and table number for queue rendering.
func (r *orderRepository) GetActiveTicketsByStation(stationID int64) ([]models.TicketItem, error) {
	items := []models.TicketItem{}
	query := `SELECT ` + ticketSelectColumns + `,
	                 o.created_at as order_created_at, dt.table_number
	          FROM ticket_items ti
	          JOIN menu_items mi ON ti.menu_item_id = mi.id
	          JOIN stations s ON ti.station_id = s.id
	          JOIN orders o ON ti.order_id = o.id
	          LEFT JOIN dining_tables dt ON o.table_id = dt.id
	          WHERE ti.station_id = $1
	            AND ti.prep_status <> 'ready'
	            AND o.status = ANY($2)
	          ORDER BY o.created_at, ti.id`

	rows, err := r.db.Query(query, stationID, pq.Array([]string{"confirmed", "preparing"}))
	if err != nil {
		return nil, fmt.Errorf("%w: querying active tickets for station ID %d: %v", ErrDatabaseError, stationID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.TicketItem
		var menuItemName, stationName, stationCategory, tableNumber sql.NullString
		err := rows.Scan(
			&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.SpecialInstructions,
			&item.StationID, &item.PrepStatus, &item.PrepStartTime, &item.PrepEndTime,
			&item.AssignedOperatorID, &item.CreatedAt, &item.UpdatedAt,
			&menuItemName, &stationName, &stationCategory,
			&item.OrderCreatedAt, &tableNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning active ticket for station ID %d: %v", ErrDatabaseError, stationID, err)
		}
		if menuItemName.Valid {
			item.MenuItem = &models.MenuItem{ID: item.MenuItemID, Name: menuItemName.String, StationID: item.StationID}
		}
		if stationName.Valid {
			item.Station = &models.Station{ID: item.StationID, Name: stationName.String, Category: stationCategory.String}
		}
		if tableNumber.Valid {
			item.TableNumber = tableNumber.String
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating active ticket rows for station ID %d: %v", ErrDatabaseError, stationID, err)
	}
	return items, nil
}

// StartTicket swaps a ticket from pending to preparing, stamping the prep
// start time and the acting operator. The WHERE clause carries the CAS.
func (r *orderRepository) StartTicket(executor SQLExecutor, itemID, operatorID int64, startedAt time.Time) (bool, error) {
	query := `UPDATE ticket_items
	          SET prep_status = 'preparing', prep_start_time = $1, assigned_operator_id = $2, updated_at = $1
	          WHERE id = $3 AND prep_status = 'pending'`
	result, err := executor.Exec(query, startedAt, operatorID, itemID)
	if err != nil {
		return false, fmt.Errorf("%w: starting ticket ID %d: %v", ErrDatabaseError, itemID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: getting rows affected for starting ticket ID %d: %v", ErrDatabaseError, itemID, err)
	}
	return rowsAffected == 1, nil
}

// CompleteTicket swaps a ticket from preparing to ready, stamping the prep
// end time.
func (r *orderRepository) CompleteTicket(executor SQLExecutor, itemID int64, completedAt time.Time) (bool, error) {
	query := `UPDATE ticket_items
	          SET prep_status = 'ready', prep_end_time = $1, updated_at = $1
	          WHERE id = $2 AND prep_status = 'preparing'`
	result, err := executor.Exec(query, completedAt, itemID)
	if err != nil {
		return false, fmt.Errorf("%w: completing ticket ID %d: %v", ErrDatabaseError, itemID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: getting rows affected for completing ticket ID %d: %v", ErrDatabaseError, itemID, err)
	}
	return rowsAffected == 1, nil
}

func (r *orderRepository) CountNonReadyTickets(executor SQLExecutor, orderID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM ticket_items WHERE order_id = $1 AND prep_status <> 'ready'`
	err := executor.QueryRow(query, orderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting non-ready tickets for order ID %d: %v", ErrDatabaseError, orderID, err)
	}
	return count, nil
}

// UpdateTicketStation moves a non-ready ticket to another station.
func (r *orderRepository) UpdateTicketStation(executor SQLExecutor, itemID, newStationID int64, updatedAt time.Time) (bool, error) {
	query := `UPDATE ticket_items SET station_id = $1, updated_at = $2
	          WHERE id = $3 AND prep_status <> 'ready'`
	result, err := executor.Exec(query, newStationID, updatedAt, itemID)
	if err != nil {
		return false, fmt.Errorf("%w: reassigning ticket ID %d: %v", ErrDatabaseError, itemID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: getting rows affected for reassigning ticket ID %d: %v", ErrDatabaseError, itemID, err)
	}
	return rowsAffected == 1, nil
}
