package services

import (
	"database/sql"
	"sync"
	"time"

	"kds_backend/internal/broadcast"
	"kds_backend/internal/models"
	"kds_backend/internal/repositories"
)

// mockTx satisfies repositories.Tx without any database behind it. The
// in-memory repositories below apply writes immediately, so commit and
// rollback are no-ops in tests.
type mockTx struct{}

func (mockTx) Exec(query string, args ...interface{}) (sql.Result, error) { return nil, nil }
func (mockTx) QueryRow(query string, args ...interface{}) *sql.Row        { return nil }
func (mockTx) Query(query string, args ...interface{}) (*sql.Rows, error) { return nil, nil }
func (mockTx) Commit() error                                              { return nil }
func (mockTx) Rollback() error                                            { return nil }

type mockTxProvider struct {
	BeginFunc func() (repositories.Tx, error)
}

func (m *mockTxProvider) Begin() (repositories.Tx, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc()
	}
	return mockTx{}, nil
}

// mockPublisher records every publish for assertions.
type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Event broadcast.Event
	Rooms []string
}

func (m *mockPublisher) Publish(event broadcast.Event, rooms ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{Event: event, Rooms: rooms})
}

func (m *mockPublisher) published() []publishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *mockPublisher) byType(t broadcast.EventType) []publishedEvent {
	var out []publishedEvent
	for _, pe := range m.published() {
		if pe.Event.Type() == t {
			out = append(out, pe)
		}
	}
	return out
}

// MockOrderRepository is an in-memory OrderRepository. Status swaps are
// performed under one mutex so they are atomic the way the SQL updates are.
type MockOrderRepository struct {
	mu       sync.Mutex
	orders   map[int64]*models.Order
	tickets  map[int64]*models.TicketItem
	nextID   int64
	LockErrs map[int64]error
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders:  make(map[int64]*models.Order),
		tickets: make(map[int64]*models.TicketItem),
	}
}

func (m *MockOrderRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockOrderRepository) CreateOrder(_ repositories.SQLExecutor, order *models.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	cp.ID = m.id()
	m.orders[cp.ID] = &cp
	return cp.ID, nil
}

func (m *MockOrderRepository) GetOrderByID(orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (m *MockOrderRepository) GetOrders(filters models.OrderFilters) ([]models.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, order := range m.orders {
		if filters.Status != nil && order.Status != *filters.Status {
			continue
		}
		if filters.TableID != nil && order.TableID != *filters.TableID {
			continue
		}
		out = append(out, *order)
	}
	return out, len(out), nil
}

func (m *MockOrderRepository) GetActiveOrders() ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, order := range m.orders {
		switch order.Status {
		case StatusConfirmed, StatusPreparing, StatusReady:
		default:
			continue
		}
		cp := *order
		for _, t := range m.tickets {
			if t.OrderID == order.ID {
				cp.Items = append(cp.Items, *t)
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *MockOrderRepository) UpdateOrderStatusCAS(_ repositories.SQLExecutor, orderID int64, newStatus string, updatedAt time.Time, expected ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, exp := range expected {
		if order.Status == exp {
			order.Status = newStatus
			order.UpdatedAt = updatedAt
			return true, nil
		}
	}
	return false, nil
}

func (m *MockOrderRepository) MarkOrderBumped(_ repositories.SQLExecutor, orderID int64, bumpedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	if order.Status != StatusReady && order.Status != StatusServed {
		return false, nil
	}
	order.Status = StatusCompleted
	order.BumpedAt = &bumpedAt
	order.UpdatedAt = bumpedAt
	return true, nil
}

func (m *MockOrderRepository) LockOrder(_ repositories.SQLExecutor, orderID int64) error {
	if err, ok := m.LockErrs[orderID]; ok {
		return err
	}
	return nil
}

func (m *MockOrderRepository) CreateTicketItem(_ repositories.SQLExecutor, item *models.TicketItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	cp.ID = m.id()
	m.tickets[cp.ID] = &cp
	return cp.ID, nil
}

func (m *MockOrderRepository) GetTicketItemByID(itemID int64) (*models.TicketItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[itemID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockOrderRepository) GetTicketItemsByOrderID(orderID int64) ([]models.TicketItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TicketItem
	for _, t := range m.tickets {
		if t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MockOrderRepository) GetActiveTicketsByStation(stationID int64) ([]models.TicketItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TicketItem
	for _, t := range m.tickets {
		if t.StationID != stationID || t.PrepStatus == PrepStatusReady {
			continue
		}
		order, ok := m.orders[t.OrderID]
		if !ok || (order.Status != StatusConfirmed && order.Status != StatusPreparing) {
			continue
		}
		cp := *t
		cp.OrderCreatedAt = order.CreatedAt
		out = append(out, cp)
	}
	return out, nil
}

func (m *MockOrderRepository) StartTicket(_ repositories.SQLExecutor, itemID, operatorID int64, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[itemID]
	if !ok || t.PrepStatus != PrepStatusPending {
		return false, nil
	}
	t.PrepStatus = PrepStatusPreparing
	t.PrepStartTime = &startedAt
	t.AssignedOperatorID = &operatorID
	t.UpdatedAt = startedAt
	return true, nil
}

func (m *MockOrderRepository) CompleteTicket(_ repositories.SQLExecutor, itemID int64, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[itemID]
	if !ok || t.PrepStatus != PrepStatusPreparing {
		return false, nil
	}
	t.PrepStatus = PrepStatusReady
	t.PrepEndTime = &completedAt
	t.UpdatedAt = completedAt
	return true, nil
}

func (m *MockOrderRepository) CountNonReadyTickets(_ repositories.SQLExecutor, orderID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.tickets {
		if t.OrderID == orderID && t.PrepStatus != PrepStatusReady {
			count++
		}
	}
	return count, nil
}

func (m *MockOrderRepository) UpdateTicketStation(_ repositories.SQLExecutor, itemID, newStationID int64, updatedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[itemID]
	if !ok || t.PrepStatus == PrepStatusReady {
		return false, nil
	}
	t.StationID = newStationID
	t.UpdatedAt = updatedAt
	return true, nil
}

// MockStationRepository serves static reference data.
type MockStationRepository struct {
	stations  map[int64]*models.Station
	menuItems map[int64]*models.MenuItem
	tables    map[int64]*models.DiningTable
}

func NewMockStationRepository() *MockStationRepository {
	return &MockStationRepository{
		stations:  make(map[int64]*models.Station),
		menuItems: make(map[int64]*models.MenuItem),
		tables:    make(map[int64]*models.DiningTable),
	}
}

func (m *MockStationRepository) AddStation(s models.Station) { m.stations[s.ID] = &s }
func (m *MockStationRepository) AddMenuItem(mi models.MenuItem) {
	m.menuItems[mi.ID] = &mi
}
func (m *MockStationRepository) AddTable(t models.DiningTable) { m.tables[t.ID] = &t }

func (m *MockStationRepository) GetStations(activeOnly bool) ([]models.Station, error) {
	var out []models.Station
	for _, s := range m.stations {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *MockStationRepository) GetStationByID(stationID int64) (*models.Station, error) {
	s, ok := m.stations[stationID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockStationRepository) GetMenuItemByID(menuItemID int64) (*models.MenuItem, error) {
	mi, ok := m.menuItems[menuItemID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *mi
	return &cp, nil
}

func (m *MockStationRepository) GetTableByID(tableID int64) (*models.DiningTable, error) {
	t, ok := m.tables[tableID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// MockInventoryRepository is an in-memory inventory ledger. AdjustQuantity
// and CreateTransaction mutate under one mutex, mirroring the row locks the
// real repository takes.
type MockInventoryRepository struct {
	mu      sync.Mutex
	items   map[int64]*models.InventoryItem
	txns    []models.InventoryTransaction
	recipes map[int64][]models.RecipeEntry
	nextTxn int64
}

func NewMockInventoryRepository() *MockInventoryRepository {
	return &MockInventoryRepository{
		items:   make(map[int64]*models.InventoryItem),
		recipes: make(map[int64][]models.RecipeEntry),
	}
}

func (m *MockInventoryRepository) AddItem(it models.InventoryItem) { m.items[it.ID] = &it }

func (m *MockInventoryRepository) AddRecipe(menuItemID int64, entries ...models.RecipeEntry) {
	m.recipes[menuItemID] = append(m.recipes[menuItemID], entries...)
}

func (m *MockInventoryRepository) GetItems(lowOnly bool) ([]models.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InventoryItem
	for _, it := range m.items {
		if lowOnly && it.CurrentQuantity > it.MinQuantity {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

func (m *MockInventoryRepository) GetItemByID(itemID int64) (*models.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *MockInventoryRepository) LockItems(_ repositories.SQLExecutor, itemIDs []int64) ([]models.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InventoryItem
	for _, id := range itemIDs {
		if it, ok := m.items[id]; ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *MockInventoryRepository) AdjustQuantity(_ repositories.SQLExecutor, itemID int64, delta float64, updatedAt time.Time) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return 0, 0, repositories.ErrNotFound
	}
	it.CurrentQuantity += delta
	it.UpdatedAt = updatedAt
	return it.CurrentQuantity, it.MinQuantity, nil
}

func (m *MockInventoryRepository) CreateTransaction(_ repositories.SQLExecutor, txn *models.InventoryTransaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxn++
	cp := *txn
	cp.ID = m.nextTxn
	m.txns = append(m.txns, cp)
	return cp.ID, nil
}

func (m *MockInventoryRepository) GetTransactionsByOrderID(orderID int64) ([]models.InventoryTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InventoryTransaction
	for _, txn := range m.txns {
		if txn.OrderID != nil && *txn.OrderID == orderID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (m *MockInventoryRepository) GetTransactionsByItemID(itemID int64) ([]models.InventoryTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InventoryTransaction
	for _, txn := range m.txns {
		if txn.InventoryItemID == itemID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (m *MockInventoryRepository) GetRecipesByMenuItemID(menuItemID int64) ([]models.RecipeEntry, error) {
	return m.recipes[menuItemID], nil
}
