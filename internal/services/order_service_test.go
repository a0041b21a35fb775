package services

import (
	"errors"
	"sync"
	"testing"

	"kds_backend/internal/broadcast"
	"kds_backend/internal/models"
	"kds_backend/internal/repositories"
)

type orderFixture struct {
	orderRepo     *MockOrderRepository
	stationRepo   *MockStationRepository
	inventoryRepo *MockInventoryRepository
	bus           *mockPublisher
	inventorySvc  InventoryService
	svc           OrderService
}

// newOrderFixture wires an order service over in-memory repositories with
// two stations, two menu items and a small stock of two ingredients.
func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	f := &orderFixture{
		orderRepo:     NewMockOrderRepository(),
		stationRepo:   NewMockStationRepository(),
		inventoryRepo: NewMockInventoryRepository(),
		bus:           &mockPublisher{},
	}

	f.stationRepo.AddStation(models.Station{ID: 1, Name: "Grill", Category: "grill", IsActive: true})
	f.stationRepo.AddStation(models.Station{ID: 2, Name: "Fry", Category: "fry", IsActive: true})
	f.stationRepo.AddTable(models.DiningTable{ID: 5, TableNumber: "T5"})
	f.stationRepo.AddMenuItem(models.MenuItem{ID: 10, Name: "Burger", StationID: 1, IsAvailable: true})
	f.stationRepo.AddMenuItem(models.MenuItem{ID: 11, Name: "Fries", StationID: 2, IsAvailable: true})
	f.stationRepo.AddMenuItem(models.MenuItem{ID: 12, Name: "Seasonal Special", StationID: 1, IsAvailable: false})

	f.inventoryRepo.AddItem(models.InventoryItem{ID: 100, Name: "Beef Patty", Unit: "pcs", CurrentQuantity: 10, MinQuantity: 2})
	f.inventoryRepo.AddItem(models.InventoryItem{ID: 101, Name: "Potatoes", Unit: "kg", CurrentQuantity: 5, MinQuantity: 1})
	f.inventoryRepo.AddRecipe(10, models.RecipeEntry{MenuItemID: 10, InventoryItemID: 100, QuantityRequired: 1})
	f.inventoryRepo.AddRecipe(11, models.RecipeEntry{MenuItemID: 11, InventoryItemID: 101, QuantityRequired: 0.2})

	f.inventorySvc = NewInventoryService(f.inventoryRepo, f.bus)
	f.svc = NewOrderService(f.orderRepo, f.stationRepo, f.inventorySvc, f.bus, &mockTxProvider{}, DefaultEscalationThresholds())
	return f
}

func (f *orderFixture) createOrder(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(CreateOrderRequest{
		TableID: 5,
		Items: []CreateTicketItemRequest{
			{MenuItemID: 10, Quantity: 2},
			{MenuItemID: 11, Quantity: 1, SpecialInstructions: "extra salt"},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (f *orderFixture) confirmOrder(t *testing.T) *models.Order {
	t.Helper()
	order := f.createOrder(t)
	confirmed, err := f.svc.ConfirmOrder(order.ID)
	if err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	return confirmed
}

func TestCreateOrderRoutesItemsToStations(t *testing.T) {
	f := newOrderFixture(t)

	order := f.createOrder(t)
	if order.Status != StatusPending {
		t.Errorf("status = %q, want %q", order.Status, StatusPending)
	}
	if len(order.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(order.Items))
	}
	for _, item := range order.Items {
		want := int64(1)
		if item.MenuItemID == 11 {
			want = 2
		}
		if item.StationID != want {
			t.Errorf("menu item %d routed to station %d, want %d", item.MenuItemID, item.StationID, want)
		}
		if item.PrepStatus != PrepStatusPending {
			t.Errorf("prep status = %q, want %q", item.PrepStatus, PrepStatusPending)
		}
	}
	if got := len(f.bus.published()); got != 0 {
		t.Errorf("pending order published %d events, want 0", got)
	}
}

func TestCreateOrderRejectsUnknownTableAndItems(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.CreateOrder(CreateOrderRequest{TableID: 99, Items: []CreateTicketItemRequest{{MenuItemID: 10, Quantity: 1}}})
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("unknown table: got %v, want ErrTableNotFound", err)
	}

	_, err = f.svc.CreateOrder(CreateOrderRequest{TableID: 5, Items: []CreateTicketItemRequest{{MenuItemID: 999, Quantity: 1}}})
	if !errors.Is(err, ErrMenuItemNotFound) {
		t.Errorf("unknown menu item: got %v, want ErrMenuItemNotFound", err)
	}

	_, err = f.svc.CreateOrder(CreateOrderRequest{TableID: 5, Items: []CreateTicketItemRequest{{MenuItemID: 12, Quantity: 1}}})
	if !errors.Is(err, ErrMenuItemNotFound) {
		t.Errorf("unavailable menu item: got %v, want ErrMenuItemNotFound", err)
	}
}

func TestConfirmOrderDeductsInventoryAndPublishes(t *testing.T) {
	f := newOrderFixture(t)

	order := f.confirmOrder(t)
	if order.Status != StatusConfirmed {
		t.Errorf("status = %q, want %q", order.Status, StatusConfirmed)
	}

	patty, _ := f.inventoryRepo.GetItemByID(100)
	if patty.CurrentQuantity != 8 { // 10 - 2x1
		t.Errorf("beef patty quantity = %v, want 8", patty.CurrentQuantity)
	}
	potatoes, _ := f.inventoryRepo.GetItemByID(101)
	if potatoes.CurrentQuantity != 4.8 { // 5 - 1x0.2
		t.Errorf("potatoes quantity = %v, want 4.8", potatoes.CurrentQuantity)
	}

	txns, _ := f.inventoryRepo.GetTransactionsByOrderID(order.ID)
	if len(txns) != 2 {
		t.Fatalf("usage transactions = %d, want 2", len(txns))
	}
	for _, txn := range txns {
		if txn.TransactionType != TxnTypeUsage {
			t.Errorf("transaction type = %q, want %q", txn.TransactionType, TxnTypeUsage)
		}
		if txn.QuantityDelta >= 0 {
			t.Errorf("usage delta = %v, want negative", txn.QuantityDelta)
		}
	}

	newOrders := f.bus.byType(broadcast.EventNewOrder)
	if len(newOrders) != 1 {
		t.Fatalf("new_order events = %d, want 1", len(newOrders))
	}
	rooms := map[string]bool{}
	for _, room := range newOrders[0].Rooms {
		rooms[room] = true
	}
	for _, want := range []string{broadcast.RoomChef, broadcast.StationRoom(1), broadcast.StationRoom(2)} {
		if !rooms[want] {
			t.Errorf("new_order missing room %q, got %v", want, newOrders[0].Rooms)
		}
	}
}

func TestConfirmOrderInsufficientStockIsAllOrNothing(t *testing.T) {
	f := newOrderFixture(t)
	// Plenty of potatoes, almost no patties.
	f.inventoryRepo.items[100].CurrentQuantity = 1

	order := f.createOrder(t)
	_, err := f.svc.ConfirmOrder(order.ID)

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("got %v, want InsufficientStockError", err)
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Error("InsufficientStockError does not unwrap to ErrInsufficientStock")
	}
	if len(stockErr.Shortfalls) != 1 {
		t.Fatalf("shortfalls = %d, want 1", len(stockErr.Shortfalls))
	}
	sf := stockErr.Shortfalls[0]
	if sf.InventoryItemID != 100 || sf.Required != 2 || sf.Available != 1 {
		t.Errorf("shortfall = %+v, want item 100 required 2 available 1", sf)
	}

	// The sufficient ingredient must be untouched too.
	potatoes, _ := f.inventoryRepo.GetItemByID(101)
	if potatoes.CurrentQuantity != 5 {
		t.Errorf("potatoes quantity = %v, want untouched 5", potatoes.CurrentQuantity)
	}
	if txns, _ := f.inventoryRepo.GetTransactionsByOrderID(order.ID); len(txns) != 0 {
		t.Errorf("transactions recorded = %d, want 0", len(txns))
	}

	current, _ := f.svc.GetOrderByID(order.ID)
	if current.Status != StatusPending {
		t.Errorf("order status = %q, want still %q", current.Status, StatusPending)
	}
}

func TestConfirmOrderTwiceConflicts(t *testing.T) {
	f := newOrderFixture(t)

	order := f.confirmOrder(t)
	_, err := f.svc.ConfirmOrder(order.ID)

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if conflict.Actual != StatusConfirmed {
		t.Errorf("conflict actual = %q, want %q", conflict.Actual, StatusConfirmed)
	}
}

func TestItemTransitionsDriveOrderStatus(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)

	// Start the first ticket: order moves to preparing.
	first := order.Items[0]
	ticket, err := f.svc.UpdateItemStatus(first.ID, 42, UpdateItemStatusRequest{
		ExpectedStatus: PrepStatusPending,
		NewStatus:      PrepStatusPreparing,
	})
	if err != nil {
		t.Fatalf("start ticket: %v", err)
	}
	if ticket.PrepStatus != PrepStatusPreparing {
		t.Errorf("prep status = %q, want %q", ticket.PrepStatus, PrepStatusPreparing)
	}
	if ticket.PrepStartTime == nil {
		t.Error("prep start time not stamped")
	}
	if ticket.AssignedOperatorID == nil || *ticket.AssignedOperatorID != 42 {
		t.Errorf("assigned operator = %v, want 42", ticket.AssignedOperatorID)
	}
	current, _ := f.svc.GetOrderByID(order.ID)
	if current.Status != StatusPreparing {
		t.Errorf("order status = %q, want %q", current.Status, StatusPreparing)
	}

	// Finish the first ticket: order stays preparing, no order_ready yet.
	if _, err := f.svc.UpdateItemStatus(first.ID, 42, UpdateItemStatusRequest{
		ExpectedStatus: PrepStatusPreparing,
		NewStatus:      PrepStatusReady,
	}); err != nil {
		t.Fatalf("complete first ticket: %v", err)
	}
	if got := len(f.bus.byType(broadcast.EventOrderReady)); got != 0 {
		t.Fatalf("order_ready events = %d, want 0 with a ticket outstanding", got)
	}

	// Walk the second ticket to ready: order flips and order_ready fires once.
	second := order.Items[1]
	for _, step := range []UpdateItemStatusRequest{
		{ExpectedStatus: PrepStatusPending, NewStatus: PrepStatusPreparing},
		{ExpectedStatus: PrepStatusPreparing, NewStatus: PrepStatusReady},
	} {
		if _, err := f.svc.UpdateItemStatus(second.ID, 42, step); err != nil {
			t.Fatalf("second ticket %s -> %s: %v", step.ExpectedStatus, step.NewStatus, err)
		}
	}

	current, _ = f.svc.GetOrderByID(order.ID)
	if current.Status != StatusReady {
		t.Errorf("order status = %q, want %q", current.Status, StatusReady)
	}
	ready := f.bus.byType(broadcast.EventOrderReady)
	if len(ready) != 1 {
		t.Fatalf("order_ready events = %d, want exactly 1", len(ready))
	}
	rooms := map[string]bool{}
	for _, room := range ready[0].Rooms {
		rooms[room] = true
	}
	if !rooms[broadcast.RoomStaff] || !rooms[broadcast.RoomManager] {
		t.Errorf("order_ready rooms = %v, want staff and manager", ready[0].Rooms)
	}

	changed := f.bus.byType(broadcast.EventItemStatusChanged)
	if len(changed) != 4 {
		t.Errorf("item_status_changed events = %d, want 4", len(changed))
	}
}

func TestUpdateItemStatusStaleExpectedConflicts(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)
	itemID := order.Items[0].ID

	if _, err := f.svc.UpdateItemStatus(itemID, 1, UpdateItemStatusRequest{
		ExpectedStatus: PrepStatusPending,
		NewStatus:      PrepStatusPreparing,
	}); err != nil {
		t.Fatalf("start ticket: %v", err)
	}

	// A second operator still holding the pending view loses the swap.
	_, err := f.svc.UpdateItemStatus(itemID, 2, UpdateItemStatusRequest{
		ExpectedStatus: PrepStatusPending,
		NewStatus:      PrepStatusPreparing,
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if conflict.Entity != "ticket_item" || conflict.Actual != PrepStatusPreparing {
		t.Errorf("conflict = %+v, want ticket_item actual preparing", conflict)
	}

	ticket, _ := f.orderRepo.GetTicketItemByID(itemID)
	if ticket.AssignedOperatorID == nil || *ticket.AssignedOperatorID != 1 {
		t.Errorf("assigned operator = %v, want first claimant 1", ticket.AssignedOperatorID)
	}
}

func TestUpdateItemStatusRejectsInvalidEdges(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)
	itemID := order.Items[0].ID

	cases := []UpdateItemStatusRequest{
		{ExpectedStatus: PrepStatusPending, NewStatus: PrepStatusReady},
		{ExpectedStatus: PrepStatusReady, NewStatus: PrepStatusPending},
		{ExpectedStatus: PrepStatusPreparing, NewStatus: PrepStatusPending},
		{ExpectedStatus: PrepStatusPending, NewStatus: "served"},
	}
	for _, req := range cases {
		if _, err := f.svc.UpdateItemStatus(itemID, 1, req); !errors.Is(err, ErrInvalidPrepStatus) {
			t.Errorf("%s -> %s: got %v, want ErrInvalidPrepStatus", req.ExpectedStatus, req.NewStatus, err)
		}
	}
}

func TestUpdateItemStatusRequiresActiveOrder(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createOrder(t) // still pending

	_, err := f.svc.UpdateItemStatus(order.Items[0].ID, 1, UpdateItemStatusRequest{
		ExpectedStatus: PrepStatusPending,
		NewStatus:      PrepStatusPreparing,
	})
	if !errors.Is(err, ErrInvalidOrderStatus) {
		t.Errorf("got %v, want ErrInvalidOrderStatus", err)
	}
}

func TestServeAndBumpOrder(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)

	// Not ready yet.
	if _, err := f.svc.ServeOrder(order.ID); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("serve confirmed order: got %v, want status conflict", err)
	}

	for _, item := range order.Items {
		for _, step := range []UpdateItemStatusRequest{
			{ExpectedStatus: PrepStatusPending, NewStatus: PrepStatusPreparing},
			{ExpectedStatus: PrepStatusPreparing, NewStatus: PrepStatusReady},
		} {
			if _, err := f.svc.UpdateItemStatus(item.ID, 1, step); err != nil {
				t.Fatalf("ticket %d: %v", item.ID, err)
			}
		}
	}

	served, err := f.svc.ServeOrder(order.ID)
	if err != nil {
		t.Fatalf("ServeOrder: %v", err)
	}
	if served.Status != StatusServed {
		t.Errorf("status = %q, want %q", served.Status, StatusServed)
	}

	bumped, err := f.svc.BumpOrder(order.ID)
	if err != nil {
		t.Fatalf("BumpOrder: %v", err)
	}
	if bumped.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", bumped.Status, StatusCompleted)
	}
	if bumped.BumpedAt == nil {
		t.Error("bumped_at not stamped")
	}
	if got := len(f.bus.byType(broadcast.EventOrderBumped)); got != 1 {
		t.Errorf("order_bumped events = %d, want 1", got)
	}

	// Bumping again conflicts.
	if _, err := f.svc.BumpOrder(order.ID); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("double bump: got %v, want status conflict", err)
	}
}

func TestCancelPendingOrder(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createOrder(t)

	cancelled, err := f.svc.CancelOrder(order.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %q, want %q", cancelled.Status, StatusCancelled)
	}
	// Nothing was deducted, nothing to reverse.
	if txns, _ := f.inventoryRepo.GetTransactionsByOrderID(order.ID); len(txns) != 0 {
		t.Errorf("transactions = %d, want 0", len(txns))
	}
}

func TestCancelConfirmedOrderRestoresInventory(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)

	cancelled, err := f.svc.CancelOrder(order.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %q, want %q", cancelled.Status, StatusCancelled)
	}

	patty, _ := f.inventoryRepo.GetItemByID(100)
	if patty.CurrentQuantity != 10 {
		t.Errorf("beef patty quantity = %v, want restored 10", patty.CurrentQuantity)
	}
	potatoes, _ := f.inventoryRepo.GetItemByID(101)
	if potatoes.CurrentQuantity != 5 {
		t.Errorf("potatoes quantity = %v, want restored 5", potatoes.CurrentQuantity)
	}

	// The reversal is a new compensating record referencing the usage, not
	// an edit of it.
	txns, _ := f.inventoryRepo.GetTransactionsByOrderID(order.ID)
	if len(txns) != 4 {
		t.Fatalf("transactions = %d, want 2 usages + 2 reversals", len(txns))
	}
	usageIDs := map[int64]bool{}
	for _, txn := range txns {
		if txn.TransactionType == TxnTypeUsage {
			usageIDs[txn.ID] = true
		}
	}
	for _, txn := range txns {
		if txn.TransactionType != TxnTypeAdjustment {
			continue
		}
		if txn.ReferenceTransactionID == nil || !usageIDs[*txn.ReferenceTransactionID] {
			t.Errorf("reversal %d does not reference a usage transaction", txn.ID)
		}
		if txn.QuantityDelta <= 0 {
			t.Errorf("reversal delta = %v, want positive", txn.QuantityDelta)
		}
	}
}

func TestCancelLosesToConcurrentConfirm(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createOrder(t)

	// Slip a full confirm in between cancel's status read and its swap.
	// The cancel saw pending and skipped the reversal, so it must not be
	// allowed to win against the now-deducted order.
	var interleaved bool
	txp := &mockTxProvider{}
	txp.BeginFunc = func() (repositories.Tx, error) {
		if !interleaved {
			interleaved = true
			if _, err := f.svc.ConfirmOrder(order.ID); err != nil {
				t.Fatalf("interleaved ConfirmOrder: %v", err)
			}
		}
		return mockTx{}, nil
	}
	racer := NewOrderService(f.orderRepo, f.stationRepo, f.inventorySvc, f.bus, txp, DefaultEscalationThresholds())

	_, err := racer.CancelOrder(order.ID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if conflict.Actual != StatusConfirmed {
		t.Errorf("conflict actual = %q, want %q", conflict.Actual, StatusConfirmed)
	}

	current, _ := f.svc.GetOrderByID(order.ID)
	if current.Status != StatusConfirmed {
		t.Errorf("order status = %q, want still %q", current.Status, StatusConfirmed)
	}
	patty, _ := f.inventoryRepo.GetItemByID(100)
	if patty.CurrentQuantity != 8 {
		t.Errorf("beef patty quantity = %v, want deducted 8", patty.CurrentQuantity)
	}
	if txns, _ := f.inventoryRepo.GetTransactionsByOrderID(order.ID); len(txns) != 2 {
		t.Errorf("transactions = %d, want the 2 usages only", len(txns))
	}
}

func TestConcurrentItemClaimsOneWinner(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)
	itemID := order.Items[0].ID

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for operator := int64(1); operator <= 2; operator++ {
		wg.Add(1)
		go func(op int64) {
			defer wg.Done()
			_, err := f.svc.UpdateItemStatus(itemID, op, UpdateItemStatusRequest{
				ExpectedStatus: PrepStatusPending,
				NewStatus:      PrepStatusPreparing,
			})
			results <- err
		}(operator)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("loser error = %v, want ConflictError", err)
		}
		if conflict.Actual != PrepStatusPreparing {
			t.Errorf("conflict actual = %q, want %q", conflict.Actual, PrepStatusPreparing)
		}
		conflicts++
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d conflicts = %d, want exactly one of each", wins, conflicts)
	}

	ticket, _ := f.orderRepo.GetTicketItemByID(itemID)
	if ticket.PrepStartTime == nil {
		t.Fatal("prep start time not stamped")
	}
	if ticket.AssignedOperatorID == nil {
		t.Fatal("no operator assigned")
	}
	if got := len(f.bus.byType(broadcast.EventItemStatusChanged)); got != 1 {
		t.Errorf("item_status_changed events = %d, want 1 from the single winner", got)
	}
}

func TestRacingCompletionsReadyOrderOnce(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)

	for _, item := range order.Items {
		if _, err := f.svc.UpdateItemStatus(item.ID, 1, UpdateItemStatusRequest{
			ExpectedStatus: PrepStatusPending,
			NewStatus:      PrepStatusPreparing,
		}); err != nil {
			t.Fatalf("start ticket %d: %v", item.ID, err)
		}
	}

	// Both remaining tickets finish at the same instant; whichever lands
	// last must be the only one to flip the order and announce it.
	var wg sync.WaitGroup
	for _, item := range order.Items {
		wg.Add(1)
		go func(itemID int64) {
			defer wg.Done()
			if _, err := f.svc.UpdateItemStatus(itemID, 1, UpdateItemStatusRequest{
				ExpectedStatus: PrepStatusPreparing,
				NewStatus:      PrepStatusReady,
			}); err != nil {
				t.Errorf("complete ticket %d: %v", itemID, err)
			}
		}(item.ID)
	}
	wg.Wait()

	current, _ := f.svc.GetOrderByID(order.ID)
	if current.Status != StatusReady {
		t.Errorf("order status = %q, want %q", current.Status, StatusReady)
	}
	if got := len(f.bus.byType(broadcast.EventOrderReady)); got != 1 {
		t.Errorf("order_ready events = %d, want exactly 1", got)
	}
}

func TestCancelRejectedOncePreparing(t *testing.T) {
	f := newOrderFixture(t)
	order := f.confirmOrder(t)

	if _, err := f.svc.UpdateItemStatus(order.Items[0].ID, 1, UpdateItemStatusRequest{
		ExpectedStatus: PrepStatusPending,
		NewStatus:      PrepStatusPreparing,
	}); err != nil {
		t.Fatalf("start ticket: %v", err)
	}

	if _, err := f.svc.CancelOrder(order.ID); !errors.Is(err, ErrInvalidOrderStatus) {
		t.Errorf("got %v, want ErrInvalidOrderStatus", err)
	}
}
