package services

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"kds_backend/internal/broadcast"
	"kds_backend/internal/models"
	"kds_backend/internal/repositories"
)

// Inventory transaction types.
const (
	TxnTypeUsage      = "usage"
	TxnTypeAdjustment = "adjustment"
)

// EventPublisher is the slice of the broadcast hub the services need.
// Publishing happens after the owning transaction commits and is
// fire-and-forget; a delivery fault never fails the business operation.
type EventPublisher interface {
	Publish(event broadcast.Event, rooms ...string)
}

// LowStockAlert is collected during a deduction and published after commit.
type LowStockAlert struct {
	ItemName        string
	CurrentQuantity float64
	MinQuantity     float64
}

// --- InventoryService Interface ---

// InventoryService is the inventory ledger: quantities change only through
// immutable transactions, and the check-then-deduct for an order is
// serialized per ingredient via row locks held across the whole order.
type InventoryService interface {
	// DeductForOrder runs inside the caller's transaction so order
	// confirmation and deduction commit or roll back together.
	DeductForOrder(tx repositories.SQLExecutor, order *models.Order) ([]LowStockAlert, error)
	// ReverseForOrder writes compensating transactions for every usage
	// previously recorded against the order.
	ReverseForOrder(tx repositories.SQLExecutor, orderID int64) error
	PublishLowStockAlerts(alerts []LowStockAlert)

	GetItems(lowOnly bool) ([]models.InventoryItem, error)
	GetItemByID(itemID int64) (*models.InventoryItem, error)
	GetItemTransactions(itemID int64) ([]models.InventoryTransaction, error)
}

// --- inventoryService Implementation ---

type inventoryService struct {
	inventoryRepo repositories.InventoryRepository
	bus           EventPublisher
}

// NewInventoryService creates a new instance of InventoryService.
func NewInventoryService(ir repositories.InventoryRepository, bus EventPublisher) InventoryService {
	return &inventoryService{
		inventoryRepo: ir,
		bus:           bus,
	}
}

// requiredForOrder aggregates (ingredient, quantity) across every line
// item's recipe. Two line items sharing an ingredient sum up.
func (s *inventoryService) requiredForOrder(order *models.Order) (map[int64]float64, error) {
	required := make(map[int64]float64)
	for _, item := range order.Items {
		recipes, err := s.inventoryRepo.GetRecipesByMenuItemID(item.MenuItemID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch recipe for menu item %d: %w", item.MenuItemID, err)
		}
		for _, entry := range recipes {
			required[entry.InventoryItemID] += entry.QuantityRequired * float64(item.Quantity)
		}
	}
	return required, nil
}

func (s *inventoryService) DeductForOrder(tx repositories.SQLExecutor, order *models.Order) ([]LowStockAlert, error) {
	required, err := s.requiredForOrder(order)
	if err != nil {
		return nil, err
	}
	if len(required) == 0 {
		return nil, nil // nothing in this order consumes tracked stock
	}

	ids := make([]int64, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked, err := s.inventoryRepo.LockItems(tx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory rows: %w", err)
	}
	byID := make(map[int64]models.InventoryItem, len(locked))
	for _, it := range locked {
		byID[it.ID] = it
	}

	// Verify every ingredient before touching any. All-or-nothing.
	var shortfalls []StockShortfall
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: recipe references inventory item %d", ErrInventoryNotFound, id)
		}
		if it.CurrentQuantity < required[id] {
			shortfalls = append(shortfalls, StockShortfall{
				InventoryItemID: it.ID,
				Ingredient:      it.Name,
				Required:        required[id],
				Available:       it.CurrentQuantity,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &InsufficientStockError{Shortfalls: shortfalls}
	}

	now := time.Now()
	var alerts []LowStockAlert
	for _, id := range ids {
		qty := required[id]
		newQuantity, minQuantity, err := s.inventoryRepo.AdjustQuantity(tx, id, -qty, now)
		if err != nil {
			return nil, fmt.Errorf("failed to deduct inventory item %d: %w", id, err)
		}
		txn := models.InventoryTransaction{
			InventoryItemID: id,
			QuantityDelta:   -qty,
			TransactionType: TxnTypeUsage,
			OrderID:         &order.ID,
			CreatedAt:       now,
		}
		if _, err := s.inventoryRepo.CreateTransaction(tx, &txn); err != nil {
			return nil, fmt.Errorf("failed to record usage transaction for inventory item %d: %w", id, err)
		}
		if newQuantity <= minQuantity {
			alerts = append(alerts, LowStockAlert{
				ItemName:        byID[id].Name,
				CurrentQuantity: newQuantity,
				MinQuantity:     minQuantity,
			})
		}
	}
	return alerts, nil
}

func (s *inventoryService) ReverseForOrder(tx repositories.SQLExecutor, orderID int64) error {
	txns, err := s.inventoryRepo.GetTransactionsByOrderID(orderID)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions for order %d: %w", orderID, err)
	}

	now := time.Now()
	for i := range txns {
		txn := txns[i]
		if txn.TransactionType != TxnTypeUsage {
			continue // only usages are compensated; adjustments stay as-is
		}
		restore := -txn.QuantityDelta // usage deltas are negative
		if _, _, err := s.inventoryRepo.AdjustQuantity(tx, txn.InventoryItemID, restore, now); err != nil {
			return fmt.Errorf("failed to restore inventory item %d: %w", txn.InventoryItemID, err)
		}
		reversal := models.InventoryTransaction{
			InventoryItemID:        txn.InventoryItemID,
			QuantityDelta:          restore,
			TransactionType:        TxnTypeAdjustment,
			OrderID:                &orderID,
			ReferenceTransactionID: &txn.ID,
			CreatedAt:              now,
		}
		if _, err := s.inventoryRepo.CreateTransaction(tx, &reversal); err != nil {
			return fmt.Errorf("failed to record reversal transaction for inventory item %d: %w", txn.InventoryItemID, err)
		}
	}
	return nil
}

func (s *inventoryService) PublishLowStockAlerts(alerts []LowStockAlert) {
	for _, a := range alerts {
		s.bus.Publish(broadcast.InventoryLow{
			ItemName:        a.ItemName,
			CurrentQuantity: a.CurrentQuantity,
			MinQuantity:     a.MinQuantity,
		}, broadcast.RoomManager, broadcast.RoomChef)
	}
}

func (s *inventoryService) GetItems(lowOnly bool) ([]models.InventoryItem, error) {
	items, err := s.inventoryRepo.GetItems(lowOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory items: %w", err)
	}
	return items, nil
}

func (s *inventoryService) GetItemByID(itemID int64) (*models.InventoryItem, error) {
	item, err := s.inventoryRepo.GetItemByID(itemID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInventoryNotFound
		}
		return nil, fmt.Errorf("failed to get inventory item: %w", err)
	}
	return item, nil
}

func (s *inventoryService) GetItemTransactions(itemID int64) ([]models.InventoryTransaction, error) {
	if _, err := s.GetItemByID(itemID); err != nil {
		return nil, err
	}
	txns, err := s.inventoryRepo.GetTransactionsByItemID(itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for inventory item %d: %w", itemID, err)
	}
	return txns, nil
}
