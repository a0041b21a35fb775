package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kds_backend/internal/models"

	"github.com/lib/pq"
)

// InventoryRepository persists ingredient quantities and their immutable
// transaction ledger. LockItems takes row locks (SELECT ... FOR UPDATE) in
// ascending id order so concurrent orders touching the same ingredients
// serialize instead of deadlocking; callers must hold a transaction.
type InventoryRepository interface {
	GetItems(lowOnly bool) ([]models.InventoryItem, error)
	GetItemByID(itemID int64) (*models.InventoryItem, error)
	LockItems(executor SQLExecutor, itemIDs []int64) ([]models.InventoryItem, error)
	AdjustQuantity(executor SQLExecutor, itemID int64, delta float64, updatedAt time.Time) (newQuantity, minQuantity float64, err error)
	CreateTransaction(executor SQLExecutor, txn *models.InventoryTransaction) (int64, error)
	GetTransactionsByOrderID(orderID int64) ([]models.InventoryTransaction, error)
	GetTransactionsByItemID(itemID int64) ([]models.InventoryTransaction, error)
	GetRecipesByMenuItemID(menuItemID int64) ([]models.RecipeEntry, error)
}

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository creates a new instance of InventoryRepository.
func NewInventoryRepository(db *sql.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) GetItems(lowOnly bool) ([]models.InventoryItem, error) {
	items := []models.InventoryItem{}
	query := `SELECT id, name, unit, current_quantity, min_quantity, created_at, updated_at
	          FROM inventory_items`
	if lowOnly {
		query += ` WHERE current_quantity <= min_quantity`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying inventory items: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.InventoryItem
		err := rows.Scan(&it.ID, &it.Name, &it.Unit, &it.CurrentQuantity, &it.MinQuantity, &it.CreatedAt, &it.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning inventory item: %v", ErrDatabaseError, err)
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating inventory item rows: %v", ErrDatabaseError, err)
	}
	return items, nil
}

func (r *inventoryRepository) GetItemByID(itemID int64) (*models.InventoryItem, error) {
	it := &models.InventoryItem{}
	query := `SELECT id, name, unit, current_quantity, min_quantity, created_at, updated_at
	          FROM inventory_items WHERE id = $1`
	err := r.db.QueryRow(query, itemID).Scan(
		&it.ID, &it.Name, &it.Unit, &it.CurrentQuantity, &it.MinQuantity, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting inventory item by ID %d: %v", ErrDatabaseError, itemID, err)
	}
	return it, nil
}

func (r *inventoryRepository) LockItems(executor SQLExecutor, itemIDs []int64) ([]models.InventoryItem, error) {
	items := []models.InventoryItem{}
	query := `SELECT id, name, unit, current_quantity, min_quantity, created_at, updated_at
	          FROM inventory_items
	          WHERE id = ANY($1)
	          ORDER BY id
	          FOR UPDATE`

	rows, err := executor.Query(query, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("%w: locking inventory items: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.InventoryItem
		err := rows.Scan(&it.ID, &it.Name, &it.Unit, &it.CurrentQuantity, &it.MinQuantity, &it.CreatedAt, &it.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning locked inventory item: %v", ErrDatabaseError, err)
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating locked inventory item rows: %v", ErrDatabaseError, err)
	}
	return items, nil
}

func (r *inventoryRepository) AdjustQuantity(executor SQLExecutor, itemID int64, delta float64, updatedAt time.Time) (float64, float64, error) {
	var newQuantity, minQuantity float64
	query := `UPDATE inventory_items
	          SET current_quantity = current_quantity + $1, updated_at = $2
	          WHERE id = $3
	          RETURNING current_quantity, min_quantity`
	err := executor.QueryRow(query, delta, updatedAt, itemID).Scan(&newQuantity, &minQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("%w: adjusting quantity for inventory item ID %d: %v", ErrDatabaseError, itemID, err)
	}
	return newQuantity, minQuantity, nil
}

func (r *inventoryRepository) CreateTransaction(executor SQLExecutor, txn *models.InventoryTransaction) (int64, error) {
	query := `INSERT INTO inventory_transactions
	            (inventory_item_id, quantity_delta, transaction_type, order_id, reference_transaction_id, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id`
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}

	err := executor.QueryRow(query,
		txn.InventoryItemID, txn.QuantityDelta, txn.TransactionType, txn.OrderID,
		txn.ReferenceTransactionID, txn.CreatedAt,
	).Scan(&txn.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return 0, fmt.Errorf("%w: creating inventory transaction (constraint: %s): %v", ErrDatabaseError, pqErr.Constraint, err)
		}
		return 0, fmt.Errorf("%w: creating inventory transaction: %v", ErrDatabaseError, err)
	}
	return txn.ID, nil
}

func (r *inventoryRepository) GetTransactionsByOrderID(orderID int64) ([]models.InventoryTransaction, error) {
	return r.getTransactions(`WHERE t.order_id = $1`, orderID)
}

func (r *inventoryRepository) GetTransactionsByItemID(itemID int64) ([]models.InventoryTransaction, error) {
	return r.getTransactions(`WHERE t.inventory_item_id = $1`, itemID)
}

func (r *inventoryRepository) getTransactions(where string, arg interface{}) ([]models.InventoryTransaction, error) {
	txns := []models.InventoryTransaction{}
	query := `SELECT t.id, t.inventory_item_id, t.quantity_delta, t.transaction_type,
	                 t.order_id, t.reference_transaction_id, t.created_at,
	                 ii.name as item_name, ii.unit as item_unit
	          FROM inventory_transactions t
	          JOIN inventory_items ii ON t.inventory_item_id = ii.id
	          ` + where + `
	          ORDER BY t.id`

	rows, err := r.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("%w: querying inventory transactions: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var txn models.InventoryTransaction
		var itemName, itemUnit sql.NullString
		err := rows.Scan(
			&txn.ID, &txn.InventoryItemID, &txn.QuantityDelta, &txn.TransactionType,
			&txn.OrderID, &txn.ReferenceTransactionID, &txn.CreatedAt,
			&itemName, &itemUnit,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning inventory transaction: %v", ErrDatabaseError, err)
		}
		if itemName.Valid {
			txn.InventoryItem = &models.InventoryItem{
				ID:   txn.InventoryItemID,
				Name: itemName.String,
				Unit: itemUnit.String,
			}
		}
		txns = append(txns, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating inventory transaction rows: %v", ErrDatabaseError, err)
	}
	return txns, nil
}

func (r *inventoryRepository) GetRecipesByMenuItemID(menuItemID int64) ([]models.RecipeEntry, error) {
	entries := []models.RecipeEntry{}
	query := `SELECT id, menu_item_id, inventory_item_id, quantity_required
	          FROM menu_item_recipes
	          WHERE menu_item_id = $1
	          ORDER BY inventory_item_id`

	rows, err := r.db.Query(query, menuItemID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying recipes for menu item ID %d: %v", ErrDatabaseError, menuItemID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.RecipeEntry
		err := rows.Scan(&e.ID, &e.MenuItemID, &e.InventoryItemID, &e.QuantityRequired)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning recipe entry: %v", ErrDatabaseError, err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating recipe rows: %v", ErrDatabaseError, err)
	}
	return entries, nil
}
