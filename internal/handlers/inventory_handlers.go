package handlers

import (
	"errors"
	"net/http"

	"kds_backend/internal/services"
	"kds_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// InventoryHandler serves the ingredient ledger read endpoints.
type InventoryHandler struct {
	inventoryService services.InventoryService
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(is services.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventoryService: is}
}

// GetItems handles listing inventory items. Pass low=true to list only
// items at or below their minimum quantity.
func (h *InventoryHandler) GetItems(c *gin.Context) {
	lowOnly := c.Query("low") == "true"
	items, err := h.inventoryService.GetItems(lowOnly)
	if err != nil {
		utils.LogError(err, "GetItems: Error from inventoryService.GetItems")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch inventory items.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, items)
}

// GetItemByID handles fetching a single inventory item.
func (h *InventoryHandler) GetItemByID(c *gin.Context) {
	itemID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid inventory item ID format.", err.Error()))
		return
	}

	item, err := h.inventoryService.GetItemByID(itemID)
	if err != nil {
		if errors.Is(err, services.ErrInventoryNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Inventory item not found.", err.Error()))
			return
		}
		utils.LogError(err, "GetItemByID: Error from inventoryService.GetItemByID")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch inventory item.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, item)
}

// GetItemTransactions handles fetching an item's ledger entries in recording order.
func (h *InventoryHandler) GetItemTransactions(c *gin.Context) {
	itemID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid inventory item ID format.", err.Error()))
		return
	}

	txns, err := h.inventoryService.GetItemTransactions(itemID)
	if err != nil {
		if errors.Is(err, services.ErrInventoryNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Inventory item not found.", err.Error()))
			return
		}
		utils.LogError(err, "GetItemTransactions: Error from inventoryService.GetItemTransactions")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch inventory transactions.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, txns)
}
