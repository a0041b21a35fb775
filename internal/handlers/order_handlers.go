package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"kds_backend/internal/models"
	"kds_backend/internal/services"
	"kds_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// OrderHandler holds the order service.
type OrderHandler struct {
	orderService services.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(os services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: os}
}

// respondOrderError maps service errors to API responses shared by the
// lifecycle endpoints.
func respondOrderError(c *gin.Context, err error, action string) {
	var conflict *services.ConflictError
	var stock *services.InsufficientStockError
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Order not found.", err.Error()))
	case errors.Is(err, services.ErrTableNotFound):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Table not found.", err.Error()))
	case errors.Is(err, services.ErrMenuItemNotFound):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "One or more menu items not found or unavailable.", err.Error()))
	case errors.As(err, &stock):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeInsufficientStock, "Insufficient stock for one or more ingredients.", stock.Shortfalls))
	case errors.As(err, &conflict):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeConflict, "Order state changed concurrently.", conflict))
	case errors.Is(err, services.ErrInvalidOrderStatus):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeConflict, "Order status does not allow this action.", err.Error()))
	case errors.Is(err, services.ErrValidation):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request.", err.Error()))
	default:
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to "+action+".", "Internal error"))
	}
}

// CreateOrder handles the creation of a new order with its items.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req services.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "CreateOrder: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload: "+err.Error(), err.Error()))
		return
	}

	createdOrder, err := h.orderService.CreateOrder(req)
	if err != nil {
		utils.LogError(err, "CreateOrder: Error from orderService.CreateOrder")
		respondOrderError(c, err, "create order")
		return
	}
	c.JSON(http.StatusCreated, createdOrder)
}

// GetOrders handles fetching orders with filters.
func (h *OrderHandler) GetOrders(c *gin.Context) {
	var filters models.OrderFilters

	if tableIDStr := c.Query("table_id"); tableIDStr != "" {
		tableID, err := strconv.ParseInt(tableIDStr, 10, 64)
		if err != nil {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid table_id format.", err.Error()))
			return
		}
		filters.TableID = &tableID
	}
	if status := c.Query("status"); status != "" {
		filters.Status = &status
	}
	if date := c.Query("date"); date != "" {
		filters.Date = &date
	}
	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page <= 0 {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid page format.", "page must be a positive integer"))
			return
		}
		filters.Page = page
	} else {
		filters.Page = 1
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		pageSize, err := strconv.Atoi(pageSizeStr)
		if err != nil || pageSize <= 0 {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid page_size format.", "page_size must be a positive integer"))
			return
		}
		filters.PageSize = pageSize
	} else {
		filters.PageSize = 10
	}

	orders, totalCount, err := h.orderService.GetOrders(filters)
	if err != nil {
		utils.LogError(err, "GetOrders: Error from orderService.GetOrders")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch orders.", "Internal error"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": orders,
		"pagination": gin.H{
			"page":        filters.Page,
			"page_size":   filters.PageSize,
			"total_count": totalCount,
		},
	})
}

// GetOrderByID handles fetching a single order with its ticket items.
func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	orderID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid order ID format.", err.Error()))
		return
	}

	order, err := h.orderService.GetOrderByID(orderID)
	if err != nil {
		utils.LogError(err, "GetOrderByID: Error from orderService.GetOrderByID")
		respondOrderError(c, err, "fetch order")
		return
	}
	c.JSON(http.StatusOK, order)
}

// ConfirmOrder handles confirming a pending order, deducting its
// ingredients atomically.
func (h *OrderHandler) ConfirmOrder(c *gin.Context) {
	orderID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid order ID format.", err.Error()))
		return
	}

	order, err := h.orderService.ConfirmOrder(orderID)
	if err != nil {
		utils.LogError(err, "ConfirmOrder: Error from orderService.ConfirmOrder")
		respondOrderError(c, err, "confirm order")
		return
	}
	c.JSON(http.StatusOK, order)
}

// ServeOrder handles marking a ready order as served.
func (h *OrderHandler) ServeOrder(c *gin.Context) {
	orderID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid order ID format.", err.Error()))
		return
	}

	order, err := h.orderService.ServeOrder(orderID)
	if err != nil {
		utils.LogError(err, "ServeOrder: Error from orderService.ServeOrder")
		respondOrderError(c, err, "serve order")
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelOrder handles cancelling a pending or confirmed order. Confirmed
// orders get their inventory deductions reversed.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid order ID format.", err.Error()))
		return
	}

	order, err := h.orderService.CancelOrder(orderID)
	if err != nil {
		utils.LogError(err, "CancelOrder: Error from orderService.CancelOrder")
		respondOrderError(c, err, "cancel order")
		return
	}
	c.JSON(http.StatusOK, order)
}
