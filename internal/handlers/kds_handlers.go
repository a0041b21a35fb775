package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"kds_backend/internal/services"
	"kds_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// KDSHandler serves the kitchen display endpoints: station queues, ticket
// prep transitions, reassignment and order bumping.
type KDSHandler struct {
	orderService   services.OrderService
	stationService services.StationService
}

// NewKDSHandler creates a new KDSHandler.
func NewKDSHandler(os services.OrderService, ss services.StationService) *KDSHandler {
	return &KDSHandler{orderService: os, stationService: ss}
}

func respondTicketError(c *gin.Context, err error, action string) {
	var conflict *services.ConflictError
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Ticket item not found.", err.Error()))
	case errors.Is(err, services.ErrStationNotFound):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Station not found.", err.Error()))
	case errors.As(err, &conflict):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeConflict, "Ticket state changed concurrently.", conflict))
	case errors.Is(err, services.ErrInvalidPrepStatus):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid preparation status transition.", err.Error()))
	case errors.Is(err, services.ErrInvalidOrderStatus):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeConflict, "Order status does not allow ticket updates.", err.Error()))
	case errors.Is(err, services.ErrValidation):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request.", err.Error()))
	default:
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to "+action+".", "Internal error"))
	}
}

// operatorID pulls the authenticated user's ID out of the request context.
func operatorID(c *gin.Context) int64 {
	if v, exists := c.Get("userID"); exists {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// GetStations handles listing kitchen stations. Pass active=true to hide
// deactivated stations.
func (h *KDSHandler) GetStations(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	stations, err := h.stationService.GetStations(activeOnly)
	if err != nil {
		utils.LogError(err, "GetStations: Error from stationService.GetStations")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch stations.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, stations)
}

// GetStationByID handles fetching one station.
func (h *KDSHandler) GetStationByID(c *gin.Context) {
	stationID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid station ID format.", err.Error()))
		return
	}

	station, err := h.stationService.GetStationByID(stationID)
	if err != nil {
		if errors.Is(err, services.ErrStationNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Station not found.", err.Error()))
			return
		}
		utils.LogError(err, "GetStationByID: Error from stationService.GetStationByID")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch station.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, station)
}

// GetStationQueue handles fetching a station's pending and in-progress
// tickets, most urgent first.
func (h *KDSHandler) GetStationQueue(c *gin.Context) {
	stationID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid station ID format.", err.Error()))
		return
	}

	queue, err := h.stationService.ViewQueue(stationID, time.Now())
	if err != nil {
		utils.LogError(err, "GetStationQueue: Error from stationService.ViewQueue")
		respondTicketError(c, err, "fetch station queue")
		return
	}
	c.JSON(http.StatusOK, queue)
}

// GetActiveOrders handles the kitchen display's order view. An optional
// station_id query narrows each order to that station's items.
func (h *KDSHandler) GetActiveOrders(c *gin.Context) {
	var stationID *int64
	if stationIDStr := c.Query("station_id"); stationIDStr != "" {
		id, err := strconv.ParseInt(stationIDStr, 10, 64)
		if err != nil {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid station_id format.", err.Error()))
			return
		}
		stationID = &id
	}

	orders, err := h.orderService.GetActiveKDSOrders(stationID, time.Now())
	if err != nil {
		utils.LogError(err, "GetActiveOrders: Error from orderService.GetActiveKDSOrders")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch active orders.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, orders)
}

// UpdateItemStatus handles an explicit check-and-swap prep transition.
func (h *KDSHandler) UpdateItemStatus(c *gin.Context) {
	itemID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid ticket item ID format.", err.Error()))
		return
	}

	var req services.UpdateItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "UpdateItemStatus: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload: "+err.Error(), err.Error()))
		return
	}

	ticket, err := h.orderService.UpdateItemStatus(itemID, operatorID(c), req)
	if err != nil {
		utils.LogError(err, "UpdateItemStatus: Error from orderService.UpdateItemStatus")
		respondTicketError(c, err, "update ticket status")
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// StartItem is a shortcut for the pending -> preparing transition.
func (h *KDSHandler) StartItem(c *gin.Context) {
	h.transitionItem(c, services.UpdateItemStatusRequest{
		ExpectedStatus: services.PrepStatusPending,
		NewStatus:      services.PrepStatusPreparing,
	})
}

// CompleteItem is a shortcut for the preparing -> ready transition.
func (h *KDSHandler) CompleteItem(c *gin.Context) {
	h.transitionItem(c, services.UpdateItemStatusRequest{
		ExpectedStatus: services.PrepStatusPreparing,
		NewStatus:      services.PrepStatusReady,
	})
}

func (h *KDSHandler) transitionItem(c *gin.Context, req services.UpdateItemStatusRequest) {
	itemID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid ticket item ID format.", err.Error()))
		return
	}

	ticket, err := h.orderService.UpdateItemStatus(itemID, operatorID(c), req)
	if err != nil {
		utils.LogError(err, "transitionItem: Error from orderService.UpdateItemStatus")
		respondTicketError(c, err, "update ticket status")
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ReassignItem handles moving a ticket item onto another station's queue.
func (h *KDSHandler) ReassignItem(c *gin.Context) {
	itemID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid ticket item ID format.", err.Error()))
		return
	}

	var req services.ReassignItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "ReassignItem: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload: "+err.Error(), err.Error()))
		return
	}

	ticket, err := h.stationService.ReassignItem(itemID, req)
	if err != nil {
		utils.LogError(err, "ReassignItem: Error from stationService.ReassignItem")
		respondTicketError(c, err, "reassign ticket")
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// BumpOrder handles clearing a finished order from the kitchen displays.
func (h *KDSHandler) BumpOrder(c *gin.Context) {
	orderID, err := utils.StrToInt64(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid order ID format.", err.Error()))
		return
	}

	order, err := h.orderService.BumpOrder(orderID)
	if err != nil {
		utils.LogError(err, "BumpOrder: Error from orderService.BumpOrder")
		respondOrderError(c, err, "bump order")
		return
	}
	c.JSON(http.StatusOK, order)
}
