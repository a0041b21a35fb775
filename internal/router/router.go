package router

import (
	"database/sql"

	"kds_backend/internal/broadcast"
	"kds_backend/internal/handlers"
	"kds_backend/internal/middleware"
	"kds_backend/internal/repositories"
	"kds_backend/internal/services"

	"github.com/gin-gonic/gin"
)

// Setup initializes the routing for the application.
func Setup(engine *gin.Engine, db *sql.DB, hub *broadcast.Hub) {
	// Initialize Repositories
	orderRepo := repositories.NewOrderRepository(db)
	stationRepo := repositories.NewStationRepository(db)
	inventoryRepo := repositories.NewInventoryRepository(db)
	txp := repositories.NewTxProvider(db)

	// Initialize Services
	escalation := services.DefaultEscalationThresholds()
	inventoryService := services.NewInventoryService(inventoryRepo, hub)
	orderService := services.NewOrderService(orderRepo, stationRepo, inventoryService, hub, txp, escalation)
	stationService := services.NewStationService(stationRepo, orderRepo, hub, txp, escalation)

	// Initialize Handlers
	orderHandler := handlers.NewOrderHandler(orderService)
	kdsHandler := handlers.NewKDSHandler(orderService, stationService)
	inventoryHandler := handlers.NewInventoryHandler(inventoryService)
	streamHandler := handlers.NewStreamHandler(hub, stationService)

	apiV1 := engine.Group("/api/v1")

	authenticated := apiV1.Group("")
	authenticated.Use(middleware.AuthMiddleware())
	{
		SetupOrderRoutes(authenticated, orderHandler)
		SetupKDSRoutes(authenticated, kdsHandler)
		SetupInventoryRoutes(authenticated, inventoryHandler)
		SetupStreamRoutes(authenticated, streamHandler)
	}
}
