package router

import (
	"kds_backend/internal/handlers"
	"kds_backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupOrderRoutes sets up the order lifecycle routes.
func SetupOrderRoutes(authenticatedGroup *gin.RouterGroup, orderHandler *handlers.OrderHandler) {
	orderRoutes := authenticatedGroup.Group("/orders")
	{
		staffOnly := orderRoutes.Group("")
		staffOnly.Use(middleware.RoleAuthMiddleware("staff", "manager"))
		{
			staffOnly.POST("", orderHandler.CreateOrder)
			staffOnly.GET("", orderHandler.GetOrders)
			staffOnly.POST("/:id/confirm", orderHandler.ConfirmOrder)
			staffOnly.POST("/:id/serve", orderHandler.ServeOrder)
			staffOnly.POST("/:id/cancel", orderHandler.CancelOrder)
		}

		// Customers track their own order from this endpoint too.
		orderRoutes.GET("/:id", orderHandler.GetOrderByID)
	}
}

// SetupKDSRoutes sets up the kitchen display routes.
func SetupKDSRoutes(authenticatedGroup *gin.RouterGroup, kdsHandler *handlers.KDSHandler) {
	kdsRoutes := authenticatedGroup.Group("/kds")
	kdsRoutes.Use(middleware.RoleAuthMiddleware("chef", "manager"))
	{
		kdsRoutes.GET("/stations", kdsHandler.GetStations)
		kdsRoutes.GET("/stations/:id", kdsHandler.GetStationByID)
		kdsRoutes.GET("/stations/:id/queue", kdsHandler.GetStationQueue)
		kdsRoutes.GET("/orders", kdsHandler.GetActiveOrders)
		kdsRoutes.POST("/orders/:id/bump", kdsHandler.BumpOrder)
		kdsRoutes.PATCH("/items/:id/status", kdsHandler.UpdateItemStatus)
		kdsRoutes.POST("/items/:id/start", kdsHandler.StartItem)
		kdsRoutes.POST("/items/:id/complete", kdsHandler.CompleteItem)
		kdsRoutes.POST("/items/:id/reassign", kdsHandler.ReassignItem)
	}
}

// SetupInventoryRoutes sets up the inventory read routes.
func SetupInventoryRoutes(authenticatedGroup *gin.RouterGroup, inventoryHandler *handlers.InventoryHandler) {
	inventoryRoutes := authenticatedGroup.Group("/inventory")
	inventoryRoutes.Use(middleware.RoleAuthMiddleware("chef", "manager"))
	{
		inventoryRoutes.GET("/items", inventoryHandler.GetItems)
		inventoryRoutes.GET("/items/:id", inventoryHandler.GetItemByID)
		inventoryRoutes.GET("/items/:id/transactions", inventoryHandler.GetItemTransactions)
	}
}

// SetupStreamRoutes sets up the live event stream route.
func SetupStreamRoutes(authenticatedGroup *gin.RouterGroup, streamHandler *handlers.StreamHandler) {
	authenticatedGroup.GET("/stream", streamHandler.Stream)
}
