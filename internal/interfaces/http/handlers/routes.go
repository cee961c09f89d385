package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bivex/storekit-settlement/internal/application/middleware"
	"github.com/bivex/storekit-settlement/internal/infrastructure/logging"
)

// Routes bundles everything RegisterRoutes mounts
type Routes struct {
	Device      *DeviceHandler
	Store       *StoreHandler
	Bridge      *BridgeHandler
	BridgeOwner middleware.DeviceClaimer
	JWT         *middleware.JWTMiddleware
	RateLimiter *middleware.RateLimiter
	DeviceLimit middleware.RateLimitConfig
	Health      gin.H
}

// RegisterRoutes mounts the health check and the /v1 API on router
func RegisterRoutes(router *gin.Engine, r Routes) {
	health := gin.H{"status": "ok"}
	for k, v := range r.Health {
		health[k] = v
	}

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, health)
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/devices/register",
			r.RateLimiter.Middleware(middleware.ByIP, middleware.RegisterConfig),
			r.Device.Register,
		)

		// Protected routes (require JWT)
		protected := v1.Group("")
		protected.Use(r.JWT.Authenticate())
		protected.Use(r.RateLimiter.Middleware(middleware.ByDevice, r.DeviceLimit))
		{
			protected.POST("/products", r.Store.RequestProducts)
			protected.POST("/purchases", r.Store.Purchase)
			protected.POST("/restores", r.Store.Restore)
			protected.GET("/transactions", r.Store.PendingTransactions)
			protected.POST("/transactions/:id/retry", r.Store.RetryTransaction)
			protected.POST("/verify",
				r.RateLimiter.Middleware(middleware.ByDevice, middleware.VerifyConfig),
				r.Store.VerifyReceipt,
			)
			protected.GET("/notifications", r.Store.Notifications)

			// Payment-queue callbacks relayed by the device
			bridge := protected.Group("/storekit", middleware.RequireBridgeDevice(r.BridgeOwner, logging.WithComponent("bridge")))
			bridge.POST("/transactions", r.Bridge.TransactionsUpdated)
			bridge.POST("/transactions/removed", r.Bridge.TransactionsRemoved)
			bridge.POST("/downloads", r.Bridge.DownloadsUpdated)
			bridge.POST("/products", r.Bridge.ProductsReceived)
			bridge.POST("/products/failed", r.Bridge.ProductsFailed)
			bridge.POST("/restore", r.Bridge.RestoreResult)
			bridge.POST("/receipt/refreshed", r.Bridge.ReceiptRefreshed)
			bridge.POST("/receipt/failed", r.Bridge.ReceiptRefreshFailed)
			bridge.POST("/promoted", r.Bridge.PromotedPurchase)
			bridge.GET("/commands", r.Bridge.Commands)
		}
	}
}
