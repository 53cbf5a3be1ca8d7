package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handlers *APIHandlers, logger *logrus.Logger) {
	// Global middleware
	router.Use(Recovery(logger))
	router.Use(RequestID())
	router.Use(RequestLogger(logger))
	router.Use(CORS())

	// Health check
	router.GET("/health", handlers.HealthCheck)

	// Device lifecycle endpoints
	devices := router.Group("/devices")
	devices.Use(RateLimiter(300))
	{
		devices.POST("/register", handlers.RegisterDevice)
		devices.POST("/authenticate", handlers.AuthenticateDevice)
		devices.GET("/list", handlers.ListDevices)
		devices.GET("/id/:id", handlers.GetDeviceByID)
		devices.GET("/:deviceId", handlers.GetDeviceByDeviceID)
		devices.PATCH("/:deviceId", handlers.UpdateDevice)
		devices.DELETE("/:deviceId", handlers.DeleteDevice)
	}

	// Gateway fleet protocol endpoints
	gateway := router.Group("/pqcGateway")
	gateway.Use(RateLimiter(600))
	{
		gateway.POST("/status_ind", handlers.GatewayStatusReport)
		gateway.POST("/alarm_ind", handlers.GatewayAlarmReport)
		gateway.GET("/alarms", handlers.ListAlarms)
	}
}
