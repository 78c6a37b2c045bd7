package api

import (
	"github.com/gin-gonic/gin"
)

// RouterConfig carries the HTTP limits applied by SetupRoutes
type RouterConfig struct {
	RateLimitRPS  float64
	// MaxUploadSize is the multipart memory buffer; larger parts spill to temp files
	MaxUploadSize int64
	// MaxBodyBytes bounds the whole scan upload body
	MaxBodyBytes  int64
}

func SetupRoutes(cfg RouterConfig, handler *Handler) *gin.Engine {
	router := gin.New()
	if cfg.MaxUploadSize > 0 {
		router.MaxMultipartMemory = cfg.MaxUploadSize
	}

	rateLimiter := NewRateLimiter(cfg.RateLimitRPS, int(cfg.RateLimitRPS*2))

	// Middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(ErrorHandlerMiddleware())

	// Health endpoint (no rate limiting)
	router.GET("/health", handler.Health)

	api := router.Group("/api")
	api.Use(RateLimitMiddleware(rateLimiter))
	{
		api.POST("/scan", BodyLimit(cfg.MaxBodyBytes), handler.CreateScan)
		api.GET("/scan/:id/status", handler.ScanStatus)
		api.GET("/scan/:id/results", handler.ScanResults)
		api.POST("/scan/:id/cancel", handler.CancelScan)
		api.GET("/scans", handler.ListScans)
		api.GET("/alerts", handler.ListAlerts)
		api.GET("/files/:scanId/*path", handler.FileContent)
	}

	return router
}
