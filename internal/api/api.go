// internal/api/api.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/api/handlers"
	"github.com/andresuchdata/fulfillops/backend-go/internal/api/middleware"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Engine  *service.Engine
	Metrics *metrics.Metrics
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	if services != nil && services.Metrics != nil {
		router.Use(services.Metrics.Middleware())
	}

	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if services == nil {
		return router
	}

	if services.Metrics != nil {
		router.GET("/metrics", gin.WrapH(services.Metrics.Handler()))
	}

	if services.Engine != nil {
		apiGroup := router.Group("/api/v1")

		orderHandler := handlers.NewOrderHandler(services.Engine)
		apiGroup.POST("/transitions/validate", orderHandler.ValidateTransition)
		apiGroup.POST("/selections/resolve", orderHandler.ResolveSelection)
		apiGroup.GET("/stock/:sku", orderHandler.StockBalance)

		orderGroup := apiGroup.Group("/orders")
		{
			orderGroup.POST("/bulk/status", orderHandler.BulkStatus)
			orderGroup.GET("/:id", orderHandler.GetOrder)
			orderGroup.POST("/:id/status", orderHandler.TransitionOrder)
			orderGroup.GET("/:id/transitions", orderHandler.AllowedTransitions)
			orderGroup.POST("/:id/returns", orderHandler.ProcessReturn)
			orderGroup.POST("/:id/returns/verify", orderHandler.VerifyReturn)
			orderGroup.GET("/:id/ledger", orderHandler.OrderLedger)
		}

		batchHandler := handlers.NewBatchHandler(services.Engine.Batches)
		batchGroup := apiGroup.Group("/batches")
		{
			batchGroup.POST("", batchHandler.CreatePlan)
			batchGroup.GET("/:handle", batchHandler.GetPlan)
			batchGroup.DELETE("/:handle", batchHandler.DiscardPlan)
			batchGroup.GET("/:handle/chunks/:index", batchHandler.GetChunk)
			batchGroup.POST("/:handle/chunks/:index/export", batchHandler.ExportChunk)
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
