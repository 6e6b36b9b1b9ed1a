package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payments/internal/handler"
	"payments/internal/middleware"
	"payments/internal/telemetry"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	CustomerHandler    *handler.CustomerHandler
	TransactionHandler *handler.TransactionHandler
	WebhookHandler     *handler.WebhookHandler
	ProviderHandler    *handler.ProviderHandler
	RedisClient        redis.Cmdable
	IdempotencyTTL     time.Duration
	NewRelicApp        *newrelic.Application
	Gatherer           prometheus.Gatherer
	Logger             *zap.Logger
	ServiceName        string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logger(deps.Logger))
	router.Use(telemetry.TracingMiddleware(deps.ServiceName))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.NewRelicAttributes())
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes.
	v1 := router.Group("/v1")

	// Webhooks are signed by the provider and never carry an Idempotency-Key.
	v1.POST("/webhooks/:provider", deps.WebhookHandler.Handle)

	api := v1.Group("")
	if deps.RedisClient != nil {
		api.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.IdempotencyTTL, deps.Logger))
	}
	{
		// Customer routes.
		customers := api.Group("/customers")
		{
			customers.POST("", deps.CustomerHandler.Create)
			customers.GET("/:id", deps.CustomerHandler.Get)
			customers.PATCH("/:id", deps.CustomerHandler.Update)
			customers.DELETE("/:id", deps.CustomerHandler.Delete)
			customers.POST("/:id/payment-methods", deps.CustomerHandler.AttachPaymentMethod)
			customers.GET("/:id/payment-methods", deps.CustomerHandler.ListPaymentMethods)
			customers.DELETE("/:id/payment-methods/:pm", deps.CustomerHandler.DetachPaymentMethod)
			customers.POST("/:id/payment-methods/:pm/default", deps.CustomerHandler.SetDefaultPaymentMethod)
		}

		// Transaction routes.
		api.POST("/charges", deps.TransactionHandler.Charge)
		api.POST("/authorizations", deps.TransactionHandler.Authorize)
		transactions := api.Group("/transactions")
		{
			transactions.GET("", deps.TransactionHandler.List)
			transactions.GET("/:id", deps.TransactionHandler.Get)
			transactions.POST("/:id/capture", deps.TransactionHandler.Capture)
			transactions.POST("/:id/void", deps.TransactionHandler.Void)
			transactions.POST("/:id/refresh", deps.TransactionHandler.Refresh)
			transactions.POST("/:id/refunds", deps.TransactionHandler.Refund)
			transactions.GET("/:id/refunds", deps.TransactionHandler.ListRefunds)
		}
		api.GET("/refunds/:id", deps.TransactionHandler.GetRefund)

		// Provider status and operator controls.
		providers := api.Group("/providers")
		{
			providers.GET("", deps.ProviderHandler.Status)
			providers.PUT("/primary", deps.ProviderHandler.SetPrimary)
			providers.PUT("/fallback", deps.ProviderHandler.SetFallback)
			providers.POST("/:type/reset", deps.ProviderHandler.ResetCircuit)
		}
	}

	return router
}
