// Package handler содержит HTTP слой движка: маршруты, обработчики
// и конвертацию доменных моделей в ответы API.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/fluxpay/internal/handler/middleware"
	"example.com/fluxpay/internal/idempotency"
	"example.com/fluxpay/pkg/metrics"
)

// RouterConfig собирает зависимости HTTP слоя.
type RouterConfig struct {
	AppName string

	Orders   *OrderHandler
	Payments *PaymentHandler
	Refunds  *RefundHandler
	Webhooks *WebhookHandler

	// Guard защищает команды от повторной обработки. nil отключает
	// идемпотентность (используется в тестах).
	Guard *idempotency.Guard

	// EnforceTenant — требовать X-Tenant-Id в каждом запросе API.
	EnforceTenant bool

	// ReadinessCheck вызывается на /readyz. nil означает всегда готов.
	ReadinessCheck func(ctx context.Context) error
}

// NewRouter создаёт HTTP маршрутизатор движка.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.SecurityHeaders())
	if cfg.AppName != "" {
		router.Use(otelgin.Middleware(cfg.AppName))
	}
	router.Use(metrics.GinMetricsMiddleware())
	router.Use(middleware.Tracing())

	// Пробы живости и готовности вне /api/v1: без тенанта и идемпотентности
	router.GET("/health", healthHandler)
	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(cfg.ReadinessCheck))

	api := router.Group("/api/v1")
	api.Use(middleware.Tenant(middleware.TenantConfig{Enforce: cfg.EnforceTenant}))

	api.GET("/health", healthHandler)

	// Команды проходят через защиту идемпотентности
	commands := api.Group("")
	if cfg.Guard != nil {
		commands.Use(middleware.Idempotency(cfg.Guard))
	}

	commands.POST("/orders", cfg.Orders.Create)
	api.GET("/orders", cfg.Orders.List)
	api.GET("/orders/:id", cfg.Orders.Get)
	api.GET("/orders/:id/payment", cfg.Orders.GetPayment)

	commands.POST("/payments", cfg.Payments.Create)
	api.GET("/payments/:id", cfg.Payments.Get)
	commands.POST("/payments/:id/approve", cfg.Payments.Approve)
	commands.POST("/payments/:id/confirm", cfg.Payments.Confirm)
	api.GET("/payments/:id/refunds", cfg.Refunds.ListByPayment)

	commands.POST("/refunds", cfg.Refunds.Create)
	api.GET("/refunds/:id", cfg.Refunds.Get)

	commands.POST("/webhooks/subscriptions", cfg.Webhooks.Create)
	api.GET("/webhooks/subscriptions", cfg.Webhooks.List)

	return router
}

// healthHandler отвечает на пробу живости.
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyHandler отвечает на пробу готовности, опрашивая зависимости.
func readyHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
