// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"restaurantbot/internal/http/handlers"
	"restaurantbot/internal/http/middleware"
	"restaurantbot/internal/infra"
)

type RouterDeps struct {
	Orders    handlers.OrderService
	Webhooks  handlers.WebhookService
	Admin     handlers.AdminService
	Gateway   handlers.WebhookVerifier
	Ledger    handlers.LedgerResyncer
	Refunds   handlers.PendingRefunds
	Stats     handlers.StatsService
	Events    handlers.Subscriber
	Customers handlers.CustomerStore
	NewCust   handlers.NewCustomerRecorder
	// Verifier nil leaves /admin open; only for local development.
	Verifier  infra.TokenVerifier
	AdminRole string
	Logger    zerolog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	orderHandler := handlers.NewOrderHandler(deps.Orders)
	customerHandler := handlers.NewCustomerHandler(deps.Customers, deps.NewCust)
	api := r.Group("/api")
	api.POST("/orders", orderHandler.Place)
	api.GET("/orders/:code", orderHandler.Get)
	api.POST("/orders/:code/payment", orderHandler.CreateIntent)
	api.POST("/payments/verify", orderHandler.Verify)
	api.POST("/customers", customerHandler.Register)

	webhookHandler := handlers.NewWebhookHandler(deps.Gateway, deps.Webhooks, deps.Logger)
	r.POST("/webhooks/razorpay", webhookHandler.Razorpay)

	admin := r.Group("/admin")
	if deps.Verifier != nil {
		admin.Use(middleware.Auth(deps.Verifier), middleware.RequireRole(deps.AdminRole))
	}
	adminHandler := handlers.NewAdminHandler(deps.Admin, deps.Ledger, deps.Refunds)
	admin.GET("/orders", adminHandler.List)
	admin.POST("/orders/:code/status", adminHandler.UpdateStatus)
	admin.POST("/orders/:code/assign", adminHandler.Assign)
	admin.POST("/orders/:code/refund/approve", adminHandler.ApproveRefund)
	admin.POST("/orders/:code/refund/reject", adminHandler.RejectRefund)
	admin.GET("/refunds/pending", adminHandler.PendingRefunds)
	admin.POST("/ledger/resync", adminHandler.ResyncLedger)
	admin.GET("/customers/:phone", customerHandler.Get)

	dashboardHandler := handlers.NewDashboardHandler(deps.Stats, deps.Events)
	admin.GET("/dashboard", dashboardHandler.Get)
	admin.GET("/reports", dashboardHandler.Reports)
	admin.GET("/stream", dashboardHandler.Stream)

	return r
}
