package routes

import (
	"net/http"

	adminapi "discuno-payments/internal/api/admin"
	cronapi "discuno-payments/internal/api/cron"
	stripewebhooks "discuno-payments/internal/api/stripewebhook"
	"discuno-payments/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Webhook   *stripewebhooks.Handler
	Cron      *cronapi.Handler
	Admin     *adminapi.Handler
	JWTSecret string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.POST("/webhook", d.Webhook.StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	cron := r.Group("/api/cron")
	cron.GET("/transfers", d.Cron.Transfers)
	cron.POST("/transfers", d.Cron.Transfers)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(d.JWTSecret), middleware.RequireRole("admin"))
	admin.GET("/stats", d.Admin.Stats)
	admin.GET("/payments", d.Admin.ListPayments)
	admin.GET("/workflows", d.Admin.ListWorkflows)
	admin.GET("/workflows/:id", d.Admin.GetWorkflow)
	admin.POST("/workflows/:id/cancel", d.Admin.CancelWorkflow)
}
