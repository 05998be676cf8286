package main

import (
	"database/sql"
	"net/http"
	"time"

	"call-signaling/internal/httpapi"
	"call-signaling/internal/media"
	"call-signaling/internal/rbac"
	"call-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route wiring only. Handlers delegate to internal modules.

func registerPublicRoutes(r *gin.Engine, db *sql.DB, webhook media.WebhookHandler) {
	r.GET("/healthz", func(c *gin.Context) {
		if db != nil {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Media transport callbacks. Signed with MEDIA_WEBHOOK_SECRET.
	r.POST("/webhooks/media/failure", webhook.HandleFailure)
}

func registerAuthRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.POST("/v1/auth/login", h.Login)
}

func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	v1 := r.Group("/v1")
	v1.Use(authMW, httpapi.DeviceOrigin())

	v1.GET("/me", h.Me)
	v1.GET("/ws", h.Socket)

	calls := v1.Group("/calls")
	calls.Use(rbac.RequireAnyRole(rbac.RoleUser))
	{
		calls.POST("", h.InitiateCall)
		calls.GET("/history", h.CallHistory)
		calls.GET("/summary", h.CallsSummary)

		calls.GET("/:id", h.GetCall)
		calls.POST("/:id/accept", h.AcceptCall)
		calls.POST("/:id/decline", h.DeclineCall)
		calls.POST("/:id/cancel", h.CancelCall)
		calls.POST("/:id/join", h.JoinCall)
		calls.POST("/:id/leave", h.LeaveCall)
		calls.POST("/:id/mute", h.MuteCall)
		calls.POST("/:id/negotiate", h.Negotiate)
		calls.POST("/:id/quality", h.SubmitQuality)
		calls.GET("/:id/quality", h.QualitySnapshot)
	}

	// ADMIN routes
	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.GET("/calls/:id", h.AdminGetCall)
		admin.POST("/calls/sweep", h.AdminSweep)
	}
}
