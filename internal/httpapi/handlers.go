package httpapi

import (
	"context"
	"net/http"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/negotiation"
	"call-signaling/internal/quality"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Calls     *calls.Service
	Relay     *negotiation.Relay
	Quality   *quality.Monitor
	Reporting *reporting.Service
	Audit     *audit.Service
	Sweeper   *calls.Sweeper
	Hub       *signaling.Hub

	// Sockets caps concurrent devices per user; nil disables the cap.
	Sockets SocketLimiter

	// BaseContext outlives single requests; websocket sessions end when it does.
	BaseContext context.Context

	// AllowLogin exposes the credential-free token endpoint (local/dev only).
	AllowLogin bool
}

// ClientIP stores the caller IP on the request context for audit events.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// DeviceHeader names the calling device on REST requests. Sockets pass
// the same value as the device_id query parameter.
const DeviceHeader = "X-Device-Id"

// DeviceOrigin tags the request context with the caller's device so events
// the request causes for the caller skip that device. Must run after auth.
func DeviceOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if dev := c.GetHeader(DeviceHeader); dev != "" {
			if uid, err := auth.UserID(c.Request.Context()); err == nil {
				c.Request = c.Request.WithContext(signaling.WithOrigin(c.Request.Context(), uid, dev))
			}
		}
		c.Next()
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: skeleton-only endpoint for local/dev. Real credential checks live in the
// identity service that fronts this API.
func (h Handlers) Login(c *gin.Context) {
	if !h.AllowLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// Me echoes the resolved identity.
func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

func callerID(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}
