package httpapi

import (
	"net/http"

	"call-signaling/internal/auth"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AdminGetCall returns any session with its audit trail. Viewing is itself audited.
func (h Handlers) AdminGetCall(c *gin.Context) {
	if !h.callsReady(c) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	sess, err := h.Calls.Lookup(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"session": sess}
	if h.Audit != nil {
		events, err := h.Audit.History(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		resp["audit"] = events

		uid, _ := auth.UserID(ctx)
		role, _ := auth.Role(ctx)
		if err := h.Audit.LogAdminAction(ctx, id, uid, role, "session inspected"); err != nil {
			logger.FromGin(c).Warn("admin audit failed", "session_id", id, "err", err)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// AdminSweep runs one ring-timeout sweep now instead of waiting for the next tick.
func (h Handlers) AdminSweep(c *gin.Context) {
	if h.Sweeper == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweeper not configured"})
		return
	}
	n, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	logger.FromGin(c).Info("admin sweep", "actor", uid, "expired", n)
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
