package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 16 * 1024

// FailureReport is what the media transport posts when a session cannot continue.
type FailureReport struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Failer is the state machine operation the webhook drives.
type Failer interface {
	Fail(ctx context.Context, sessionID, detail string) (calls.CallSession, error)
}

// WebhookHandler verifies and applies failure reports.
//
// No business logic here. An empty Secret disables verification (local/dev only;
// config refuses it in production).
type WebhookHandler struct {
	Secret string
	Calls  Failer
	Now    func() time.Time
}

func (h WebhookHandler) HandleFailure(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call service not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if h.Secret != "" {
		if err := Verify(h.Secret, c.GetHeader(HeaderSignature), c.GetHeader(HeaderTimestamp), body, h.Now()); err != nil {
			log.Warn("media webhook rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var rep FailureReport
	if err := json.Unmarshal(body, &rep); err != nil || strings.TrimSpace(rep.SessionID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "sessionId required"})
		return
	}

	sess, err := h.Calls.Fail(c.Request.Context(), rep.SessionID, rep.Reason)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	case errors.Is(err, calls.ErrStaleState):
		// Ended some other way while we were failing it; nothing left to do.
	case err != nil:
		log.Error("media failure not applied", "session_id", rep.SessionID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	log.Info("media failure reported", "session_id", rep.SessionID, "reason", rep.Reason, "status", sess.Status)
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "status": sess.Status})
}
