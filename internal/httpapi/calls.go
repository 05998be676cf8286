package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/quality"
	"call-signaling/internal/reporting"

	"github.com/gin-gonic/gin"
)

// defaultHistoryWindow applies when history/summary omit the range.
const defaultHistoryWindow = 30 * 24 * time.Hour

type sessionResponse struct {
	SessionID string           `json:"sessionId"`
	Status    calls.CallStatus `json:"status"`
}

type initiateRequest struct {
	Targets      []string       `json:"targets"`
	Type         calls.CallType `json:"type"`
	GroupChatRef string         `json:"groupChatRef,omitempty"`
}

type initiateResponse struct {
	SessionID string           `json:"sessionId"`
	Status    calls.CallStatus `json:"status"`
	Busy      []string         `json:"busy,omitempty"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	if !h.callsReady(c) {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Code: CodeInvalidArgument, Error: "invalid json"})
		return
	}
	res, err := h.Calls.Initiate(c.Request.Context(), calls.InitiateRequest{
		InitiatorID:  uid,
		Targets:      req.Targets,
		Type:         req.Type,
		GroupChatRef: req.GroupChatRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, initiateResponse{SessionID: res.Session.ID, Status: res.Session.Status, Busy: res.Busy})
}

type transitionFunc func(ctx context.Context, sessionID, userID string) (calls.CallSession, error)

// runTransition applies a (session, caller) state machine operation.
func (h Handlers) runTransition(c *gin.Context, op transitionFunc) {
	if !h.callsReady(c) {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	sess, err := op(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{SessionID: sess.ID, Status: sess.Status})
}

func (h Handlers) AcceptCall(c *gin.Context)  { h.runTransition(c, h.Calls.Accept) }
func (h Handlers) DeclineCall(c *gin.Context) { h.runTransition(c, h.Calls.Decline) }
func (h Handlers) CancelCall(c *gin.Context)  { h.runTransition(c, h.Calls.Cancel) }
func (h Handlers) JoinCall(c *gin.Context)    { h.runTransition(c, h.Calls.Join) }
func (h Handlers) LeaveCall(c *gin.Context)   { h.runTransition(c, h.Calls.Leave) }

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (h Handlers) MuteCall(c *gin.Context) {
	if !h.callsReady(c) {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Code: CodeInvalidArgument, Error: "muted required"})
		return
	}
	sess, err := h.Calls.SetMuted(c.Request.Context(), c.Param("id"), uid, *req.Muted)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "status": sess.Status, "muted": *req.Muted})
}

func (h Handlers) GetCall(c *gin.Context) {
	if !h.callsReady(c) {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Get(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type negotiateRequest struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// Negotiate relays an opaque payload and returns 202 without waiting for delivery.
func (h Handlers) Negotiate(c *gin.Context) {
	if h.Relay == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "relay not configured"})
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req negotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Code: CodeInvalidArgument, Error: "invalid json"})
		return
	}
	if err := h.Relay.Relay(c.Request.Context(), c.Param("id"), uid, req.To, req.Payload); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type qualityRequest struct {
	LatencyMs     float64 `json:"latencyMs"`
	PacketLossPct float64 `json:"packetLossPct"`
	JitterMs      float64 `json:"jitterMs"`
	BandwidthKbps float64 `json:"bandwidthKbps"`
}

func (q qualityRequest) sample(sessionID, userID string) quality.Sample {
	return quality.Sample{
		SessionID:     sessionID,
		UserID:        userID,
		LatencyMs:     q.LatencyMs,
		PacketLossPct: q.PacketLossPct,
		JitterMs:      q.JitterMs,
		BandwidthKbps: q.BandwidthKbps,
	}
}

func (h Handlers) SubmitQuality(c *gin.Context) {
	if h.Quality == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quality monitor not configured"})
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req qualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Code: CodeInvalidArgument, Error: "invalid json"})
		return
	}
	tier, err := h.Quality.Submit(c.Request.Context(), req.sample(c.Param("id"), uid))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "tier": tier})
}

func (h Handlers) QualitySnapshot(c *gin.Context) {
	if h.Quality == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quality monitor not configured"})
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	rows, err := h.Quality.Snapshot(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "participants": rows})
}

func (h Handlers) CallHistory(c *gin.Context) {
	if !h.callsReady(c) {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	from, to, err := parseRange(c, time.Now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	rows, err := h.Calls.History(c.Request.Context(), uid, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "calls": rows})
}

func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	from, to, err := parseRange(c, time.Now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	sum, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID: uid,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// parseRange reads RFC3339 "from"/"to" query params, defaulting to the last 30 days.
func parseRange(c *gin.Context, now time.Time) (time.Time, time.Time, error) {
	to := now
	from := now.Add(-defaultHistoryWindow)
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Join(calls.ErrInvalidArgument, err)
		}
		to = t
		if c.Query("from") == "" {
			from = to.Add(-defaultHistoryWindow)
		}
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Join(calls.ErrInvalidArgument, err)
		}
		from = t
	}
	return from, to, nil
}

func (h Handlers) callsReady(c *gin.Context) bool {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call service not configured"})
		return false
	}
	return true
}
