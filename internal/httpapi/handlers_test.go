package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/negotiation"
	"call-signaling/internal/quality"
	"call-signaling/internal/rbac"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"

	"github.com/gin-gonic/gin"
)

const testUserHeader = "X-Test-User"

type apiHarness struct {
	router *gin.Engine
	rec    *signaling.Recorder
	audit  *audit.MemoryRepo
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := calls.NewMemoryStore()
	rec := signaling.NewRecorder()
	signals := signaling.NewDispatcher(rec, calls.Roster(store), nil)
	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)
	svc := calls.NewService(store, signals, calls.Options{Audit: calls.AuditAdapter{Audit: auditSvc}})

	h := Handlers{
		Calls:     svc,
		Relay:     negotiation.NewRelay(svc, signals),
		Quality:   quality.NewMonitor(svc, quality.NewMemoryLatest(), signals, 0),
		Reporting: reporting.NewService(store),
		Audit:     auditSvc,
		Sweeper:   calls.NewSweeper(svc, 0, 0, nil),
	}

	r := gin.New()
	r.Use(ClientIP())
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		uid := c.GetHeader(testUserHeader)
		role := rbac.RoleUser
		if uid == "root" {
			role = rbac.RoleAdmin
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), uid, role))
		c.Next()
	}, DeviceOrigin())
	v1.POST("/calls", h.InitiateCall)
	v1.GET("/calls/history", h.CallHistory)
	v1.GET("/calls/summary", h.CallsSummary)
	v1.GET("/calls/:id", h.GetCall)
	v1.POST("/calls/:id/accept", h.AcceptCall)
	v1.POST("/calls/:id/decline", h.DeclineCall)
	v1.POST("/calls/:id/cancel", h.CancelCall)
	v1.POST("/calls/:id/leave", h.LeaveCall)
	v1.POST("/calls/:id/mute", h.MuteCall)
	v1.POST("/calls/:id/negotiate", h.Negotiate)
	v1.POST("/calls/:id/quality", h.SubmitQuality)
	v1.GET("/calls/:id/quality", h.QualitySnapshot)

	admin := v1.Group("/admin", rbac.RequireAnyRole(rbac.RoleAdmin))
	admin.GET("/calls/:id", h.AdminGetCall)
	admin.POST("/calls/sweep", h.AdminSweep)

	return &apiHarness{router: r, rec: rec, audit: auditRepo}
}

func (a *apiHarness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(testUserHeader, user)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (a *apiHarness) startCall(t *testing.T, from string, to ...string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/calls", from, gin.H{"targets": to, "type": "voice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[initiateResponse](t, w).SessionID
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	id := a.startCall(t, "alice", "bob")

	if got := a.rec.For("bob", signaling.EventIncoming); len(got) != 1 {
		t.Fatalf("expected bob to be rung once, got %d", len(got))
	}

	w := a.do(t, http.MethodPost, "/v1/calls/"+id+"/accept", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[sessionResponse](t, w); got.Status != calls.StatusActive || got.SessionID != id {
		t.Fatalf("unexpected accept response: %+v", got)
	}

	w = a.do(t, http.MethodPost, "/v1/calls/"+id+"/leave", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d", w.Code)
	}
	if got := decode[sessionResponse](t, w); got.Status != calls.StatusEnded {
		t.Fatalf("expected ended after leave, got %s", got.Status)
	}

	w = a.do(t, http.MethodGet, "/v1/calls/"+id, "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if got := decode[calls.CallSession](t, w); got.EndedReason != calls.EndedReasonHangup {
		t.Fatalf("expected hangup, got %q", got.EndedReason)
	}
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	id := a.startCall(t, "alice", "bob")

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"bad type", http.MethodPost, "/v1/calls", "carol", gin.H{"targets": []string{"dave"}, "type": "fax"}, http.StatusBadRequest, CodeInvalidArgument},
		{"busy initiator", http.MethodPost, "/v1/calls", "alice", gin.H{"targets": []string{"dave"}, "type": "voice"}, http.StatusConflict, CodeBusy},
		{"unknown session", http.MethodPost, "/v1/calls/nope/accept", "bob", nil, http.StatusNotFound, CodeNotFound},
		{"stranger", http.MethodGet, "/v1/calls/" + id, "mallory", nil, http.StatusForbidden, CodeUnauthorized},
		{"callee cannot cancel", http.MethodPost, "/v1/calls/" + id + "/cancel", "bob", nil, http.StatusForbidden, CodeUnauthorized},
		{"mute needs body", http.MethodPost, "/v1/calls/" + id + "/mute", "alice", gin.H{}, http.StatusBadRequest, CodeInvalidArgument},
		{"negotiate while ringing", http.MethodPost, "/v1/calls/" + id + "/negotiate", "alice", gin.H{"to": "bob", "payload": gin.H{"sdp": "x"}}, http.StatusConflict, CodeInvalidSession},
		{"bad history range", http.MethodGet, "/v1/calls/history?from=yesterday", "alice", nil, http.StatusBadRequest, CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, tc.method, tc.path, tc.user, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if got := decode[errorBody](t, w); got.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, got.Code)
			}
		})
	}
}

func TestBusyTargetsReported(t *testing.T) {
	a := newAPI(t)
	a.startCall(t, "alice", "bob")

	w := a.do(t, http.MethodPost, "/v1/calls", "carol", gin.H{"targets": []string{"bob"}, "type": "video"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	body := decode[errorBody](t, w)
	if body.Code != CodeBusy || len(body.UserIDs) != 1 || body.UserIDs[0] != "bob" {
		t.Fatalf("unexpected busy body: %+v", body)
	}

	w = a.do(t, http.MethodPost, "/v1/calls", "carol", gin.H{"targets": []string{"bob", "dave"}, "type": "video"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 when some targets are free, got %d", w.Code)
	}
	if got := decode[initiateResponse](t, w); len(got.Busy) != 1 || got.Busy[0] != "bob" {
		t.Fatalf("expected bob reported busy, got %+v", got.Busy)
	}
}

func TestAcceptAfterCancelReturnsFinalState(t *testing.T) {
	a := newAPI(t)
	id := a.startCall(t, "alice", "bob", "carol")

	if w := a.do(t, http.MethodPost, "/v1/calls/"+id+"/decline", "carol", nil); w.Code != http.StatusOK {
		t.Fatalf("decline: expected 200, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/v1/calls/"+id+"/cancel", "alice", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}

	// Terminal sessions answer accept with the final state, not an error.
	w := a.do(t, http.MethodPost, "/v1/calls/"+id+"/accept", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept on ended: expected 200, got %d", w.Code)
	}
	if got := decode[sessionResponse](t, w); got.Status != calls.StatusEnded {
		t.Fatalf("expected ended, got %s", got.Status)
	}
	if got := a.rec.For("bob", signaling.EventEnded); len(got) != 1 {
		t.Fatalf("expected bob to get one ended event, got %d", len(got))
	}
}

func TestNegotiateAndQuality(t *testing.T) {
	a := newAPI(t)
	id := a.startCall(t, "alice", "bob")
	if w := a.do(t, http.MethodPost, "/v1/calls/"+id+"/accept", "bob", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: %d", w.Code)
	}

	w := a.do(t, http.MethodPost, "/v1/calls/"+id+"/negotiate", "alice", gin.H{"to": "bob", "payload": gin.H{"type": "offer", "sdp": "v=0"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("negotiate: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if got := a.rec.For("bob", signaling.EventNegotiation); len(got) != 1 {
		t.Fatalf("expected one negotiation event for bob, got %d", len(got))
	}

	w = a.do(t, http.MethodPost, "/v1/calls/"+id+"/quality", "bob", gin.H{"latencyMs": 500, "packetLossPct": 12, "jitterMs": 90, "bandwidthKbps": 300})
	if w.Code != http.StatusOK {
		t.Fatalf("quality: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]string](t, w); got["tier"] != string(quality.TierPoor) {
		t.Fatalf("expected poor tier, got %q", got["tier"])
	}
	if got := a.rec.For("alice", signaling.EventQuality); len(got) != 1 {
		t.Fatalf("expected alice to hear about bob's tier, got %d", len(got))
	}

	w = a.do(t, http.MethodGet, "/v1/calls/"+id+"/quality", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot: expected 200, got %d", w.Code)
	}
	snap := decode[struct {
		Participants []quality.ParticipantQuality `json:"participants"`
	}](t, w)
	if len(snap.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(snap.Participants))
	}
}

func TestSummaryAndHistory(t *testing.T) {
	a := newAPI(t)
	id := a.startCall(t, "alice", "bob")
	a.do(t, http.MethodPost, "/v1/calls/"+id+"/decline", "bob", nil)

	w := a.do(t, http.MethodGet, "/v1/calls/history", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}
	hist := decode[struct {
		Calls []calls.CallSession `json:"calls"`
	}](t, w)
	if len(hist.Calls) != 1 || hist.Calls[0].Status != calls.StatusDeclined {
		t.Fatalf("unexpected history: %+v", hist.Calls)
	}

	w = a.do(t, http.MethodGet, "/v1/calls/summary", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", w.Code)
	}
	sum := decode[reporting.CallsSummary](t, w)
	if sum.TotalCalls != 1 || sum.OutgoingCalls != 1 || sum.DeclinedCalls != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestAdminRoutes(t *testing.T) {
	a := newAPI(t)
	id := a.startCall(t, "alice", "bob")

	if w := a.do(t, http.MethodGet, "/v1/admin/calls/"+id, "alice", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", w.Code)
	}

	w := a.do(t, http.MethodGet, "/v1/admin/calls/"+id, "root", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin get: expected 200, got %d", w.Code)
	}
	body := decode[struct {
		Session calls.CallSession `json:"session"`
		Audit   []audit.Event     `json:"audit"`
	}](t, w)
	if body.Session.ID != id || len(body.Audit) != 1 {
		t.Fatalf("unexpected admin view: session=%s audit=%d", body.Session.ID, len(body.Audit))
	}

	found := false
	for _, e := range a.audit.Events() {
		if e.Type == audit.EventTypeAdminAction && e.ActorUserID == "root" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected admin inspection to be audited")
	}

	w = a.do(t, http.MethodPost, "/v1/admin/calls/sweep", "root", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep: expected 200, got %d", w.Code)
	}
}

func TestClassifyUnknownErrorIsInternal(t *testing.T) {
	status, body := classify(context.DeadlineExceeded)
	if status != http.StatusInternalServerError || body.Code != CodeInternal {
		t.Fatalf("expected internal error, got %d %+v", status, body)
	}
}

func TestAcceptedElsewhereSkipsAcceptingDevice(t *testing.T) {
	a := newAPI(t)
	id := a.startCall(t, "alice", "bob")

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/"+id+"/accept", nil)
	req.Header.Set(testUserHeader, "bob")
	req.Header.Set(DeviceHeader, "bob-phone")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var found bool
	for _, e := range a.rec.Events() {
		switch {
		case e.UserID == "bob" && e.Event.Name() == signaling.EventAcceptedElsewhere:
			found = true
			if e.ExceptDevice != "bob-phone" {
				t.Fatalf("expected accepting device excluded, got %q", e.ExceptDevice)
			}
		case e.ExceptDevice != "":
			t.Fatalf("unexpected device exclusion on %s for %s", e.Event.Name(), e.UserID)
		}
	}
	if !found {
		t.Fatalf("expected accepted_elsewhere for bob's other devices")
	}
}
