package media

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/signaling"

	"github.com/gin-gonic/gin"
)

func newWebhookRouter(t *testing.T, secret string, now time.Time) (*gin.Engine, *calls.Service, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := calls.NewMemoryStore()
	svc := calls.NewService(store, signaling.NewDispatcher(signaling.NewRecorder(), calls.Roster(store), nil), calls.Options{})
	res, err := svc.Initiate(context.Background(), calls.InitiateRequest{InitiatorID: "alice", Targets: []string{"bob"}, Type: calls.CallTypeVoice})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	h := WebhookHandler{Secret: secret, Calls: svc, Now: func() time.Time { return now }}
	r := gin.New()
	r.POST("/webhooks/media/failure", h.HandleFailure)
	return r, svc, res.Session.ID
}

func post(r *gin.Engine, body []byte, sig, ts string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/media/failure", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(HeaderSignature, sig)
	}
	if ts != "" {
		req.Header.Set(HeaderTimestamp, ts)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_SignedFailureFailsSession(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, svc, id := newWebhookRouter(t, "whsec", now)

	body := []byte(`{"sessionId":"` + id + `","reason":"dtls handshake timeout"}`)
	ts := now.Unix()
	w := post(r, body, Sign("whsec", ts, body), strconv.FormatInt(ts, 10))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	s, err := svc.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if s.Status != calls.StatusFailed || s.EndedReason != calls.EndedReasonFailed {
		t.Fatalf("expected failed, got %s/%s", s.Status, s.EndedReason)
	}

	// Redelivery of the same report is harmless.
	w = post(r, body, Sign("whsec", ts, body), strconv.FormatInt(ts, 10))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", w.Code)
	}
}

func TestWebhook_RejectsBadSignatures(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r, _, id := newWebhookRouter(t, "whsec", now)
	body := []byte(`{"sessionId":"` + id + `"}`)

	if w := post(r, body, "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", w.Code)
	}
	ts := now.Unix()
	if w := post(r, body, Sign("other", ts, body), strconv.FormatInt(ts, 10)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", w.Code)
	}
	old := now.Add(-time.Hour).Unix()
	if w := post(r, body, Sign("whsec", old, body), strconv.FormatInt(old, 10)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for replayed timestamp, got %d", w.Code)
	}
}

func TestWebhook_UnknownSession(t *testing.T) {
	r, _, _ := newWebhookRouter(t, "", time.Now())
	if w := post(r, []byte(`{"sessionId":"nope"}`), "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := post(r, []byte(`{}`), "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
