package groups

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/signaling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/groups/team-core/members/alice":
			w.WriteHeader(http.StatusOK)
		case "/groups/broken/members/alice":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_IsMember(t *testing.T) {
	srv := newChatServer(t)
	c := NewClient(srv.URL+"/", time.Second)
	require.True(t, c.IsEnabled())
	ctx := context.Background()

	ok, err := c.IsMember(ctx, "team-core", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsMember(ctx, "team-core", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.IsMember(ctx, "", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.IsMember(ctx, "broken", "alice")
	assert.Error(t, err)
}

func TestClient_Disabled(t *testing.T) {
	c := NewClient("", time.Second)
	assert.Nil(t, c)
	assert.False(t, c.IsEnabled())
	_, err := c.IsMember(context.Background(), "g", "alice")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_LetsChatMembersJoinGroupCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/groups/chat-1/members/dave" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	store := calls.NewMemoryStore()
	signals := signaling.NewDispatcher(signaling.NewRecorder(), calls.Roster(store), nil)
	svc := calls.NewService(store, signals, calls.Options{Members: NewClient(srv.URL, time.Second)})

	res, err := svc.Initiate(ctx, calls.InitiateRequest{InitiatorID: "alice", Targets: []string{"bob"}, Type: calls.CallTypeVoice, GroupChatRef: "chat-1"})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, res.Session.ID, "bob")
	require.NoError(t, err)

	sess, err := svc.Join(ctx, res.Session.ID, "dave")
	require.NoError(t, err)
	assert.True(t, sess.IsPresent("dave"))

	_, err = svc.Join(ctx, res.Session.ID, "mallory")
	assert.ErrorIs(t, err, calls.ErrUnauthorized)
}
