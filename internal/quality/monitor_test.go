package quality

import (
	"context"
	"testing"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/signaling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMonitor(t *testing.T) (*Monitor, *signaling.Recorder, string, *time.Time) {
	t.Helper()
	ctx := context.Background()
	store := calls.NewMemoryStore()
	rec := signaling.NewRecorder()
	svc := calls.NewService(store, signaling.NewDispatcher(rec, calls.Roster(store), nil), calls.Options{})

	res, err := svc.Initiate(ctx, calls.InitiateRequest{InitiatorID: "alice", Targets: []string{"bob", "carol"}, Type: calls.CallTypeVoice})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, res.Session.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, res.Session.ID, "carol")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(svc, NewMemoryLatest(), signaling.NewDispatcher(rec, calls.Roster(store), nil), 10*time.Second)
	m.clock = func() time.Time { return now }
	rec.Reset()
	return m, rec, res.Session.ID, &now
}

func TestMonitor_BroadcastsOnlyOnTierChange(t *testing.T) {
	m, rec, id, _ := setupMonitor(t)
	ctx := context.Background()

	tier, err := m.Submit(ctx, Sample{SessionID: id, UserID: "bob", LatencyMs: 30})
	require.NoError(t, err)
	assert.Equal(t, TierExcellent, tier)
	assert.Len(t, rec.For("alice", signaling.EventQuality), 1)
	assert.Len(t, rec.For("carol", signaling.EventQuality), 1)
	assert.Empty(t, rec.For("bob", signaling.EventQuality), "sender must not get its own tier")

	// Same tier again: no broadcast.
	_, err = m.Submit(ctx, Sample{SessionID: id, UserID: "bob", LatencyMs: 60})
	require.NoError(t, err)
	assert.Len(t, rec.For("alice", signaling.EventQuality), 1)

	tier, err = m.Submit(ctx, Sample{SessionID: id, UserID: "bob", LatencyMs: 900})
	require.NoError(t, err)
	assert.Equal(t, TierPoor, tier)
	got := rec.For("alice", signaling.EventQuality)
	require.Len(t, got, 2)
	assert.Equal(t, "poor", got[1].(signaling.Quality).Tier)
}

func TestMonitor_RejectsNonParticipants(t *testing.T) {
	m, _, id, _ := setupMonitor(t)
	_, err := m.Submit(context.Background(), Sample{SessionID: id, UserID: "mallory", LatencyMs: 10})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = m.Submit(context.Background(), Sample{SessionID: "missing", UserID: "bob"})
	assert.ErrorIs(t, err, calls.ErrNotFound)
}

func TestMonitor_SnapshotFlagsStaleAndSilent(t *testing.T) {
	m, _, id, now := setupMonitor(t)
	ctx := context.Background()

	_, err := m.Submit(ctx, Sample{SessionID: id, UserID: "bob", LatencyMs: 30, At: now.Add(-30 * time.Second)})
	require.NoError(t, err)
	_, err = m.Submit(ctx, Sample{SessionID: id, UserID: "carol", LatencyMs: 250})
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx, id, "alice")
	require.NoError(t, err)
	require.Len(t, snap, 3)

	assert.Equal(t, "alice", snap[0].UserID)
	assert.True(t, snap[0].Stale, "silent participant is stale")
	assert.Empty(t, snap[0].Tier)

	assert.Equal(t, TierExcellent, snap[1].Tier)
	assert.True(t, snap[1].Stale)

	assert.Equal(t, TierFair, snap[2].Tier)
	assert.False(t, snap[2].Stale)

	_, err = m.Snapshot(ctx, id, "mallory")
	assert.ErrorIs(t, err, calls.ErrUnauthorized)
}
