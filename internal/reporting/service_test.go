package reporting

import (
	"context"
	"testing"
	"time"

	"call-signaling/internal/calls"
)

func ptr(t time.Time) *time.Time { return &t }

func TestCallsSummary_RequiresUserAndRange(t *testing.T) {
	svc := NewService(calls.NewMemoryStore())
	now := time.Now()

	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: now.Add(-time.Hour), To: now}}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "u", Range: TimeRange{From: now, To: now}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCallsSummary_AggregatesPerUser(t *testing.T) {
	store := calls.NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sessions := []calls.CallSession{
		{
			// alice -> bob, answered after 10s, talked 60s.
			ID: "answered", Type: calls.CallTypeVoice, InitiatorID: "alice", Status: calls.StatusEnded,
			EndedReason: calls.EndedReasonHangup, InvitedUserIDs: []string{"bob"}, CreatedAt: t0, Version: 1,
			Participants: []calls.Participant{
				{UserID: "alice", Role: calls.RoleHost, JoinedAt: ptr(t0), LeftAt: ptr(t0.Add(70 * time.Second))},
				{UserID: "bob", Role: calls.RoleInvitee, JoinedAt: ptr(t0.Add(10 * time.Second)), LeftAt: ptr(t0.Add(70 * time.Second))},
			},
		},
		{
			// carol -> alice, missed.
			ID: "missed", Type: calls.CallTypeVideo, InitiatorID: "carol", Status: calls.StatusMissed,
			EndedReason: calls.EndedReasonTimeout, InvitedUserIDs: []string{"alice"}, TargetUserIDs: []string{"alice"},
			CreatedAt: t0.Add(time.Minute), Version: 1,
			Participants: []calls.Participant{{UserID: "carol", Role: calls.RoleHost, JoinedAt: ptr(t0.Add(time.Minute))}},
		},
		{
			// alice -> dave, cancelled.
			ID: "cancelled", Type: calls.CallTypeVoice, InitiatorID: "alice", Status: calls.StatusEnded,
			EndedReason: calls.EndedReasonCancelled, InvitedUserIDs: []string{"dave"}, CreatedAt: t0.Add(2 * time.Minute), Version: 1,
			Participants: []calls.Participant{{UserID: "alice", Role: calls.RoleHost, JoinedAt: ptr(t0.Add(2 * time.Minute))}},
		},
		{
			// Not alice's call.
			ID: "other", Type: calls.CallTypeVoice, InitiatorID: "erin", Status: calls.StatusDeclined,
			EndedReason: calls.EndedReasonDeclined, InvitedUserIDs: []string{"frank"}, CreatedAt: t0, Version: 1,
			Participants: []calls.Participant{{UserID: "erin", Role: calls.RoleHost, JoinedAt: ptr(t0)}},
		},
	}
	for _, s := range sessions {
		if _, err := store.Create(ctx, s); err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}

	svc := NewService(store)
	got, err := svc.CallsSummary(ctx, CallsSummaryRequest{UserID: "alice", Range: TimeRange{From: t0.Add(-time.Hour), To: t0.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if got.TotalCalls != 3 || got.OutgoingCalls != 2 || got.IncomingCalls != 1 {
		t.Fatalf("unexpected direction counts: %+v", got)
	}
	if got.AnsweredCalls != 1 || got.MissedCalls != 1 || got.CancelledCalls != 1 || got.DeclinedCalls != 0 {
		t.Fatalf("unexpected outcome counts: %+v", got)
	}
	if got.VideoCalls != 1 {
		t.Fatalf("expected 1 video call, got %d", got.VideoCalls)
	}
	if got.TotalTalkSeconds != 60 || got.AverageTalkSeconds != 60 {
		t.Fatalf("expected 60s talk time, got %d/%d", got.TotalTalkSeconds, got.AverageTalkSeconds)
	}
}
