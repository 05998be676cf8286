package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresSessionAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeTransition}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{SessionID: "s1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendTakesClientIPFromContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	ctx := WithClientIP(context.Background(), "1.2.3.4")
	if err := svc.Append(ctx, Event{SessionID: "s1", Type: EventTypeTransition, Op: "accept", ToStatus: "active"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestService_HistoryFiltersBySession(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_ = svc.Append(ctx, Event{SessionID: "a", Type: EventTypeTransition, Op: "initiate"})
	_ = svc.LogAdminAction(ctx, "b", "admin1", "admin", "inspected")
	_ = svc.Append(ctx, Event{SessionID: "a", Type: EventTypeTransition, Op: "cancel"})

	got, err := svc.History(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 || got[0].Op != "initiate" || got[1].Op != "cancel" {
		t.Fatalf("unexpected history: %+v", got)
	}
	if _, err := svc.History(ctx, ""); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}
