package calls

import (
	"context"
	"fmt"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
)

// AuditAdapter bridges the state machine's transition hook to audit.Service.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogTransition(ctx context.Context, r TransitionRecord) error {
	if a.Audit == nil {
		return nil
	}
	role, _ := auth.Role(ctx)
	msg := r.Op
	if r.Detail != "" {
		msg = fmt.Sprintf("%s: %s", r.Op, r.Detail)
	}
	return a.Audit.Append(ctx, audit.Event{
		SessionID:   r.SessionID,
		Type:        audit.EventTypeTransition,
		Op:          r.Op,
		ActorUserID: r.ActorUserID,
		ActorRole:   role,
		FromStatus:  string(r.From),
		ToStatus:    string(r.To),
		Reason:      string(r.Reason),
		Message:     msg,
		CreatedAt:   r.At,
	})
}
