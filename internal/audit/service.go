package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListForSession(ctx context.Context, sessionID string) ([]Event, error)
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Expose it through admin routes only.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an admin operation against a session.
func (s *Service) LogAdminAction(ctx context.Context, sessionID, actorUserID, actorRole, message string) error {
	return s.Append(ctx, Event{
		SessionID:   sessionID,
		Type:        EventTypeAdminAction,
		Op:          "admin",
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Message:     message,
	})
}

// History returns the audit trail of one session, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]Event, error) {
	if sessionID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListForSession(ctx, sessionID)
}
