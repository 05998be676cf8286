package calls

import (
	"context"
	"time"
)

// Store is the persistence contract for call sessions.
//
// Update is a compare-and-swap: it must write next only if the stored version
// still equals expectedVersion, and return ErrStaleWrite otherwise. Service
// relies on this for per-session mutual exclusion; there is no lock.
//
// Sessions are never deleted here; retention belongs to whoever owns the table.
type Store interface {
	Create(ctx context.Context, s CallSession) (CallSession, error)
	Get(ctx context.Context, id string) (CallSession, error)
	Update(ctx context.Context, id string, expectedVersion int64, next CallSession) (CallSession, error)

	// ListActiveForUser returns ringing/active sessions the user hosts,
	// is present in, or is still invited to.
	ListActiveForUser(ctx context.Context, userID string) ([]CallSession, error)

	// ListRingingCreatedBefore feeds the ring-timeout sweep.
	ListRingingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]CallSession, error)

	// ListSessionsForUser returns sessions involving the user created in [from, to).
	ListSessionsForUser(ctx context.Context, userID string, from, to time.Time) ([]CallSession, error)
}
