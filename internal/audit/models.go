package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - session_id is required; every record belongs to one call session.
// - actor and ip capture are best-effort; do not block call transitions on audit failures.
//
// Storage (Postgres): table audit_events from migrations/0002, INSERT only.
type Event struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`

	// Type indicates the category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Op is the state machine operation (initiate, accept, timeout, ...).
	Op string `json:"op" db:"op"`

	// ActorUserID is empty for system-driven transitions (timeout, media failure).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when the transition came from a request.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status" db:"to_status"`
	Reason     string `json:"reason,omitempty" db:"reason"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeTransition  EventType = "call_transition"
	EventTypeAdminAction EventType = "admin_action"
)
