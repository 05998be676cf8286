package audit

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, session_id, type, op, actor_user_id, actor_role, ip_address,
  from_status, to_status, reason, message, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.SessionID,
		e.Type,
		e.Op,
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.FromStatus,
		e.ToStatus,
		e.Reason,
		e.Message,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListForSession(ctx context.Context, sessionID string) ([]Event, error) {
	const q = `
SELECT id, session_id, type, op, actor_user_id, actor_role, ip_address,
       from_status, to_status, reason, message, created_at
FROM audit_events
WHERE session_id = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.Type,
			&e.Op,
			&e.ActorUserID,
			&e.ActorRole,
			&e.IPAddress,
			&e.FromStatus,
			&e.ToStatus,
			&e.Reason,
			&e.Message,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
