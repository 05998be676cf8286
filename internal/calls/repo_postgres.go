package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"call-signaling/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes the call_sessions table from migrations/0001.
// Roster, targets, invitees and negotiation state are jsonb columns; the
// version column carries the compare-and-swap token.

const uniqueViolation = "23505"

const sessionColumns = `id, type, initiator_id, participants, target_user_ids, invited_user_ids,
status, is_group, group_chat_ref, negotiation_state, ended_reason, version, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Create(ctx context.Context, s CallSession) (CallSession, error) {
	if s.ID == "" {
		return CallSession{}, ErrInvalidArgument
	}
	row, err := encodeSession(s)
	if err != nil {
		return CallSession{}, err
	}
	const q = `
INSERT INTO call_sessions (
  id, type, initiator_id, participants, target_user_ids, invited_user_ids,
  status, is_group, group_chat_ref, negotiation_state, ended_reason, version, created_at, updated_at
) VALUES (
  $1,$2,$3,$4::jsonb,$5::jsonb,$6::jsonb,$7,$8,$9,$10::jsonb,$11,$12,$13,$14
)
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID,
		s.Type,
		s.InitiatorID,
		row.participants,
		row.targets,
		row.invited,
		s.Status,
		s.Group,
		s.GroupChatRef,
		row.negotiation,
		s.EndedReason,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return CallSession{}, ErrConflict
		}
		return CallSession{}, err
	}
	return s.Clone(), nil
}

func (r *PostgresStore) Get(ctx context.Context, id string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	return s, nil
}

// Update writes next only if the stored version still equals expectedVersion.
// The row lock lets a missing row and a lost race be told apart in one transaction.
func (r *PostgresStore) Update(ctx context.Context, id string, expectedVersion int64, next CallSession) (CallSession, error) {
	row, err := encodeSession(next)
	if err != nil {
		return CallSession{}, err
	}

	var saved CallSession
	err = utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const lockQ = `SELECT version FROM call_sessions WHERE id = $1 FOR UPDATE`
		var current int64
		if err := tx.QueryRowContext(ctx, lockQ, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if current != expectedVersion {
			return ErrStaleWrite
		}

		q := `
UPDATE call_sessions SET
  participants = $3::jsonb,
  target_user_ids = $4::jsonb,
  status = $5,
  negotiation_state = $6::jsonb,
  ended_reason = $7,
  version = version + 1,
  updated_at = $8
WHERE id = $1 AND version = $2
RETURNING ` + sessionColumns
		s, err := scanSession(tx.QueryRowContext(ctx, q,
			id,
			expectedVersion,
			row.participants,
			row.targets,
			next.Status,
			row.negotiation,
			next.EndedReason,
			next.UpdatedAt,
		))
		if err != nil {
			return err
		}
		saved = s
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return saved, nil
}

func (r *PostgresStore) ListActiveForUser(ctx context.Context, userID string) ([]CallSession, error) {
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status IN ('ringing', 'active')
  AND (
    jsonb_exists(target_user_ids, $1)
    OR EXISTS (
      SELECT 1 FROM jsonb_array_elements(participants) p
      WHERE p->>'user_id' = $1
        AND p->>'joined_at' IS NOT NULL
        AND p->>'left_at' IS NULL
    )
  )
ORDER BY created_at ASC
`
	return r.query(ctx, q, userID)
}

func (r *PostgresStore) ListRingingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]CallSession, error) {
	if limit <= 0 {
		limit = sweepBatchSize
	}
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status = 'ringing' AND created_at <= $1
ORDER BY created_at ASC
LIMIT $2
`
	return r.query(ctx, q, cutoff, limit)
}

func (r *PostgresStore) ListSessionsForUser(ctx context.Context, userID string, from, to time.Time) ([]CallSession, error) {
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE created_at >= $2 AND created_at < $3
  AND (
    initiator_id = $1
    OR jsonb_exists(invited_user_ids, $1)
    OR EXISTS (SELECT 1 FROM jsonb_array_elements(participants) p WHERE p->>'user_id' = $1)
  )
ORDER BY created_at ASC
`
	return r.query(ctx, q, userID, from, to)
}

func (r *PostgresStore) query(ctx context.Context, q string, args ...any) ([]CallSession, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(sc rowScanner) (CallSession, error) {
	var (
		s                                         CallSession
		participants, targets, invited, negotiate []byte
	)
	if err := sc.Scan(
		&s.ID,
		&s.Type,
		&s.InitiatorID,
		&participants,
		&targets,
		&invited,
		&s.Status,
		&s.Group,
		&s.GroupChatRef,
		&negotiate,
		&s.EndedReason,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return CallSession{}, err
	}
	if err := decodeJSONColumn(participants, &s.Participants); err != nil {
		return CallSession{}, fmt.Errorf("calls: decode participants: %w", err)
	}
	if err := decodeJSONColumn(targets, &s.TargetUserIDs); err != nil {
		return CallSession{}, fmt.Errorf("calls: decode targets: %w", err)
	}
	if err := decodeJSONColumn(invited, &s.InvitedUserIDs); err != nil {
		return CallSession{}, fmt.Errorf("calls: decode invitees: %w", err)
	}
	if err := decodeJSONColumn(negotiate, &s.NegotiationState); err != nil {
		return CallSession{}, fmt.Errorf("calls: decode negotiation state: %w", err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

type encodedSession struct {
	participants string
	targets      string
	invited      string
	negotiation  string
}

func encodeSession(s CallSession) (encodedSession, error) {
	var (
		out encodedSession
		err error
	)
	if out.participants, err = encodeJSONColumn(s.Participants, "[]"); err != nil {
		return out, err
	}
	if out.targets, err = encodeJSONColumn(s.TargetUserIDs, "[]"); err != nil {
		return out, err
	}
	if out.invited, err = encodeJSONColumn(s.InvitedUserIDs, "[]"); err != nil {
		return out, err
	}
	if out.negotiation, err = encodeJSONColumn(s.NegotiationState, "{}"); err != nil {
		return out, err
	}
	return out, nil
}

func encodeJSONColumn(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decodeJSONColumn(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
