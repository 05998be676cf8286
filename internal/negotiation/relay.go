// Package negotiation forwards opaque media-negotiation payloads (offers,
// answers, candidates) between the present participants of a live call.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"call-signaling/internal/calls"
	"call-signaling/internal/metrics"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"
)

var (
	// ErrInvalidSession means the session is terminal or one side is not a present participant.
	ErrInvalidSession = errors.New("negotiation: invalid session")
	ErrInvalidPayload = errors.New("negotiation: payload must be non-empty utf-8 json")
)

// Sessions is the slice of the state machine the relay needs.
type Sessions interface {
	Lookup(ctx context.Context, sessionID string) (calls.CallSession, error)
	RecordNegotiation(ctx context.Context, sessionID, userID string) (calls.CallSession, error)
}

// Relay never parses or keeps payloads; it only checks who may talk to whom.
type Relay struct {
	sessions Sessions
	signals  signaling.Channel
}

func NewRelay(sessions Sessions, signals signaling.Channel) *Relay {
	return &Relay{sessions: sessions, signals: signals}
}

// Relay forwards payload from fromUserID to toUserID. Delivery is
// fire-and-forget: an unreachable recipient is not an error.
func (r *Relay) Relay(ctx context.Context, sessionID, fromUserID, toUserID string, payload json.RawMessage) error {
	if len(payload) == 0 || !utf8.Valid(payload) || !json.Valid(payload) {
		return ErrInvalidPayload
	}
	if fromUserID == "" || toUserID == "" || fromUserID == toUserID {
		return fmt.Errorf("%w: sender and recipient must be distinct participants", ErrInvalidSession)
	}

	sess, err := r.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidSession, sess.Status)
	}
	if !sess.IsPresent(fromUserID) || !sess.IsPresent(toUserID) {
		return fmt.Errorf("%w: not a current participant", ErrInvalidSession)
	}

	if err := r.signals.EmitToUser(ctx, toUserID, signaling.Negotiation{
		SessionID: sessionID,
		From:      fromUserID,
		Payload:   signaling.Opaque(payload),
	}); err == nil {
		metrics.NegotiationRelayed.Inc()
	}

	if _, seen := sess.NegotiationState[fromUserID]; !seen {
		if _, err := r.sessions.RecordNegotiation(ctx, sessionID, fromUserID); err != nil {
			logger.From(ctx).Debug("negotiation bookkeeping skipped", "session_id", sessionID, "user_id", fromUserID, "err", err)
		}
	}
	return nil
}
