package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-signaling/internal/metrics"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"

	"github.com/google/uuid"
)

// DefaultRingTimeout bounds how long a session may stay ringing.
const DefaultRingTimeout = 45 * time.Second

// maxTransitionAttempts bounds re-reads after compare-and-swap conflicts.
// Conflicts that leave the requested transition still legal (two invitees
// accepting a group call) are retried; anything else resolves on the first re-read.
const maxTransitionAttempts = 4

const sweepBatchSize = 500

// GroupMembership answers whether a user belongs to a group conversation.
// It lets members join a group call they were not rung for.
type GroupMembership interface {
	IsMember(ctx context.Context, groupChatRef, userID string) (bool, error)
}

// Auditor receives every persisted transition. Failures are logged and ignored.
type Auditor interface {
	LogTransition(ctx context.Context, r TransitionRecord) error
}

// TransitionRecord describes one persisted change to a session.
type TransitionRecord struct {
	SessionID   string
	Op          string
	ActorUserID string
	From        CallStatus
	To          CallStatus
	Reason      EndedReason
	Detail      string
	At          time.Time
}

type Options struct {
	RingTimeout time.Duration
	Audit       Auditor
	Members     GroupMembership
}

// Service is the call session state machine. It is the only writer of
// CallSession records; every write is a compare-and-swap through Store.
//
// Notifications go out after the write succeeds and never affect the outcome.
type Service struct {
	store       Store
	signals     signaling.Channel
	audit       Auditor
	members     GroupMembership
	ringTimeout time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(store Store, signals signaling.Channel, opts Options) *Service {
	rt := opts.RingTimeout
	if rt <= 0 {
		rt = DefaultRingTimeout
	}
	return &Service{
		store:       store,
		signals:     signals,
		audit:       opts.Audit,
		members:     opts.Members,
		ringTimeout: rt,
		clock:       time.Now,
		newID:       uuid.NewString,
	}
}

// RingTimeout returns the configured ring timeout.
func (s *Service) RingTimeout() time.Duration { return s.ringTimeout }

type InitiateRequest struct {
	InitiatorID  string
	Targets      []string
	Type         CallType
	GroupChatRef string
}

type InitiateResult struct {
	Session CallSession
	// Busy lists requested targets that were skipped because they are already in a call.
	Busy []string
}

// Initiate creates a ringing session and rings every eligible target.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	initiator := strings.TrimSpace(req.InitiatorID)
	if initiator == "" || !req.Type.Valid() {
		return InitiateResult{}, ErrInvalidArgument
	}
	targets := normalizeTargets(initiator, req.Targets)
	if len(targets) == 0 {
		return InitiateResult{}, fmt.Errorf("%w: at least one target required", ErrInvalidArgument)
	}

	busy, err := s.isBusy(ctx, initiator, "")
	if err != nil {
		return InitiateResult{}, err
	}
	if busy {
		metrics.BusyRejections.Inc()
		return InitiateResult{}, &BusyError{UserIDs: []string{initiator}}
	}

	eligible := make([]string, 0, len(targets))
	var busyTargets []string
	for _, t := range targets {
		b, err := s.isBusy(ctx, t, "")
		if err != nil {
			return InitiateResult{}, err
		}
		if b {
			metrics.BusyRejections.Inc()
			busyTargets = append(busyTargets, t)
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return InitiateResult{}, &BusyError{UserIDs: busyTargets}
	}

	now := s.now()
	joined := now
	sess := CallSession{
		ID:          s.newID(),
		Type:        req.Type,
		InitiatorID: initiator,
		Participants: []Participant{
			{UserID: initiator, Role: RoleHost, JoinedAt: &joined},
		},
		TargetUserIDs:  append([]string(nil), eligible...),
		InvitedUserIDs: append([]string(nil), eligible...),
		Status:         StatusRinging,
		Group:          len(targets) > 1 || req.GroupChatRef != "",
		GroupChatRef:   strings.TrimSpace(req.GroupChatRef),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.store.Create(ctx, sess)
	if err != nil {
		return InitiateResult{}, err
	}
	metrics.SessionsCreated.WithLabelValues(string(created.Type)).Inc()
	s.record(ctx, TransitionRecord{SessionID: created.ID, Op: "initiate", ActorUserID: initiator, To: StatusRinging, At: now})

	for _, t := range created.TargetUserIDs {
		_ = s.signals.EmitToUser(ctx, t, signaling.Incoming{
			SessionID: created.ID,
			From:      initiator,
			Type:      string(created.Type),
			Group:     created.Group,
		})
	}

	return InitiateResult{Session: created, Busy: busyTargets}, nil
}

// Accept joins userID to a session they were rung for. The first accept
// moves a ringing session to active. Accepting again is a no-op.
func (s *Service) Accept(ctx context.Context, sessionID, userID string) (CallSession, error) {
	cur, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return CallSession{}, err
	}
	if cur.IsTarget(userID) && cur.Status.Live() {
		busy, err := s.isEngaged(ctx, userID, sessionID)
		if err != nil {
			return CallSession{}, err
		}
		if busy {
			metrics.BusyRejections.Inc()
			return cur, &BusyError{UserIDs: []string{userID}}
		}
	}

	out, err := s.transition(ctx, sessionID, "accept", userID, func(sess *CallSession, now time.Time) (bool, error) {
		if !sess.Involves(userID) {
			return false, ErrUnauthorized
		}
		if sess.Status.Terminal() || sess.IsPresent(userID) {
			return false, nil
		}
		if !sess.IsTarget(userID) {
			// Left earlier or already declined; rejoining goes through Join.
			return false, ErrInvalidTransition
		}
		sess.removeTarget(userID)
		joined := now
		sess.Participants = append(sess.Participants, Participant{UserID: userID, Role: RoleInvitee, JoinedAt: &joined})
		if sess.Status == StatusRinging {
			sess.Status = StatusActive
		}
		return true, nil
	})
	if err != nil || !out.changed {
		return out.after, err
	}

	s.notifySession(ctx, sessionID, signaling.Accepted{SessionID: sessionID, UserID: userID})
	_ = s.signals.EmitToUser(ctx, userID, signaling.AcceptedElsewhere{SessionID: sessionID})
	return out.after, nil
}

// Decline removes userID from the ringing set. A ringing session with no
// targets left becomes declined.
func (s *Service) Decline(ctx context.Context, sessionID, userID string) (CallSession, error) {
	out, err := s.transition(ctx, sessionID, "decline", userID, func(sess *CallSession, now time.Time) (bool, error) {
		if !sess.Involves(userID) {
			return false, ErrUnauthorized
		}
		if sess.Status.Terminal() {
			return false, nil
		}
		if !sess.IsTarget(userID) {
			if sess.IsPresent(userID) {
				return false, ErrInvalidTransition
			}
			return false, nil
		}
		sess.removeTarget(userID)
		if sess.Status == StatusRinging && len(sess.TargetUserIDs) == 0 {
			sess.finish(StatusDeclined, EndedReasonDeclined, now)
		}
		return true, nil
	})
	if err != nil || !out.changed {
		return out.after, err
	}

	ev := signaling.Declined{SessionID: sessionID, UserID: userID}
	s.notifySession(ctx, sessionID, ev)
	// The decliner is no longer on the roster; their other devices still ring.
	_ = s.signals.EmitToUser(ctx, userID, ev)
	if out.after.Status.Terminal() {
		s.notifyEnded(ctx, out.after)
	}
	return out.after, nil
}

// Cancel ends a ringing session. Only the initiator may cancel.
func (s *Service) Cancel(ctx context.Context, sessionID, userID string) (CallSession, error) {
	out, err := s.transition(ctx, sessionID, "cancel", userID, func(sess *CallSession, now time.Time) (bool, error) {
		if sess.InitiatorID != userID {
			return false, ErrUnauthorized
		}
		if sess.Status.Terminal() {
			return false, nil
		}
		if sess.Status != StatusRinging {
			return false, ErrInvalidTransition
		}
		sess.finish(StatusEnded, EndedReasonCancelled, now)
		return true, nil
	})
	if err != nil || !out.changed {
		return out.after, err
	}
	s.notifyEnded(ctx, out.after)
	return out.after, nil
}

// Join adds userID to an active group call: a pending invitee, a returning
// participant, or a member of the group chat the call was placed in.
func (s *Service) Join(ctx context.Context, sessionID, userID string) (CallSession, error) {
	cur, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return CallSession{}, err
	}
	groupMember := false
	if !cur.Involves(userID) && cur.GroupChatRef != "" && s.members != nil {
		groupMember, err = s.members.IsMember(ctx, cur.GroupChatRef, userID)
		if err != nil {
			return CallSession{}, fmt.Errorf("calls: group membership: %w", err)
		}
	}
	if (cur.Involves(userID) || groupMember) && !cur.IsPresent(userID) && cur.Status.Live() {
		busy, err := s.isEngaged(ctx, userID, sessionID)
		if err != nil {
			return CallSession{}, err
		}
		if busy {
			metrics.BusyRejections.Inc()
			return cur, &BusyError{UserIDs: []string{userID}}
		}
	}

	out, err := s.transition(ctx, sessionID, "join", userID, func(sess *CallSession, now time.Time) (bool, error) {
		if !sess.Involves(userID) && !groupMember {
			return false, ErrUnauthorized
		}
		if sess.Status != StatusActive || !sess.Group {
			return false, ErrInvalidTransition
		}
		if sess.IsPresent(userID) {
			return false, nil
		}
		joined := now
		if i := sess.participantIndex(userID); i >= 0 {
			sess.Participants[i].JoinedAt = &joined
			sess.Participants[i].LeftAt = nil
			return true, nil
		}
		sess.removeTarget(userID)
		sess.Participants = append(sess.Participants, Participant{UserID: userID, Role: RoleInvitee, JoinedAt: &joined})
		return true, nil
	})
	if err != nil || !out.changed {
		return out.after, err
	}
	s.notifySession(ctx, sessionID, signaling.ParticipantJoined{SessionID: sessionID, UserID: userID})
	return out.after, nil
}

// Leave marks userID as gone. When fewer than two participants remain the
// session ends with reason hangup.
func (s *Service) Leave(ctx context.Context, sessionID, userID string) (CallSession, error) {
	out, err := s.transition(ctx, sessionID, "leave", userID, func(sess *CallSession, now time.Time) (bool, error) {
		if !sess.Involves(userID) {
			return false, ErrUnauthorized
		}
		if sess.Status.Terminal() {
			return false, nil
		}
		if sess.Status != StatusActive {
			// Ringing sessions are left through cancel (host) or decline (target).
			return false, ErrInvalidTransition
		}
		i := sess.participantIndex(userID)
		if i < 0 {
			return false, ErrInvalidTransition
		}
		if !sess.Participants[i].Present() {
			return false, nil
		}
		left := now
		sess.Participants[i].LeftAt = &left
		if len(sess.PresentUserIDs()) < 2 {
			sess.finish(StatusEnded, EndedReasonHangup, now)
		}
		return true, nil
	})
	if err != nil || !out.changed {
		return out.after, err
	}
	s.notifySession(ctx, sessionID, signaling.ParticipantLeft{SessionID: sessionID, UserID: userID})
	if out.after.Status.Terminal() {
		s.notifyEnded(ctx, out.after)
	}
	return out.after, nil
}

// Fail is invoked by the media transport when a session cannot continue.
func (s *Service) Fail(ctx context.Context, sessionID, detail string) (CallSession, error) {
	out, err := s.transition(ctx, sessionID, "fail", "", func(sess *CallSession, now time.Time) (bool, error) {
		if sess.Status.Terminal() {
			return false, nil
		}
		sess.finish(StatusFailed, EndedReasonFailed, now)
		return true, nil
	}, withDetail(detail))
	if err != nil || !out.changed {
		return out.after, err
	}
	s.notifyEnded(ctx, out.after)
	return out.after, nil
}

// Expire moves a ringing session past its ring timeout to missed.
// It is a no-op for any other session, which makes it safe to call from
// concurrent sweeps on several nodes.
func (s *Service) Expire(ctx context.Context, sessionID string) (CallSession, bool, error) {
	out, err := s.transition(ctx, sessionID, "timeout", "", func(sess *CallSession, now time.Time) (bool, error) {
		if sess.Status != StatusRinging {
			return false, nil
		}
		if now.Sub(sess.CreatedAt) < s.ringTimeout {
			return false, nil
		}
		sess.finish(StatusMissed, EndedReasonTimeout, now)
		return true, nil
	})
	if errors.Is(err, ErrStaleState) {
		// Someone answered or cancelled while we were expiring; their outcome stands.
		return out.after, false, nil
	}
	if err != nil || !out.changed {
		return out.after, false, err
	}
	s.notifyEnded(ctx, out.after)
	return out.after, true, nil
}

// SweepExpired re-derives ring timeouts from CreatedAt and expires every
// overdue ringing session. It returns how many sessions became missed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ringTimeout)
	due, err := s.store.ListRingingCreatedBefore(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("calls: list overdue sessions: %w", err)
	}
	var firstErr error
	expired := 0
	for _, sess := range due {
		_, ok, err := s.Expire(ctx, sess.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, firstErr
}

// SetMuted records a participant's mute state.
func (s *Service) SetMuted(ctx context.Context, sessionID, userID string, muted bool) (CallSession, error) {
	out, err := s.transition(ctx, sessionID, "mute", userID, func(sess *CallSession, now time.Time) (bool, error) {
		if !sess.Involves(userID) {
			return false, ErrUnauthorized
		}
		if !sess.Status.Live() {
			return false, ErrInvalidTransition
		}
		i := sess.participantIndex(userID)
		if i < 0 || !sess.Participants[i].Present() {
			return false, ErrInvalidTransition
		}
		if sess.Participants[i].Muted == muted {
			return false, nil
		}
		sess.Participants[i].Muted = muted
		return true, nil
	})
	if err != nil || !out.changed {
		return out.after, err
	}
	s.notifySession(ctx, sessionID, signaling.ParticipantMuted{SessionID: sessionID, UserID: userID, Muted: muted})
	return out.after, nil
}

// RecordNegotiation notes that userID has started exchanging negotiation
// payloads. Only presence and first-seen time are kept.
func (s *Service) RecordNegotiation(ctx context.Context, sessionID, userID string) (CallSession, error) {
	out, err := s.transition(ctx, sessionID, "negotiate", userID, func(sess *CallSession, now time.Time) (bool, error) {
		if !sess.IsPresent(userID) {
			return false, ErrUnauthorized
		}
		if sess.Status.Terminal() {
			return false, ErrInvalidTransition
		}
		if _, ok := sess.NegotiationState[userID]; ok {
			return false, nil
		}
		if sess.NegotiationState == nil {
			sess.NegotiationState = map[string]time.Time{}
		}
		sess.NegotiationState[userID] = now
		return true, nil
	})
	return out.after, err
}

// Get returns a session the caller belongs to.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (CallSession, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return CallSession{}, err
	}
	if !sess.Involves(userID) {
		return CallSession{}, ErrUnauthorized
	}
	return sess, nil
}

// Lookup returns a session without an ownership check. Admin and internal use only.
func (s *Service) Lookup(ctx context.Context, sessionID string) (CallSession, error) {
	return s.store.Get(ctx, sessionID)
}

// History lists the caller's sessions created in [from, to).
func (s *Service) History(ctx context.Context, userID string, from, to time.Time) ([]CallSession, error) {
	if userID == "" || !to.After(from) {
		return nil, ErrInvalidArgument
	}
	return s.store.ListSessionsForUser(ctx, userID, from, to)
}

/* ===================== INTERNAL ===================== */

type applyFunc func(sess *CallSession, now time.Time) (changed bool, err error)

type outcome struct {
	before  CallSession
	after   CallSession
	changed bool
}

type transitionOpt func(*TransitionRecord)

func withDetail(d string) transitionOpt {
	return func(r *TransitionRecord) { r.Detail = d }
}

// transition runs apply against a fresh snapshot and submits it as a
// compare-and-swap. On conflict it re-reads: a transition that became a no-op
// after the status moved to terminal, or became illegal, is reported as
// ErrStaleState; a still-legal transition is retried.
func (s *Service) transition(ctx context.Context, id, op, actor string, apply applyFunc, opts ...transitionOpt) (outcome, error) {
	log := logger.From(ctx)

	var firstStatus CallStatus
	conflicted := false
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return outcome{}, err
		}
		if attempt == 0 {
			firstStatus = cur.Status
		}

		now := s.now()
		next := cur.Clone()
		changed, err := apply(&next, now)
		if err != nil {
			if conflicted && errors.Is(err, ErrInvalidTransition) {
				return outcome{before: cur, after: cur}, ErrStaleState
			}
			return outcome{before: cur, after: cur}, err
		}
		if !changed {
			if conflicted && cur.Status != firstStatus && cur.Status.Terminal() {
				return outcome{before: cur, after: cur}, ErrStaleState
			}
			return outcome{before: cur, after: cur}, nil
		}

		next.UpdatedAt = now
		saved, err := s.store.Update(ctx, id, cur.Version, next)
		if errors.Is(err, ErrStaleWrite) {
			conflicted = true
			metrics.StaleWrites.Inc()
			log.Debug("call transition conflict", "session_id", id, "op", op, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return outcome{before: cur, after: cur}, err
		}

		if cur.Status != saved.Status {
			metrics.RecordTransition(string(cur.Status), string(saved.Status))
			log.Info("call transition", "session_id", id, "op", op, "actor", actor, "from", cur.Status, "to", saved.Status, "reason", saved.EndedReason)
		}
		rec := TransitionRecord{
			SessionID:   id,
			Op:          op,
			ActorUserID: actor,
			From:        cur.Status,
			To:          saved.Status,
			Reason:      saved.EndedReason,
			At:          now,
		}
		for _, o := range opts {
			o(&rec)
		}
		s.record(ctx, rec)
		return outcome{before: cur, after: saved, changed: true}, nil
	}

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return outcome{}, err
	}
	return outcome{before: cur, after: cur}, ErrStaleState
}

// isBusy reports whether userID has a live session other than exceptID.
func (s *Service) isBusy(ctx context.Context, userID, exceptID string) (bool, error) {
	active, err := s.store.ListActiveForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("calls: list active sessions: %w", err)
	}
	for _, a := range active {
		if a.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

// isEngaged is the busy check for answering: only sessions where userID is
// actually in the call (host included) count. Another call still ringing
// for userID does not stop them from picking this one up.
func (s *Service) isEngaged(ctx context.Context, userID, exceptID string) (bool, error) {
	active, err := s.store.ListActiveForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("calls: list active sessions: %w", err)
	}
	for _, a := range active {
		if a.ID != exceptID && a.IsPresent(userID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) notifySession(ctx context.Context, sessionID string, ev signaling.Event) {
	if err := s.signals.EmitToSession(ctx, sessionID, ev); err != nil {
		logger.From(ctx).Debug("session notify incomplete", "session_id", sessionID, "event", ev.Name(), "err", err)
	}
}

func (s *Service) notifyEnded(ctx context.Context, sess CallSession) {
	s.notifySession(ctx, sess.ID, signaling.Ended{SessionID: sess.ID, Reason: string(sess.EndedReason)})
}

func (s *Service) record(ctx context.Context, r TransitionRecord) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogTransition(ctx, r); err != nil {
		logger.From(ctx).Warn("call audit failed", "session_id", r.SessionID, "op", r.Op, "err", err)
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func normalizeTargets(initiator string, in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" || t == initiator {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
