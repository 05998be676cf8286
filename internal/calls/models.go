package calls

import (
	"time"
)

// CallSession is a single call attempt and its lifecycle.
//
// Invariants:
// - InitiatorID is immutable and always present in Participants with role host.
// - Status only moves forward: ringing -> active|declined|missed|failed|ended, active -> ended|failed.
// - EndedReason is set iff Status is terminal.
// - A user is either a pending target or a participant, never both.
//
// Mutated only by Service; stores persist whatever Service hands them.
type CallSession struct {
	ID          string   `json:"id" db:"id"`
	Type        CallType `json:"type" db:"type"`
	InitiatorID string   `json:"initiator_id" db:"initiator_id"`

	Participants  []Participant `json:"participants" db:"participants"`
	TargetUserIDs []string      `json:"target_user_ids" db:"target_user_ids"`
	// InvitedUserIDs is the immutable set of users that were rung at creation.
	InvitedUserIDs []string `json:"invited_user_ids" db:"invited_user_ids"`

	Status CallStatus `json:"status" db:"status"`

	// Group is fixed at creation: more than one invitee or placed inside a group chat.
	Group bool `json:"group" db:"is_group"`
	// GroupChatRef is a weak reference to a conversation owned elsewhere.
	GroupChatRef string `json:"group_chat_ref,omitempty" db:"group_chat_ref"`

	// NegotiationState records which participants have exchanged negotiation
	// payloads and when the first one was relayed. Payloads themselves are never stored.
	NegotiationState map[string]time.Time `json:"negotiation_state,omitempty" db:"negotiation_state"`

	EndedReason EndedReason `json:"ended_reason,omitempty" db:"ended_reason"`

	// Version is the compare-and-swap token; bumped on every persisted transition.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Participant struct {
	UserID   string     `json:"user_id"`
	Role     Role       `json:"role"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
	Muted    bool       `json:"muted"`
}

// Present reports whether the participant is currently in the call.
func (p Participant) Present() bool {
	return p.JoinedAt != nil && p.LeftAt == nil
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type Role string

const (
	RoleHost    Role = "host"
	RoleInvitee Role = "invitee"
)

type CallStatus string

const (
	StatusRinging  CallStatus = "ringing"
	StatusActive   CallStatus = "active"
	StatusEnded    CallStatus = "ended"
	StatusMissed   CallStatus = "missed"
	StatusDeclined CallStatus = "declined"
	StatusFailed   CallStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusDeclined, StatusFailed:
		return true
	default:
		return false
	}
}

// Live reports whether the status counts against the one-call-per-user policy.
func (s CallStatus) Live() bool {
	return s == StatusRinging || s == StatusActive
}

type EndedReason string

const (
	EndedReasonHangup    EndedReason = "hangup"
	EndedReasonTimeout   EndedReason = "timeout"
	EndedReasonDeclined  EndedReason = "declined"
	EndedReasonFailed    EndedReason = "failed"
	EndedReasonCancelled EndedReason = "cancelled"
)

// Clone returns a deep copy so transitions never alias a stored snapshot.
func (s CallSession) Clone() CallSession {
	out := s
	if s.Participants != nil {
		out.Participants = make([]Participant, len(s.Participants))
		for i, p := range s.Participants {
			out.Participants[i] = p
			if p.JoinedAt != nil {
				t := *p.JoinedAt
				out.Participants[i].JoinedAt = &t
			}
			if p.LeftAt != nil {
				t := *p.LeftAt
				out.Participants[i].LeftAt = &t
			}
		}
	}
	if s.TargetUserIDs != nil {
		out.TargetUserIDs = append([]string(nil), s.TargetUserIDs...)
	}
	if s.InvitedUserIDs != nil {
		out.InvitedUserIDs = append([]string(nil), s.InvitedUserIDs...)
	}
	if s.NegotiationState != nil {
		out.NegotiationState = make(map[string]time.Time, len(s.NegotiationState))
		for k, v := range s.NegotiationState {
			out.NegotiationState[k] = v
		}
	}
	return out
}

// Participant returns the roster entry for userID.
func (s CallSession) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (s CallSession) participantIndex(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// IsTarget reports whether userID is still invited but has not answered.
func (s CallSession) IsTarget(userID string) bool {
	for _, id := range s.TargetUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsPresent reports whether userID is currently in the call.
func (s CallSession) IsPresent(userID string) bool {
	p, ok := s.Participant(userID)
	return ok && p.Present()
}

// PresentUserIDs lists participants currently in the call, in roster order.
func (s CallSession) PresentUserIDs() []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Present() {
			out = append(out, p.UserID)
		}
	}
	return out
}

// Recipients lists everyone who should hear about the session: every roster
// entry (present or former) followed by pending targets.
func (s CallSession) Recipients() []string {
	out := make([]string, 0, len(s.Participants)+len(s.TargetUserIDs))
	for _, p := range s.Participants {
		out = append(out, p.UserID)
	}
	return append(out, s.TargetUserIDs...)
}

// Involves reports whether userID ever belonged to the session: host,
// participant (including late joiners) or anyone who was rung.
func (s CallSession) Involves(userID string) bool {
	if _, ok := s.Participant(userID); ok {
		return true
	}
	for _, id := range s.InvitedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *CallSession) removeTarget(userID string) bool {
	for i, id := range s.TargetUserIDs {
		if id == userID {
			s.TargetUserIDs = append(s.TargetUserIDs[:i], s.TargetUserIDs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *CallSession) finish(status CallStatus, reason EndedReason, now time.Time) {
	s.Status = status
	s.EndedReason = reason
	for i := range s.Participants {
		if s.Participants[i].Present() {
			t := now
			s.Participants[i].LeftAt = &t
		}
	}
}
