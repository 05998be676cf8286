package signaling

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventName is the wire name of a call event.
type EventName string

const (
	EventIncoming          EventName = "call:incoming"
	EventAccepted          EventName = "call:accepted"
	EventAcceptedElsewhere EventName = "call:accepted_elsewhere"
	EventDeclined          EventName = "call:declined"
	EventParticipantJoined EventName = "call:participant_joined"
	EventParticipantLeft   EventName = "call:participant_left"
	EventParticipantMuted  EventName = "call:participant_muted"
	EventEnded             EventName = "call:ended"
	EventNegotiation       EventName = "call:negotiation"
	EventQuality           EventName = "call:quality"
)

// Event is the closed set of payloads the signaling channel carries.
// Only types in this package implement it.
type Event interface {
	Name() EventName
	isEvent()
}

type Incoming struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Group     bool   `json:"group,omitempty"`
}

type Accepted struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// AcceptedElsewhere tells a user's other devices to stop ringing.
type AcceptedElsewhere struct {
	SessionID string `json:"sessionId"`
}

type Declined struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type ParticipantJoined struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type ParticipantLeft struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type ParticipantMuted struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Muted     bool   `json:"muted"`
}

type Ended struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Opaque is client-supplied text forwarded without interpretation. It is
// encoded as a JSON string so the original bytes survive re-encoding; a
// raw JSON value would be compacted and HTML-escaped on the way out.
type Opaque []byte

func (o Opaque) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

func (o *Opaque) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("signaling: opaque payload must be a json string: %w", err)
	}
	*o = Opaque(s)
	return nil
}

// Negotiation carries an offer/answer/candidate payload verbatim.
type Negotiation struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	Payload   Opaque `json:"payload"`
}

type Quality struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	Tier      string `json:"tier"`
}

func (Incoming) Name() EventName          { return EventIncoming }
func (Accepted) Name() EventName          { return EventAccepted }
func (AcceptedElsewhere) Name() EventName { return EventAcceptedElsewhere }
func (Declined) Name() EventName          { return EventDeclined }
func (ParticipantJoined) Name() EventName { return EventParticipantJoined }
func (ParticipantLeft) Name() EventName   { return EventParticipantLeft }
func (ParticipantMuted) Name() EventName  { return EventParticipantMuted }
func (Ended) Name() EventName             { return EventEnded }
func (Negotiation) Name() EventName       { return EventNegotiation }
func (Quality) Name() EventName           { return EventQuality }

func (Incoming) isEvent()          {}
func (Accepted) isEvent()          {}
func (AcceptedElsewhere) isEvent() {}
func (Declined) isEvent()          {}
func (ParticipantJoined) isEvent() {}
func (ParticipantLeft) isEvent()   {}
func (ParticipantMuted) isEvent()  {}
func (Ended) isEvent()             {}
func (Negotiation) isEvent()       {}
func (Quality) isEvent()           {}

// Envelope is the frame written to a user's sockets and published across nodes.
type Envelope struct {
	UserID  string          `json:"userId,omitempty"`
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`

	// ExceptDevice names a device of UserID that must not receive the frame,
	// usually the one whose request caused it.
	ExceptDevice string `json:"exceptDevice,omitempty"`
}

// NewEnvelope encodes ev for userID.
func NewEnvelope(userID string, ev Event, now time.Time) (Envelope, error) {
	if ev == nil {
		return Envelope{}, fmt.Errorf("signaling: nil event")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("signaling: encode %s: %w", ev.Name(), err)
	}
	return Envelope{UserID: userID, Event: ev.Name(), Payload: b, SentAt: now.UTC()}, nil
}

// Decode turns an envelope back into its typed event.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Event {
	case EventIncoming:
		ev = &Incoming{}
	case EventAccepted:
		ev = &Accepted{}
	case EventAcceptedElsewhere:
		ev = &AcceptedElsewhere{}
	case EventDeclined:
		ev = &Declined{}
	case EventParticipantJoined:
		ev = &ParticipantJoined{}
	case EventParticipantLeft:
		ev = &ParticipantLeft{}
	case EventParticipantMuted:
		ev = &ParticipantMuted{}
	case EventEnded:
		ev = &Ended{}
	case EventNegotiation:
		ev = &Negotiation{}
	case EventQuality:
		ev = &Quality{}
	default:
		return nil, fmt.Errorf("signaling: unknown event %q", e.Event)
	}
	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("signaling: decode %s: %w", e.Event, err)
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch v := ev.(type) {
	case *Incoming:
		return *v
	case *Accepted:
		return *v
	case *AcceptedElsewhere:
		return *v
	case *Declined:
		return *v
	case *ParticipantJoined:
		return *v
	case *ParticipantLeft:
		return *v
	case *ParticipantMuted:
		return *v
	case *Ended:
		return *v
	case *Negotiation:
		return *v
	case *Quality:
		return *v
	}
	return ev
}
