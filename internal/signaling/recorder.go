package signaling

import (
	"context"
	"sync"
)

// Recorded is one envelope captured by Recorder, already decoded.
type Recorded struct {
	UserID       string
	Event        Event
	ExceptDevice string
}

// Recorder is an in-process Transport that keeps everything delivered to it.
// Users listed in Offline fail delivery, which is how tests model a callee
// with no connected device.
type Recorder struct {
	mu      sync.Mutex
	events  []Recorded
	offline map[string]bool
}

func NewRecorder() *Recorder {
	return &Recorder{offline: map[string]bool{}}
}

// SetOffline marks userID as unreachable (or reachable again).
func (r *Recorder) SetOffline(userID string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline[userID] = offline
}

func (r *Recorder) Deliver(ctx context.Context, env Envelope) error {
	ev, err := env.Decode()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline[env.UserID] {
		return ErrUndelivered
	}
	r.events = append(r.events, Recorded{UserID: env.UserID, Event: ev, ExceptDevice: env.ExceptDevice})
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// For returns events delivered to userID with the given name.
func (r *Recorder) For(userID string, name EventName) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range r.events {
		if e.UserID == userID && e.Event.Name() == name {
			out = append(out, e.Event)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
