package quality

import (
	"context"
	"errors"
	"sort"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/metrics"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"
)

var ErrNotParticipant = errors.New("quality: sender is not a current participant")

// DefaultStaleAfter is how old a reading may be before snapshots flag it.
const DefaultStaleAfter = 15 * time.Second

// Sessions is the read-only view of the state machine the monitor needs.
type Sessions interface {
	Lookup(ctx context.Context, sessionID string) (calls.CallSession, error)
	Get(ctx context.Context, sessionID, userID string) (calls.CallSession, error)
}

type Monitor struct {
	sessions   Sessions
	latest     LatestStore
	signals    signaling.Channel
	staleAfter time.Duration
	clock      func() time.Time
}

func NewMonitor(sessions Sessions, latest LatestStore, signals signaling.Channel, staleAfter time.Duration) *Monitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Monitor{
		sessions:   sessions,
		latest:     latest,
		signals:    signals,
		staleAfter: staleAfter,
		clock:      time.Now,
	}
}

// Submit classifies s and, if the sender's tier changed, tells the other
// present participants. It never changes session state.
func (m *Monitor) Submit(ctx context.Context, s Sample) (Tier, error) {
	if err := s.validate(); err != nil {
		return "", err
	}
	sess, err := m.sessions.Lookup(ctx, s.SessionID)
	if err != nil {
		return "", err
	}
	if sess.Status.Terminal() || !sess.IsPresent(s.UserID) {
		return "", ErrNotParticipant
	}

	if s.At.IsZero() {
		s.At = m.clock().UTC()
	}
	tier := Classify(s)
	metrics.QualitySamples.WithLabelValues(string(tier)).Inc()

	prev, found, err := m.latest.Swap(ctx, s.SessionID, Reading{UserID: s.UserID, Tier: tier, Sample: s})
	if err != nil {
		// Readings are advisory; losing one only delays the next broadcast.
		logger.From(ctx).Warn("quality reading not stored", "session_id", s.SessionID, "user_id", s.UserID, "err", err)
		return tier, nil
	}
	if found && prev.Tier == tier {
		return tier, nil
	}

	ev := signaling.Quality{SessionID: s.SessionID, From: s.UserID, Tier: string(tier)}
	for _, u := range sess.PresentUserIDs() {
		if u == s.UserID {
			continue
		}
		_ = m.signals.EmitToUser(ctx, u, ev)
	}
	return tier, nil
}

// ParticipantQuality is one row of a snapshot.
type ParticipantQuality struct {
	UserID   string    `json:"userId"`
	Tier     Tier      `json:"tier,omitempty"`
	SampleAt time.Time `json:"sampleAt,omitempty"`
	// Stale is true when no sample arrived within the stale window or none was ever sent.
	Stale bool `json:"stale"`
}

// Snapshot returns the latest tier of every present participant, as seen by viewerID.
func (m *Monitor) Snapshot(ctx context.Context, sessionID, viewerID string) ([]ParticipantQuality, error) {
	sess, err := m.sessions.Get(ctx, sessionID, viewerID)
	if err != nil {
		return nil, err
	}
	readings, err := m.latest.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]Reading, len(readings))
	for _, r := range readings {
		byUser[r.UserID] = r
	}

	now := m.clock()
	out := make([]ParticipantQuality, 0)
	for _, u := range sess.PresentUserIDs() {
		pq := ParticipantQuality{UserID: u, Stale: true}
		if r, ok := byUser[u]; ok {
			pq.Tier = r.Tier
			pq.SampleAt = r.Sample.At
			pq.Stale = now.Sub(r.Sample.At) > m.staleAfter
		}
		out = append(out, pq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
