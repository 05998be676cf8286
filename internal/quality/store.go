package quality

import (
	"context"
	"sync"
)

// Reading is the latest classified sample for one participant.
type Reading struct {
	UserID string `json:"userId"`
	Tier   Tier   `json:"tier"`
	Sample Sample `json:"sample"`
}

// LatestStore keeps one Reading per participant per session.
type LatestStore interface {
	// Swap stores r and returns the reading it replaced, if any.
	Swap(ctx context.Context, sessionID string, r Reading) (prev Reading, found bool, err error)
	List(ctx context.Context, sessionID string) ([]Reading, error)
}

// MemoryLatest is a process-local LatestStore for tests and single-node runs.
type MemoryLatest struct {
	mu       sync.Mutex
	sessions map[string]map[string]Reading
}

func NewMemoryLatest() *MemoryLatest {
	return &MemoryLatest{sessions: map[string]map[string]Reading{}}
}

func (m *MemoryLatest) Swap(ctx context.Context, sessionID string, r Reading) (Reading, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := m.sessions[sessionID]
	if byUser == nil {
		byUser = map[string]Reading{}
		m.sessions[sessionID] = byUser
	}
	prev, ok := byUser[r.UserID]
	byUser[r.UserID] = r
	return prev, ok, nil
}

func (m *MemoryLatest) List(ctx context.Context, sessionID string) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reading, 0, len(m.sessions[sessionID]))
	for _, r := range m.sessions[sessionID] {
		out = append(out, r)
	}
	return out, nil
}
