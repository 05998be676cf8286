package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development.
// It honours the same compare-and-swap contract as the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]CallSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]CallSession{}}
}

func (r *MemoryStore) Create(ctx context.Context, s CallSession) (CallSession, error) {
	if s.ID == "" {
		return CallSession{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return CallSession{}, ErrConflict
	}
	r.sessions[s.ID] = s.Clone()
	return s.Clone(), nil
}

func (r *MemoryStore) Get(ctx context.Context, id string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryStore) Update(ctx context.Context, id string, expectedVersion int64, next CallSession) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return CallSession{}, ErrStaleWrite
	}
	next.ID = id
	next.Version = expectedVersion + 1
	r.sessions[id] = next.Clone()
	return next.Clone(), nil
}

func (r *MemoryStore) ListActiveForUser(ctx context.Context, userID string) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallSession, 0)
	for _, s := range r.sessions {
		if !s.Status.Live() {
			continue
		}
		if s.IsTarget(userID) || s.IsPresent(userID) {
			out = append(out, s.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryStore) ListRingingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallSession, 0)
	for _, s := range r.sessions {
		if s.Status == StatusRinging && !s.CreatedAt.After(cutoff) {
			out = append(out, s.Clone())
		}
	}
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryStore) ListSessionsForUser(ctx context.Context, userID string, from, to time.Time) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallSession, 0)
	for _, s := range r.sessions {
		if !s.Involves(userID) {
			continue
		}
		if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			continue
		}
		out = append(out, s.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(s []CallSession) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}
