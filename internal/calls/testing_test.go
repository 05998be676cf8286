package calls

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"call-signaling/internal/signaling"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc   *Service
	store *MemoryStore
	rec   *signaling.Recorder
	clock *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store := NewMemoryStore()
	rec := signaling.NewRecorder()
	svc := NewService(store, signaling.NewDispatcher(rec, Roster(store), nil), opts)

	clk := newFakeClock()
	svc.clock = clk.Now
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("call-%d", n)
	}
	return &harness{svc: svc, store: store, rec: rec, clock: clk}
}

func (h *harness) initiate(t *testing.T, from string, to ...string) CallSession {
	t.Helper()
	res, err := h.svc.Initiate(context.Background(), InitiateRequest{InitiatorID: from, Targets: to, Type: CallTypeVoice})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return res.Session
}

// racyStore runs hook once, right before the first Update reaches the store.
type racyStore struct {
	*MemoryStore
	once sync.Once
	hook func()
}

func (r *racyStore) Update(ctx context.Context, id string, expectedVersion int64, next CallSession) (CallSession, error) {
	r.once.Do(r.hook)
	return r.MemoryStore.Update(ctx, id, expectedVersion, next)
}

type staticMembers map[string][]string

func (m staticMembers) IsMember(ctx context.Context, groupChatRef, userID string) (bool, error) {
	for _, u := range m[groupChatRef] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// createHookStore runs hook once, right before the first Create reaches the
// store. The hook may itself create sessions through the same store.
type createHookStore struct {
	*MemoryStore
	hook func()
}

func (c *createHookStore) Create(ctx context.Context, s CallSession) (CallSession, error) {
	if hook := c.hook; hook != nil {
		c.hook = nil
		hook()
	}
	return c.MemoryStore.Create(ctx, s)
}
