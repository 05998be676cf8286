package calls

import (
	"context"

	"call-signaling/internal/signaling"
)

// Roster resolves session fan-out for the signaling dispatcher: everyone on
// the roster, present or former, plus pending targets.
func Roster(store Store) signaling.RosterFunc {
	return func(ctx context.Context, sessionID string) ([]string, error) {
		sess, err := store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return sess.Recipients(), nil
	}
}
