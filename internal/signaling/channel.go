package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-signaling/internal/metrics"
)

var (
	ErrNoRecipients = errors.New("signaling: no recipients")
	ErrUndelivered  = errors.New("signaling: not delivered")
)

// Channel is what the state machine, relay and quality monitor use to notify users.
//
// Delivery is best-effort and at-most-once. A returned error is informational;
// callers must never refuse a state transition because of it.
type Channel interface {
	EmitToUser(ctx context.Context, userID string, ev Event) error
	EmitToSession(ctx context.Context, sessionID string, ev Event) error
}

// Transport delivers one envelope to every device of one user.
type Transport interface {
	Deliver(ctx context.Context, env Envelope) error
}

type originKey struct{}

type origin struct {
	userID   string
	deviceID string
}

// WithOrigin marks ctx as acting on behalf of deviceID of userID. Events
// emitted to that same user under ctx skip the originating device.
func WithOrigin(ctx context.Context, userID, deviceID string) context.Context {
	if userID == "" || deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, origin{userID: userID, deviceID: deviceID})
}

// OriginDevice returns the device set by WithOrigin for userID, if any.
func OriginDevice(ctx context.Context, userID string) string {
	o, ok := ctx.Value(originKey{}).(origin)
	if !ok || o.userID != userID {
		return ""
	}
	return o.deviceID
}

// RosterFunc resolves who currently belongs to a session. It only reads.
type RosterFunc func(ctx context.Context, sessionID string) ([]string, error)

// Dispatcher is the Channel implementation used in production: it encodes
// events and hands them to a Transport, resolving session fan-out through a roster.
type Dispatcher struct {
	transport Transport
	roster    RosterFunc
	log       *slog.Logger
	clock     func() time.Time
}

func NewDispatcher(transport Transport, roster RosterFunc, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{transport: transport, roster: roster, log: log, clock: time.Now}
}

// EmitToUser skips the caller's own device when ctx carries a WithOrigin
// mark for userID. Session fan-out never skips devices.
func (d *Dispatcher) EmitToUser(ctx context.Context, userID string, ev Event) error {
	return d.emit(ctx, userID, ev, OriginDevice(ctx, userID))
}

func (d *Dispatcher) emit(ctx context.Context, userID string, ev Event, exceptDevice string) error {
	if userID == "" {
		return ErrNoRecipients
	}
	env, err := NewEnvelope(userID, ev, d.clock())
	if err != nil {
		return err
	}
	env.ExceptDevice = exceptDevice
	if err := d.transport.Deliver(ctx, env); err != nil {
		metrics.RecordDeliveryFailure(string(ev.Name()))
		d.log.Warn("signal delivery failed", "event", ev.Name(), "user_id", userID, "err", err)
		return err
	}
	return nil
}

func (d *Dispatcher) EmitToSession(ctx context.Context, sessionID string, ev Event) error {
	if d.roster == nil {
		return fmt.Errorf("signaling: roster not configured")
	}
	users, err := d.roster(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("signaling: resolve roster: %w", err)
	}
	if len(users) == 0 {
		return ErrNoRecipients
	}
	var failed int
	for _, u := range users {
		if err := d.emit(ctx, u, ev, ""); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d recipients", ErrUndelivered, failed, len(users))
	}
	return nil
}
