package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "calls:signal:user:"

// RedisTransport fans envelopes out across API nodes. Deliver publishes to a
// per-user channel; every node runs Subscribe and hands matching envelopes to
// its local Hub.
type RedisTransport struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
}

func NewRedisTransport(rdb *redis.Client, log *slog.Logger) *RedisTransport {
	if log == nil {
		log = slog.Default()
	}
	return &RedisTransport{rdb: rdb, prefix: defaultChannelPrefix, log: log}
}

func (t *RedisTransport) channel(userID string) string {
	return t.prefix + userID
}

// Deliver publishes env. Zero receiving nodes is reported as undelivered;
// a node receiving it does not guarantee the user has a socket there.
func (t *RedisTransport) Deliver(ctx context.Context, env Envelope) error {
	if t.rdb == nil {
		return fmt.Errorf("signaling: redis client is nil")
	}
	if env.UserID == "" {
		return ErrNoRecipients
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	n, err := t.rdb.Publish(ctx, t.channel(env.UserID), b).Result()
	if err != nil {
		return fmt.Errorf("signaling: publish: %w", err)
	}
	if n == 0 {
		return ErrUndelivered
	}
	return nil
}

// Subscribe forwards published envelopes to local until ctx is done.
func (t *RedisTransport) Subscribe(ctx context.Context, local Transport) error {
	if t.rdb == nil {
		return fmt.Errorf("signaling: redis client is nil")
	}
	sub := t.rdb.PSubscribe(ctx, t.prefix+"*")
	defer sub.Close()

	// Wait for subscription confirmation so publishes after return are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("signaling: psubscribe: %w", err)
	}
	t.log.Info("signal subscriber started", "pattern", t.prefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.log.Warn("signal envelope decode failed", "channel", msg.Channel, "err", err)
				continue
			}
			if env.UserID == "" {
				env.UserID = strings.TrimPrefix(msg.Channel, t.prefix)
			}
			if err := local.Deliver(ctx, env); err != nil && !errors.Is(err, ErrUndelivered) {
				t.log.Warn("signal local delivery failed", "user_id", env.UserID, "event", env.Event, "err", err)
			}
		}
	}
}
