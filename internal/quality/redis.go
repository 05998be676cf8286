package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention bounds how long readings outlive the last sample of a session.
const DefaultRetention = time.Hour

var swapReadingScript = redis.NewScript(`
-- KEYS[1] = session hash
-- ARGV[1] = user id (field)
-- ARGV[2] = encoded reading
-- ARGV[3] = ttl_ms
--
-- Returns the previous reading, or false.
local prev = redis.call('HGET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return prev
`)

// RedisLatest shares latest readings across API nodes so tier-change
// detection works regardless of which node a sample lands on.
type RedisLatest struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisLatest(rdb *redis.Client, retention time.Duration) *RedisLatest {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisLatest{rdb: rdb, prefix: "calls:quality:", retention: retention}
}

func (s *RedisLatest) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisLatest) Swap(ctx context.Context, sessionID string, r Reading) (Reading, bool, error) {
	if s.rdb == nil {
		return Reading{}, false, fmt.Errorf("quality: redis client is nil")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return Reading{}, false, err
	}
	res, err := swapReadingScript.Run(ctx, s.rdb, []string{s.key(sessionID)}, r.UserID, b, s.retention.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return Reading{}, false, nil
	}
	if err != nil {
		return Reading{}, false, fmt.Errorf("quality: swap reading: %w", err)
	}
	var prev Reading
	if err := json.Unmarshal([]byte(res), &prev); err != nil {
		// A corrupt previous value is treated as absent.
		return Reading{}, false, nil
	}
	return prev, true, nil
}

func (s *RedisLatest) List(ctx context.Context, sessionID string) ([]Reading, error) {
	if s.rdb == nil {
		return nil, fmt.Errorf("quality: redis client is nil")
	}
	fields, err := s.rdb.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("quality: list readings: %w", err)
	}
	out := make([]Reading, 0, len(fields))
	for _, raw := range fields {
		var r Reading
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
