package bucket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"idresolve/internal/ratelimit/models"
)

// fixedWindowScript increments the window counter, starting the window on the
// first hit, and returns the count and the window's remaining milliseconds.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisBucketStore is a fixed window limiter shared by every replica.
type RedisBucketStore struct {
	client redis.UniversalClient
	clock  func() time.Time
}

func NewRedis(client redis.UniversalClient) *RedisBucketStore {
	return &RedisBucketStore{client: client, clock: time.Now}
}

// Allow counts the request against key. Requests over limit are still counted,
// so a client that keeps hammering does not shorten its own wait.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	raw, err := fixedWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(raw) != 2 {
		return nil, errors.New("redis rate limit: unexpected script reply")
	}
	count, ttl := int(raw[0]), time.Duration(raw[1])*time.Millisecond

	now := s.clock()
	resetAt := now.Add(ttl)
	if count <= limit {
		return &models.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count,
			ResetAt:   resetAt,
		}, nil
	}
	return &models.Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: models.RetryAfterSeconds(now, resetAt),
	}, nil
}

// GetCurrentCount returns the count in the current window for key.
func (s *RedisBucketStore) GetCurrentCount(ctx context.Context, key string) (int, error) {
	n, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis rate limit count: %w", err)
	}
	return n, nil
}
