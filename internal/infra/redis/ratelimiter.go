package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	backoffStep              = 20 * time.Millisecond
	backoffMax               = 200 * time.Millisecond
	windowSeconds            = 1
)

// Fixed one-second window: the first hit sets the expiry.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*SubmissionLimiter)(nil)

// SubmissionLimiter caps vendor submissions per second across all instances.
type SubmissionLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewSubmissionLimiter(client *goredis.Client, limitPerSec int) (*SubmissionLimiter, error) {
	return newSubmissionLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newSubmissionLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SubmissionLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SubmissionLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (l *SubmissionLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	bucket = strings.ToLower(strings.TrimSpace(bucket))
	if bucket == "" {
		return false, fmt.Errorf("rate limit bucket is required")
	}

	key := fmt.Sprintf("ratelimit:%s:%d", bucket, l.now().UTC().Unix())
	result, err := allowScript.Run(ctx, l.client, []string{key}, l.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until bucket has budget or ctx ends.
func (l *SubmissionLimiter) Wait(ctx context.Context, bucket string) error {
	backoff := backoffStep
	for {
		allowed, err := l.Allow(ctx, bucket)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
