package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
	goredis "github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix = "verification:"

	fieldCodeHash = "code_hash"
	fieldAttempts = "attempts"
	fieldStatus   = "status"
	fieldIssuedAt = "issued_at"
)

// Counts a guess only while the challenge exists so an expired or deleted key is never
// recreated without a TTL.
var reserveAttemptScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)

var _ provider.ChallengeStore = (*ChallengeStore)(nil)

// ChallengeStore keeps one verification hash per number; Redis expiry enforces the TTL.
type ChallengeStore struct {
	client *goredis.Client
}

func NewChallengeStore(client *goredis.Client) (*ChallengeStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &ChallengeStore{client: client}, nil
}

func (s *ChallengeStore) Save(ctx context.Context, number string, challenge provider.Challenge, ttl time.Duration) error {
	key := challengeKey(number)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldCodeHash, challenge.CodeHash,
			fieldAttempts, challenge.Attempts,
			fieldStatus, challenge.Status.String(),
			fieldIssuedAt, challenge.IssuedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save verification challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Load(ctx context.Context, number string) (*provider.Challenge, error) {
	values, err := s.client.HGetAll(ctx, challengeKey(number)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load verification challenge: %w", err)
	}
	if len(values) == 0 || values[fieldCodeHash] == "" {
		return nil, nil
	}

	attempts, err := strconv.Atoi(values[fieldAttempts])
	if err != nil {
		return nil, fmt.Errorf("invalid verification attempts %q: %w", values[fieldAttempts], err)
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, values[fieldIssuedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid verification issue time %q: %w", values[fieldIssuedAt], err)
	}

	return &provider.Challenge{
		CodeHash: values[fieldCodeHash],
		Attempts: attempts,
		Status:   domain.VerificationStatus(values[fieldStatus]),
		IssuedAt: issuedAt,
	}, nil
}

// ReserveAttempt bumps the attempt counter without touching the expiry. It returns 0
// when no challenge is pending.
func (s *ChallengeStore) ReserveAttempt(ctx context.Context, number string) (int, error) {
	attempts, err := reserveAttemptScript.Run(ctx, s.client, []string{challengeKey(number)}, fieldAttempts).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to record verification attempt: %w", err)
	}
	return attempts, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, number string) error {
	if err := s.client.Del(ctx, challengeKey(number)).Err(); err != nil {
		return fmt.Errorf("failed to delete verification challenge: %w", err)
	}
	return nil
}

func challengeKey(number string) string {
	return challengeKeyPrefix + number
}
