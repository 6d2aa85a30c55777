package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
)

// RateLimiter throttles vendor submissions per bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}

// Bucket names the throughput budget shared by all submissions of one kind to one vendor.
func Bucket(alias string, kind domain.RecordKind) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(strings.TrimSpace(alias)), strings.ToLower(kind.String()))
}
