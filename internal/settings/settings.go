// Package settings holds live, operator-editable configuration shared by all instances.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PhoneProviderKey stores the alias of the provider used for new submissions.
const PhoneProviderKey = "settings:phone_provider"

// Static always reports the same alias. Used when no settings store is configured.
type Static string

func (s Static) ActiveProvider(context.Context) (string, error) {
	return string(s), nil
}

// Store reads live settings from Redis and falls back to a configured default.
type Store struct {
	client          *goredis.Client
	defaultProvider string
	logger          *zap.Logger
}

func NewStore(client *goredis.Client, defaultProvider string, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(defaultProvider) == "" {
		return nil, fmt.Errorf("default provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		client:          client,
		defaultProvider: normalize(defaultProvider),
		logger:          logger,
	}, nil
}

// ActiveProvider returns the stored alias, or the default when none is stored.
func (s *Store) ActiveProvider(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, PhoneProviderKey).Result()
	if errors.Is(err, goredis.Nil) {
		return s.defaultProvider, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", PhoneProviderKey, err)
	}

	alias := normalize(value)
	if alias == "" {
		return s.defaultProvider, nil
	}
	return alias, nil
}

// SetActiveProvider switches new submissions to alias. Records already submitted keep
// the alias they were created with.
func (s *Store) SetActiveProvider(ctx context.Context, alias string) error {
	alias = normalize(alias)
	if alias == "" {
		return fmt.Errorf("provider alias is required")
	}

	if err := s.client.Set(ctx, PhoneProviderKey, alias, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", PhoneProviderKey, err)
	}

	s.logger.Info("active phone provider changed", zap.String("provider", alias))
	return nil
}

// ResetActiveProvider removes the stored alias so the default applies again.
func (s *Store) ResetActiveProvider(ctx context.Context) error {
	if err := s.client.Del(ctx, PhoneProviderKey).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", PhoneProviderKey, err)
	}
	return nil
}

func normalize(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
