package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Factory constructs an adapter. It runs at most once per alias.
type Factory func() (Provider, error)

// AliasSource reads the currently active provider alias from live settings.
type AliasSource interface {
	ActiveProvider(ctx context.Context) (string, error)
}

// Adapter is a resolved provider together with the alias it was registered under.
type Adapter struct {
	Alias    string
	Provider Provider
}

// Registry resolves provider aliases to lazily constructed, cached adapters.
// Factories are fixed at construction; cached lookups do not take a lock.
type Registry struct {
	factories map[string]Factory
	source    AliasSource
	logger    *zap.Logger

	cache sync.Map
	group singleflight.Group
}

func NewRegistry(factories map[string]Factory, source AliasSource, logger *zap.Logger) (*Registry, error) {
	if source == nil {
		return nil, fmt.Errorf("alias source is required")
	}
	if len(factories) == 0 {
		return nil, fmt.Errorf("at least one provider factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	normalized := make(map[string]Factory, len(factories))
	for alias, factory := range factories {
		key := normalizeAlias(alias)
		if key == "" {
			return nil, fmt.Errorf("provider alias is required")
		}
		if factory == nil {
			return nil, fmt.Errorf("provider %q has no factory", alias)
		}
		if _, exists := normalized[key]; exists {
			return nil, fmt.Errorf("provider %q registered twice", alias)
		}
		normalized[key] = factory
	}

	return &Registry{
		factories: normalized,
		source:    source,
		logger:    logger,
	}, nil
}

// Get resolves the adapter for the currently active alias.
func (r *Registry) Get(ctx context.Context) (*Adapter, error) {
	alias, err := r.source.ActiveProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active provider: %w", err)
	}

	p, err := r.ByAlias(alias)
	if err != nil {
		return nil, err
	}

	return &Adapter{Alias: normalizeAlias(alias), Provider: p}, nil
}

// ByAlias resolves a specific adapter, e.g. the one that handled an earlier attempt.
func (r *Registry) ByAlias(alias string) (Provider, error) {
	key := normalizeAlias(alias)
	if cached, ok := r.cache.Load(key); ok {
		return cached.(Provider), nil
	}

	factory, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, alias)
	}

	constructed, err, _ := r.group.Do(key, func() (any, error) {
		// A caller that missed the cache may arrive after a finished flight.
		if cached, ok := r.cache.Load(key); ok {
			return cached, nil
		}

		p, err := factory()
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("provider %q factory returned nil", key)
		}

		r.cache.Store(key, p)
		r.logger.Info("provider constructed", zap.String("provider", key))
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct provider %q: %w", key, err)
	}

	return constructed.(Provider), nil
}

// Translator returns the status table of alias, or the canonical table when the adapter
// has none.
func (r *Registry) Translator(alias string) (StatusTranslator, error) {
	p, err := r.ByAlias(alias)
	if err != nil {
		return nil, err
	}
	if translator, ok := p.(StatusTranslator); ok {
		return translator, nil
	}
	return CanonicalStatusTable(), nil
}

// Aliases lists registered aliases in sorted order.
func (r *Registry) Aliases() []string {
	aliases := make([]string, 0, len(r.factories))
	for alias := range r.factories {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Has reports whether alias has a registered factory.
func (r *Registry) Has(alias string) bool {
	_, ok := r.factories[normalizeAlias(alias)]
	return ok
}

func normalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
