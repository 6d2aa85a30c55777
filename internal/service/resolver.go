package service

import (
	"context"
	"errors"

	"github.com/kursadbilgin/phone-notifier/internal/provider"
)

// ProviderResolver is the part of provider.Registry the services depend on.
type ProviderResolver interface {
	Get(ctx context.Context) (*provider.Adapter, error)
	ByAlias(alias string) (provider.Provider, error)
	Translator(alias string) (provider.StatusTranslator, error)
	Aliases() []string
}

var _ ProviderResolver = (*provider.Registry)(nil)

// classifyProviderError keeps taxonomy errors as they are and wraps anything an adapter
// returned unclassified, so callers only ever see NotSupported or SubmissionFailed.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, provider.ErrNotSupported) || errors.Is(err, provider.ErrSubmissionFailed) {
		return err
	}
	return &provider.SubmissionError{
		Message:   "provider call failed",
		Transient: provider.IsTransient(err),
		Cause:     err,
	}
}

func providerOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, provider.ErrNotSupported):
		return "not_supported"
	default:
		return "failed"
	}
}
