package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/observability"
	"go.uber.org/zap"
)

// VerificationService proves a user controls a number through the active provider.
type VerificationService struct {
	resolver ProviderResolver
	logger   *zap.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
}

// NewVerificationService bounds each provider call by timeout, like notification
// submissions.
func NewVerificationService(resolver ProviderResolver, timeout time.Duration, logger *zap.Logger) (*VerificationService, error) {
	if resolver == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}
	if timeout <= 0 {
		timeout = defaultSubmissionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VerificationService{
		resolver: resolver,
		logger:   logger,
		timeout:  timeout,
	}, nil
}

func (s *VerificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start sends a verification code by SMS or voice call.
func (s *VerificationService) Start(ctx context.Context, number string, method domain.VerificationMethod) error {
	if ctx == nil {
		ctx = context.Background()
	}

	number = domain.NormalizeNumber(number)
	if err := domain.ValidateNumber(number); err != nil {
		return err
	}
	if !method.IsValid() {
		return fmt.Errorf("%w: invalid verification method %q", domain.ErrValidation, method)
	}

	adapter, err := s.resolver.Get(ctx)
	if err != nil {
		return err
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	switch method {
	case domain.VerificationBySMS:
		err = adapter.Provider.SendVerificationSMS(submitCtx, number)
	case domain.VerificationByCall:
		err = adapter.Provider.MakeVerificationCall(submitCtx, number)
	}
	cancel()
	err = classifyProviderError(err)

	outcome := providerOutcome(err)
	if err == nil {
		outcome = "sent"
	}
	s.metrics.IncVerification(adapter.Alias, "start", outcome)

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("provider", adapter.Alias),
		zap.String("method", method.String()),
	)
	if err != nil {
		logger.Warn("verification start failed", zap.Error(err))
		return err
	}
	logger.Info("verification started")
	return nil
}

// Finish checks code and returns the verified number. A wrong or expired code is
// ErrInvalidCode.
func (s *VerificationService) Finish(ctx context.Context, number string, code string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	number = domain.NormalizeNumber(number)
	if err := domain.ValidateNumber(number); err != nil {
		return "", err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: code is required", domain.ErrValidation)
	}

	adapter, err := s.resolver.Get(ctx)
	if err != nil {
		return "", err
	}

	finishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	verified, ok, err := adapter.Provider.FinishVerification(finishCtx, number, code)
	cancel()
	if err != nil {
		err = classifyProviderError(err)
		s.metrics.IncVerification(adapter.Alias, "finish", providerOutcome(err))
		return "", err
	}
	if !ok {
		s.metrics.IncVerification(adapter.Alias, "finish", "invalid_code")
		observability.WithContextLogger(s.logger, ctx).Info("verification code rejected",
			zap.String("provider", adapter.Alias),
		)
		return "", domain.ErrInvalidCode
	}

	s.metrics.IncVerification(adapter.Alias, "finish", "verified")
	if verified == "" {
		verified = number
	}
	return verified, nil
}
