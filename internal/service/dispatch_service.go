package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/observability"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
	"github.com/kursadbilgin/phone-notifier/internal/ratelimit"
	"github.com/kursadbilgin/phone-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSubmissionTimeout = 10 * time.Second

	// TestMessage is spoken or sent by SendTest.
	TestMessage = "This is a test message from phone-notifier."
)

// TestResult identifies the vendor attempt made by SendTest.
type TestResult struct {
	ProviderAlias       string
	VendorCorrelationID string
}

// DispatchService hands notification calls and SMS to the active provider and records
// every attempt as a DeliveryRecord.
type DispatchService struct {
	records     repository.DeliveryRecordRepository
	resolver    ProviderResolver
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	timeout     time.Duration
	now         func() time.Time
	newID       func() string
}

func NewDispatchService(
	records repository.DeliveryRecordRepository,
	resolver ProviderResolver,
	rateLimiter ratelimit.RateLimiter,
	timeout time.Duration,
	logger *zap.Logger,
) (*DispatchService, error) {
	if records == nil {
		return nil, fmt.Errorf("delivery record repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if timeout <= 0 {
		timeout = defaultSubmissionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		records:     records,
		resolver:    resolver,
		rateLimiter: rateLimiter,
		logger:      logger,
		timeout:     timeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Notify submits a notification of the given kind. When the provider cannot serve the
// kind or rejects the attempt, the returned record is FAILED with a failure reason and
// the error tells the caller whether another kind is worth trying.
func (s *DispatchService) Notify(ctx context.Context, kind domain.RecordKind, number string, text string) (*domain.DeliveryRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	number = domain.NormalizeNumber(number)
	if err := domain.ValidateNumber(number); err != nil {
		return nil, err
	}
	if err := domain.ValidateContent(kind, text); err != nil {
		return nil, err
	}

	adapter, err := s.resolver.Get(ctx)
	if err != nil {
		return nil, err
	}

	record := domain.NewDeliveryRecord(s.newID(), kind, number, adapter.Alias, s.now().UTC())
	if err := s.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create delivery record: %w", err)
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("recordId", record.ID),
		zap.String("provider", adapter.Alias),
		zap.String("kind", kind.String()),
	)

	if err := s.rateLimiter.Wait(ctx, ratelimit.Bucket(adapter.Alias, kind)); err != nil {
		return s.fail(ctx, logger, record, &provider.SubmissionError{
			Message:   "rate limiter wait failed",
			Transient: true,
			Cause:     err,
		})
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := s.now()
	switch kind {
	case domain.KindCall:
		err = provider.NotificationCall(submitCtx, adapter.Provider, number, text, record)
	case domain.KindSMS:
		err = provider.NotificationSMS(submitCtx, adapter.Provider, number, text, record)
	}
	s.metrics.ObserveSubmissionDuration(adapter.Alias, lowerKind(kind), s.now().Sub(started))
	if err != nil {
		return s.fail(ctx, logger, record, classifyProviderError(err))
	}

	if err := s.records.SetVendorCorrelationID(ctx, record.ID, record.VendorCorrelationID); err != nil {
		// The vendor accepted the attempt; a callback carrying the record id can still
		// attach the correlation id later.
		logger.Error("failed to store vendor correlation id",
			zap.String("vendorCorrelationId", record.VendorCorrelationID),
			zap.Error(err),
		)
		s.metrics.IncSubmission(adapter.Alias, lowerKind(kind), "ok")
		return record, fmt.Errorf("failed to store vendor correlation id: %w", err)
	}

	s.metrics.IncSubmission(adapter.Alias, lowerKind(kind), "ok")
	logger.Info("notification submitted",
		zap.String("vendorCorrelationId", record.VendorCorrelationID),
	)
	return record, nil
}

// SendTest places a plain test call or SMS without creating a delivery record.
func (s *DispatchService) SendTest(ctx context.Context, kind domain.RecordKind, number string) (*TestResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	number = domain.NormalizeNumber(number)
	if err := domain.ValidateNumber(number); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid kind %q", domain.ErrValidation, kind)
	}

	adapter, err := s.resolver.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.rateLimiter.Wait(ctx, ratelimit.Bucket(adapter.Alias, kind)); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var vendorID string
	switch kind {
	case domain.KindCall:
		vendorID, err = adapter.Provider.MakeCall(submitCtx, number, TestMessage)
	case domain.KindSMS:
		vendorID, err = adapter.Provider.SendSMS(submitCtx, number, TestMessage)
	}
	err = classifyProviderError(err)
	s.metrics.IncSubmission(adapter.Alias, lowerKind(kind), providerOutcome(err))
	if err != nil {
		return nil, err
	}

	return &TestResult{ProviderAlias: adapter.Alias, VendorCorrelationID: vendorID}, nil
}

func (s *DispatchService) fail(ctx context.Context, logger *zap.Logger, record *domain.DeliveryRecord, cause error) (*domain.DeliveryRecord, error) {
	reason := domain.FailureSubmissionFailed
	if errors.Is(cause, provider.ErrNotSupported) {
		reason = domain.FailureNotSupported
	}
	s.metrics.IncSubmission(record.ProviderAlias, lowerKind(record.Kind), providerOutcome(cause))

	// The submission may have outlived the caller's context; the record must still close.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.records.MarkFailed(markCtx, record.ID, reason); err != nil {
		logger.Error("failed to mark delivery record as failed",
			zap.String("reason", string(reason)),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return record, fmt.Errorf("%w (failed to mark record as failed: %v)", cause, err)
	}

	record.Status = domain.StatusFailed
	record.FailureReason = &reason
	record.UpdatedAt = s.now().UTC()

	if reason == domain.FailureNotSupported {
		logger.Info("provider does not support notification kind")
	} else {
		logger.Warn("notification submission failed", zap.Error(cause))
	}
	return record, cause
}

func lowerKind(kind domain.RecordKind) string {
	return strings.ToLower(kind.String())
}
