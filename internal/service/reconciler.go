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
	"github.com/kursadbilgin/phone-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultLookupAttempts = 3
	defaultLookupBackoff  = 200 * time.Millisecond
	maxApplyAttempts      = 3
)

// ReconcileResult describes what one callback did to its record.
type ReconcileResult struct {
	Record   *domain.DeliveryRecord
	Previous domain.Status
	Status   domain.Status
	Outcome  domain.EventOutcome
}

// Reconciler applies vendor status callbacks to delivery records. It is the only writer
// of a record's status once the vendor has accepted the attempt.
type Reconciler struct {
	records        repository.DeliveryRecordRepository
	events         repository.StatusEventRepository
	resolver       ProviderResolver
	logger         *zap.Logger
	metrics        *observability.Metrics
	lookupAttempts int
	lookupBackoff  time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	newID          func() string
}

func NewReconciler(
	records repository.DeliveryRecordRepository,
	events repository.StatusEventRepository,
	resolver ProviderResolver,
	logger *zap.Logger,
) (*Reconciler, error) {
	if records == nil {
		return nil, fmt.Errorf("delivery record repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("status event repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		records:        records,
		events:         events,
		resolver:       resolver,
		logger:         logger,
		lookupAttempts: defaultLookupAttempts,
		lookupBackoff:  defaultLookupBackoff,
		now:            time.Now,
		sleep:          sleepContext,
		newID:          uuid.NewString,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Reconcile applies one callback. Unknown records return ErrRecordNotFound and
// regressions return ErrIllegalTransition; neither mutates the record.
func (r *Reconciler) Reconcile(ctx context.Context, callback domain.StatusCallback) (*ReconcileResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	callback.ProviderAlias = strings.ToLower(strings.TrimSpace(callback.ProviderAlias))
	if err := callback.Validate(); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(r.logger, ctx).With(
		zap.String("provider", callback.ProviderAlias),
		zap.String("kind", callback.Kind.String()),
		zap.String("vendorCorrelationId", callback.VendorCorrelationID),
		zap.String("vendorStatus", callback.VendorStatus),
	)

	record, err := r.lookup(ctx, callback)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			r.metrics.IncCallback(callback.ProviderAlias, lowerKind(callback.Kind), "not_found")
			logger.Warn("status callback for unknown delivery record",
				zap.String("recordId", callback.RecordID),
			)
		}
		return nil, err
	}
	logger = logger.With(zap.String("recordId", record.ID))

	if record.Kind != callback.Kind {
		logger.Warn("status callback kind differs from delivery record",
			zap.String("recordKind", record.Kind.String()),
		)
	}

	target := r.translate(logger, record, callback.VendorStatus)

	for attempt := 1; ; attempt++ {
		result := &ReconcileResult{Record: record, Previous: record.Status, Status: target}

		transition, err := domain.Transition(record.Kind, record.Status, target)
		if err != nil {
			result.Outcome = domain.OutcomeIllegalTransition
			r.finish(ctx, logger, callback, result)
			return result, err
		}
		if transition == domain.TransitionNoop {
			result.Outcome = domain.OutcomeDuplicate
			r.finish(ctx, logger, callback, result)
			return result, nil
		}

		err = r.records.UpdateStatus(ctx, record.ID, record.Status, target, callback.VendorStatus)
		if err == nil {
			record.Status = target
			record.VendorStatus = callback.VendorStatus
			record.UpdatedAt = r.now().UTC()
			result.Outcome = domain.OutcomeApplied
			r.finish(ctx, logger, callback, result)
			return result, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= maxApplyAttempts {
			return nil, fmt.Errorf("failed to apply status %s: %w", target, err)
		}

		// Another callback moved the record first; re-check against its new status.
		record, err = r.records.GetByID(ctx, record.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload delivery record: %w", err)
		}
	}
}

// lookup finds the record a callback belongs to, retrying while the submission that
// created it may not have stored the correlation id yet.
func (r *Reconciler) lookup(ctx context.Context, callback domain.StatusCallback) (*domain.DeliveryRecord, error) {
	backoff := r.lookupBackoff
	for attempt := 1; ; attempt++ {
		record, err := r.lookupOnce(ctx, callback)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, domain.ErrRecordNotFound) || attempt >= r.lookupAttempts {
			return nil, err
		}
		if err := r.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (r *Reconciler) lookupOnce(ctx context.Context, callback domain.StatusCallback) (*domain.DeliveryRecord, error) {
	vendorID := strings.TrimSpace(callback.VendorCorrelationID)

	if recordID := strings.TrimSpace(callback.RecordID); recordID != "" {
		record, err := r.records.GetByID(ctx, recordID)
		switch {
		case err == nil && r.owns(record, callback.ProviderAlias, vendorID):
			if record.VendorCorrelationID == "" && vendorID != "" {
				if err := r.adoptCorrelationID(ctx, record, vendorID); err != nil {
					return nil, err
				}
			}
			return record, nil
		case err != nil && !errors.Is(err, domain.ErrRecordNotFound):
			return nil, fmt.Errorf("failed to load delivery record: %w", err)
		}
	}

	if vendorID == "" {
		return nil, domain.ErrRecordNotFound
	}
	record, err := r.records.GetByVendorID(ctx, callback.ProviderAlias, vendorID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load delivery record: %w", err)
	}
	return record, nil
}

// owns reports whether a record found by id can be the subject of the callback.
func (r *Reconciler) owns(record *domain.DeliveryRecord, alias string, vendorID string) bool {
	if record.ProviderAlias != alias {
		return false
	}
	return record.VendorCorrelationID == "" || vendorID == "" || record.VendorCorrelationID == vendorID
}

func (r *Reconciler) adoptCorrelationID(ctx context.Context, record *domain.DeliveryRecord, vendorID string) error {
	if record.Status == domain.StatusFailed && record.FailureReason != nil {
		// Dispatch gave up on this record; a late vendor id cannot revive it.
		return nil
	}
	if err := r.records.SetVendorCorrelationID(ctx, record.ID, vendorID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrRecordNotFound
		}
		return fmt.Errorf("failed to store vendor correlation id: %w", err)
	}
	record.VendorCorrelationID = vendorID
	return nil
}

func (r *Reconciler) translate(logger *zap.Logger, record *domain.DeliveryRecord, vendorStatus string) domain.Status {
	translator, err := r.resolver.Translator(record.ProviderAlias)
	if err != nil {
		logger.Warn("status table unavailable, using canonical names", zap.Error(err))
		translator = provider.CanonicalStatusTable()
	}

	status := translator.TranslateStatus(record.Kind, vendorStatus)
	if status == domain.StatusUnknown {
		logger.Warn("unrecognised vendor status")
	}
	return status
}

// finish writes the audit event and counts the outcome. A failed event write does not
// undo an applied status.
func (r *Reconciler) finish(ctx context.Context, logger *zap.Logger, callback domain.StatusCallback, result *ReconcileResult) {
	r.metrics.IncCallback(callback.ProviderAlias, lowerKind(result.Record.Kind), string(result.Outcome))

	fields := []zap.Field{
		zap.String("previousStatus", result.Previous.String()),
		zap.String("status", result.Status.String()),
		zap.String("outcome", string(result.Outcome)),
	}
	switch result.Outcome {
	case domain.OutcomeIllegalTransition:
		logger.Warn("ignored status regression", fields...)
	case domain.OutcomeDuplicate:
		logger.Debug("duplicate status callback", fields...)
	default:
		logger.Info("delivery status updated", fields...)
	}

	event := &domain.StatusEvent{
		ID:              r.newID(),
		RecordID:        result.Record.ID,
		VendorStatus:    callback.VendorStatus,
		CanonicalStatus: result.Status,
		PreviousStatus:  result.Previous,
		Outcome:         result.Outcome,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.events.Create(ctx, event); err != nil {
		logger.Error("failed to write status event", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
