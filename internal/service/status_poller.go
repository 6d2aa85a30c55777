package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/observability"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
	"github.com/kursadbilgin/phone-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Minute
	defaultPollAge      = 5 * time.Minute
	defaultPollLimit    = 100

	// PollSource marks callbacks synthesised by the poller.
	PollSource = "poll"
)

// StatusPoller periodically asks vendors for the status of records whose callbacks are
// overdue and reconciles the answer like any other callback.
type StatusPoller struct {
	records    repository.DeliveryRecordRepository
	resolver   ProviderResolver
	reconciler CallbackReconciler
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	age        time.Duration
	limit      int
	now        func() time.Time
}

func NewStatusPoller(
	records repository.DeliveryRecordRepository,
	resolver ProviderResolver,
	reconciler CallbackReconciler,
	interval time.Duration,
	age time.Duration,
	limit int,
	logger *zap.Logger,
) (*StatusPoller, error) {
	if records == nil {
		return nil, fmt.Errorf("delivery record repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if age <= 0 {
		age = defaultPollAge
	}
	if limit <= 0 {
		limit = defaultPollLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusPoller{
		records:    records,
		resolver:   resolver,
		reconciler: reconciler,
		logger:     logger,
		interval:   interval,
		age:        age,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (p *StatusPoller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *StatusPoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("status poll failed", zap.Error(err))
			}
		}
	}
}

func (p *StatusPoller) pollOnce(ctx context.Context) error {
	aliases := p.querierAliases()
	if len(aliases) == 0 {
		return nil
	}
	cutoff := p.now().Add(-p.age).UTC()

	var errs []error
	for _, kind := range []domain.RecordKind{domain.KindCall, domain.KindSMS} {
		records, err := p.records.ListPending(ctx, repository.PendingParams{
			Kind:            kind,
			Statuses:        domain.PendingStatuses(kind),
			ProviderAliases: aliases,
			UpdatedBefore:   cutoff,
			Limit:           p.limit,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list pending %s records: %w", lowerKind(kind), err))
			continue
		}

		for i := range records {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.pollRecord(ctx, &records[i])
		}
	}

	return errors.Join(errs...)
}

// querierAliases lists the providers that can answer status queries. Records of
// other providers never enter a batch.
func (p *StatusPoller) querierAliases() []string {
	var aliases []string
	for _, alias := range p.resolver.Aliases() {
		adapter, err := p.resolver.ByAlias(alias)
		if err != nil {
			p.logger.Warn("cannot poll unavailable provider", zap.String("provider", alias), zap.Error(err))
			continue
		}
		if _, ok := adapter.(provider.StatusQuerier); ok {
			aliases = append(aliases, alias)
		}
	}
	return aliases
}

func (p *StatusPoller) pollRecord(ctx context.Context, record *domain.DeliveryRecord) {
	if !record.Submitted() {
		return
	}

	logger := p.logger.With(
		zap.String("recordId", record.ID),
		zap.String("provider", record.ProviderAlias),
	)

	// Every attempt moves the record to the back of the queue, whatever the outcome.
	if err := p.records.MarkPolled(ctx, record.ID, p.now().UTC()); err != nil {
		logger.Warn("failed to record poll time", zap.Error(err))
	}

	adapter, err := p.resolver.ByAlias(record.ProviderAlias)
	if err != nil {
		p.metrics.IncStatusPoll(record.ProviderAlias, "unknown_provider")
		logger.Warn("cannot poll record of unavailable provider", zap.Error(err))
		return
	}
	querier, ok := adapter.(provider.StatusQuerier)
	if !ok {
		p.metrics.IncStatusPoll(record.ProviderAlias, "not_supported")
		return
	}

	vendorStatus, err := querier.FetchStatus(ctx, record.Kind, record.VendorCorrelationID)
	if err != nil {
		p.metrics.IncStatusPoll(record.ProviderAlias, "fetch_failed")
		logger.Warn("failed to fetch vendor status", zap.Error(err))
		return
	}

	result, err := p.reconciler.Reconcile(ctx, domain.StatusCallback{
		ProviderAlias:       record.ProviderAlias,
		Kind:                record.Kind,
		RecordID:            record.ID,
		VendorCorrelationID: record.VendorCorrelationID,
		VendorStatus:        vendorStatus,
		Payload:             map[string]string{"source": PollSource},
	})
	if err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
		p.metrics.IncStatusPoll(record.ProviderAlias, "reconcile_failed")
		logger.Error("failed to reconcile polled status", zap.Error(err))
		return
	}

	outcome := string(domain.OutcomeIllegalTransition)
	if result != nil {
		outcome = string(result.Outcome)
	}
	p.metrics.IncStatusPoll(record.ProviderAlias, outcome)
}
