package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/observability"
	"github.com/kursadbilgin/phone-notifier/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// CallbackReconciler applies a status callback to its delivery record.
type CallbackReconciler interface {
	Reconcile(ctx context.Context, callback domain.StatusCallback) (*ReconcileResult, error)
}

// CallbackWorker moves vendor callbacks from the webhook endpoint to the reconciler,
// through RabbitMQ when a broker is configured and inline otherwise.
type CallbackWorker struct {
	reconciler  CallbackReconciler
	publisher   queue.Publisher
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
	newID       func() string
}

// NewCallbackWorker builds a worker. publisher and consumer may both be nil, in which
// case callbacks are reconciled on the request path.
func NewCallbackWorker(
	reconciler CallbackReconciler,
	publisher queue.Publisher,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*CallbackWorker, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CallbackWorker{
		reconciler:  reconciler,
		publisher:   publisher,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (w *CallbackWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Dispatch accepts a decoded callback. It only fails when the callback could neither be
// queued nor reconciled, i.e. when the vendor should retry delivery.
func (w *CallbackWorker) Dispatch(ctx context.Context, callback domain.StatusCallback) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := callback.Validate(); err != nil {
		return err
	}

	if w.publisher != nil {
		msg := queue.CallbackMessage{
			MessageID:  w.newID(),
			Callback:   callback,
			ReceivedAt: w.now().UTC(),
		}
		if requestID, ok := observability.RequestIDFromContext(ctx); ok {
			msg.MessageID = requestID
		}

		err := w.publisher.Publish(ctx, queue.QueueName(callback.Kind), msg)
		if err == nil {
			return nil
		}
		observability.WithContextLogger(w.logger, ctx).Warn("failed to queue status callback, reconciling inline",
			zap.String("provider", callback.ProviderAlias),
			zap.String("vendorCorrelationId", callback.VendorCorrelationID),
			zap.Error(err),
		)
	}

	err := w.reconcile(ctx, callback)
	if errors.Is(err, queue.ErrRejected) {
		return nil
	}
	return err
}

// Start consumes the callback queues until context cancellation.
func (w *CallbackWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if w.consumer == nil {
		return fmt.Errorf("callback consumer is not configured")
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	// Every queue gets at least one consumer.
	workers := w.concurrency
	if workers < len(queueNames) {
		workers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("callback worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, w.processMessage)
			if err != nil {
				w.logger.Error("callback worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("callback worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *CallbackWorker) processMessage(ctx context.Context, msg queue.CallbackMessage) error {
	kind := lowerKind(msg.Callback.Kind)
	w.metrics.IncCallbackInFlight(kind)
	defer w.metrics.DecCallbackInFlight(kind)

	return w.reconcile(observability.WithRequestID(ctx, msg.MessageID), msg.Callback)
}

// reconcile maps reconcile outcomes onto queue semantics: anomalies are rejected so the
// broker dead-letters them, infrastructure errors are returned for a retry.
func (w *CallbackWorker) reconcile(ctx context.Context, callback domain.StatusCallback) error {
	_, err := w.reconciler.Reconcile(ctx, callback)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrIllegalTransition):
		// Late or out-of-order callbacks are expected; the event log keeps them.
		return nil
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("%w: %v", queue.ErrRejected, err)
	default:
		return err
	}
}
