package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/phone-notifier/internal/config"
	"github.com/kursadbilgin/phone-notifier/internal/handler"
	"github.com/kursadbilgin/phone-notifier/internal/infra/postgresql"
	"github.com/kursadbilgin/phone-notifier/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/phone-notifier/internal/infra/redis"
	"github.com/kursadbilgin/phone-notifier/internal/observability"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
	"github.com/kursadbilgin/phone-notifier/internal/provider/twilio"
	"github.com/kursadbilgin/phone-notifier/internal/provider/webhook"
	"github.com/kursadbilgin/phone-notifier/internal/queue"
	"github.com/kursadbilgin/phone-notifier/internal/repository"
	"github.com/kursadbilgin/phone-notifier/internal/service"
	"github.com/kursadbilgin/phone-notifier/internal/settings"
	"github.com/kursadbilgin/phone-notifier/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("phone-notifier api stopped", zap.Error(err))
	}
	logger.Info("phone-notifier api stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	store, err := settings.NewStore(rdb, cfg.PhoneProvider, logger)
	if err != nil {
		return err
	}
	registry, err := newRegistry(cfg, store, rdb, logger)
	if err != nil {
		return err
	}

	limiter, err := infraredis.NewSubmissionLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return err
	}

	records := repository.NewGormDeliveryRecordRepo(db)
	events := repository.NewGormStatusEventRepo(db)

	dispatch, err := service.NewDispatchService(records, registry, limiter, cfg.SubmissionTimeout, logger)
	if err != nil {
		return err
	}
	dispatch.SetMetrics(metrics)

	verification, err := service.NewVerificationService(registry, cfg.SubmissionTimeout, logger)
	if err != nil {
		return err
	}
	verification.SetMetrics(metrics)

	reconciler, err := service.NewReconciler(records, events, registry, logger)
	if err != nil {
		return err
	}
	reconciler.SetMetrics(metrics)

	var (
		publisher queue.Publisher
		consumer  queue.Consumer
		broker    handler.BrokerStatus
	)
	if cfg.BrokerEnabled() {
		rmq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer rmq.Close()

		rmqPublisher := queue.NewRabbitMQPublisher(rmq)
		defer rmqPublisher.Close()
		rmqConsumer := queue.NewRabbitMQConsumer(rmq, cfg.WorkerConcurrency, logger)
		defer rmqConsumer.Close()

		publisher, consumer, broker = rmqPublisher, rmqConsumer, rmq
	}

	worker, err := service.NewCallbackWorker(reconciler, publisher, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	poller, err := service.NewStatusPoller(records, registry, reconciler,
		cfg.StatusPollInterval, cfg.StatusPollAge, cfg.StatusPollBatchSize, logger)
	if err != nil {
		return err
	}
	poller.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterNotificationRoutes(app, dispatch, records, events); err != nil {
		return err
	}
	if err := handler.RegisterVerificationRoutes(app, verification); err != nil {
		return err
	}
	if err := handler.RegisterWebhookRoutes(app, registry, worker, logger); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("phone-notifier api started",
			zap.Int("port", cfg.APIPort),
			zap.String("activeProvider", cfg.PhoneProvider),
			zap.Strings("providers", registry.Aliases()),
			zap.Bool("broker", cfg.BrokerEnabled()),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	if consumer != nil {
		g.Go(func() error {
			return ignoreCanceled(worker.Start(gctx))
		})
	}
	g.Go(func() error {
		return ignoreCanceled(poller.Start(gctx))
	})

	return g.Wait()
}

func newRegistry(cfg *config.Config, store *settings.Store, rdb *goredis.Client, logger *zap.Logger) (*provider.Registry, error) {
	factories := map[string]provider.Factory{}

	if cfg.TwilioEnabled() {
		factories[config.ProviderTwilio] = func() (provider.Provider, error) {
			return twilio.New(twilio.Config{
				AccountSID:       cfg.TwilioAccountSID,
				AuthToken:        cfg.TwilioAuthToken,
				FromNumber:       cfg.TwilioFromNumber,
				VerifyServiceSID: cfg.TwilioVerifyServiceSID,
				CallbackBaseURL:  cfg.PublicBaseURL,
				Timeout:          cfg.SubmissionTimeout,
			})
		}
	}

	if cfg.WebhookProviderURL != "" {
		factories[config.ProviderWebhook] = func() (provider.Provider, error) {
			challenges, err := infraredis.NewChallengeStore(rdb)
			if err != nil {
				return nil, err
			}
			verifier, err := provider.NewLocalVerifier(challenges, cfg.VerificationTTL, cfg.VerificationMaxAttempts, logger)
			if err != nil {
				return nil, err
			}
			return webhook.New(webhook.Config{
				SMSEndpoint:     cfg.WebhookProviderURL,
				CallEndpoint:    cfg.WebhookProviderCallURL,
				CallbackBaseURL: cfg.PublicBaseURL,
				Timeout:         cfg.SubmissionTimeout,
			}, verifier)
		}
	}

	return provider.NewRegistry(factories, store, logger)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
