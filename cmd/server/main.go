package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"payments/internal/app"
	"payments/internal/config"
	"payments/internal/events"
	"payments/internal/flags"
	"payments/internal/handler"
	"payments/internal/provider"
	"payments/internal/provider/mock"
	"payments/internal/provider/stripe"
	internalRedis "payments/internal/redis"
	"payments/internal/repository/postgres"
	"payments/internal/resilience"
	"payments/internal/service"
	"payments/internal/telemetry"
	"payments/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payments: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Initialize New Relic FIRST (before database so we can instrument DB).
	nrApp, err := telemetry.NewNewRelicApp(telemetry.NewRelicConfig{
		AppName:    cfg.NewRelic.AppName,
		LicenseKey: cfg.NewRelic.LicenseKey,
		Enabled:    cfg.NewRelic.Enabled,
	})
	if err != nil {
		logger.Warn("new relic disabled", zap.Error(err))
	} else if nrApp != nil {
		logger.Info("new relic enabled", zap.String("app", cfg.NewRelic.AppName))
		defer nrApp.Shutdown(5 * time.Second)
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to postgres")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("connected to redis")

	var publisher service.EventPublisher = events.NopPublisher{}
	if cfg.Kafka.Brokers != "" {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("events"))
		defer kp.Close()
		publisher = kp
		logger.Info("publishing transaction events", zap.String("topic", cfg.Kafka.Topic))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRecorder, err := telemetry.NewPrometheusRecorder(registry)
	if err != nil {
		return err
	}
	nrRecorder := telemetry.NewNewRelicRecorder(nrApp)

	payments, err := wirePayments(cfg, logger, provider.MultiRecorder{promRecorder, nrRecorder})
	if err != nil {
		return err
	}

	server, transactions := wireServer(db, redisClient, nrApp, registry, payments, publisher, logger, cfg)

	// Background workers live until shutdown.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	flusher := worker.NewMetricsFlusher(payments, cfg.Payments.MetricsInterval, logger.Named("flusher"), promRecorder, nrRecorder)
	reconciler := worker.NewReconciler(transactions, cfg.Payments.ReconcileInterval, cfg.Payments.ReconcileAge, cfg.Payments.ReconcileBatch, logger.Named("reconciler"))
	for _, job := range []func(context.Context){flusher.Run, reconciler.Run} {
		wg.Add(1)
		go func(job func(context.Context)) {
			defer wg.Done()
			job(workerCtx)
		}(job)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutting down server")
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
	}

	stopWorkers()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	logger.Info("server exited")
	return nil
}

// wirePayments builds the provider registry from configuration.
func wirePayments(cfg *config.Config, logger *zap.Logger, recorder provider.Recorder) (*service.PaymentService, error) {
	retry := resilience.RetryPolicy{
		MaxAttempts:       cfg.Payments.RetryMaxAttempts,
		InitialDelay:      cfg.Payments.RetryInitialDelay,
		MaxDelay:          cfg.Payments.RetryMaxDelay,
		BackoffMultiplier: cfg.Payments.RetryMultiplier,
		RetryableErrors:   resilience.DefaultRetryPolicy().RetryableErrors,
	}
	breaker := resilience.BreakerConfig{
		Threshold: cfg.Payments.BreakerThreshold,
		Timeout:   cfg.Payments.BreakerTimeout,
	}
	tracer := otel.Tracer("payments/provider")

	opts := []service.Option{
		service.WithLogger(logger.Named("router")),
		service.WithHealthTimeout(cfg.Payments.HealthTimeout),
	}
	if cfg.Payments.FlagsFile != "" {
		set, err := flags.Load(cfg.Payments.FlagsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithFlags(set))
		logger.Info("feature flags loaded", zap.String("file", cfg.Payments.FlagsFile), zap.Int("count", len(set.Flags())))
	}
	payments := service.NewPaymentService(opts...)

	if cfg.Payments.StripeEnabled() {
		p, err := stripe.New(stripe.Config{
			SecretKey:     cfg.Payments.StripeSecretKey,
			WebhookSecret: cfg.Payments.StripeWebhookSecret,
			BaseURL:       cfg.Payments.StripeBaseURL,
			Retry:         retry,
			Breaker:       breaker,
			Recorder:      recorder,
			Tracer:        tracer,
			Logger:        logger.Named("stripe"),
		})
		if err != nil {
			return nil, err
		}
		if err := payments.Register(p); err != nil {
			return nil, err
		}
	}

	if cfg.Payments.MockEnabled {
		mcfg := mock.DefaultConfig()
		mcfg.WebhookSecret = cfg.Payments.MockWebhookSecret
		mcfg.Latency = cfg.Payments.MockLatency
		mcfg.Retry = retry
		mcfg.Breaker = breaker
		mcfg.Recorder = recorder
		mcfg.Tracer = tracer
		mcfg.Logger = logger.Named("mock")
		p, err := mock.New(mcfg)
		if err != nil {
			return nil, err
		}
		if err := payments.Register(p); err != nil {
			return nil, err
		}
	}

	if err := payments.SetPrimary(provider.Type(cfg.Payments.Primary)); err != nil {
		return nil, err
	}
	if err := payments.SetFallback(provider.Type(cfg.Payments.Fallback)); err != nil {
		return nil, err
	}
	return payments, nil
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	registry *prometheus.Registry,
	payments *service.PaymentService,
	publisher service.EventPublisher,
	logger *zap.Logger,
	cfg *config.Config,
) (*http.Server, *service.TransactionService) {
	// Initialize Redis stores.
	webhookStore := internalRedis.NewWebhookStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	// Initialize repositories.
	txRepo := postgres.NewTransactionRepository(db)
	refundRepo := postgres.NewRefundRepository(db)
	customerRepo := postgres.NewCustomerRepository(db)

	// Initialize services.
	transactionService := service.NewTransactionService(payments, txRepo, refundRepo, customerRepo, publisher, logger.Named("transactions"))
	customerService := service.NewCustomerService(payments, customerRepo, logger.Named("customers"))
	webhookService := service.NewWebhookService(payments, transactionService, webhookStore, logger.Named("webhooks"))

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		CustomerHandler:    handler.NewCustomerHandler(customerService),
		TransactionHandler: handler.NewTransactionHandler(transactionService),
		WebhookHandler:     handler.NewWebhookHandler(webhookService),
		ProviderHandler:    handler.NewProviderHandler(payments, cacheStore),
		RedisClient:        redisClient,
		IdempotencyTTL:     cfg.Redis.IdempotencyTTL,
		NewRelicApp:        nrApp,
		Gatherer:           registry,
		Logger:             logger.Named("http"),
		ServiceName:        cfg.Tracing.ServiceName,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, transactionService
}
