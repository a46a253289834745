package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/motomarket/api/internal/di"
	"github.com/motomarket/api/internal/handlers"
	"github.com/motomarket/api/internal/platform/auth"
	"github.com/motomarket/api/internal/platform/config"
	"github.com/motomarket/api/internal/platform/events"
	"github.com/motomarket/api/internal/platform/idempotency"
	"github.com/motomarket/api/internal/platform/observability"
	ppostgres "github.com/motomarket/api/internal/platform/postgres"
	"github.com/motomarket/api/internal/platform/secrets"
	"github.com/motomarket/api/internal/repositories"
	pgrepo "github.com/motomarket/api/internal/repositories/postgres"
	"github.com/motomarket/api/internal/services"
)

const (
	shutdownTimeout = 10 * time.Second
	closeTimeout    = 5 * time.Second
	pubsubTimeout   = 3 * time.Second

	meterName = "github.com/motomarket/api"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}
	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := ppostgres.NewProvider(cfg.Database)
	if _, err := provider.Pool(ctx); err != nil {
		logger.Fatal("failed to initialise postgres pool", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		results, err := provider.Migrate(ctx)
		if err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		for _, result := range results {
			logger.Info("applied migration", zap.Int64("version", result.Version), zap.String("source", result.Source))
		}
	}

	var (
		publisher    services.OrderEventPublisher
		healthChecks []repositories.DependencyCheck
		stopEvents   func()
	)
	if cfg.Events.Enabled() {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := client.Topic(cfg.Events.OrderTopic)
		pubsubPublisher, err := events.NewPubSubOrderPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order publisher", zap.Error(err))
		}
		publisher = pubsubPublisher
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name:     "pubsub",
			Timeout:  pubsubTimeout,
			Optional: true,
			Check:    pubsubTopicCheck(topic),
		})
		stopEvents = func() {
			pubsubPublisher.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	} else {
		logger.Info("order events disabled; no pubsub topic configured")
	}

	registry, err := pgrepo.NewRegistry(provider, pgrepo.WithHealthChecks(healthChecks...))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	metrics := observability.NewOrderMetrics(
		observability.WithMeter(otel.GetMeterProvider().Meter(meterName)),
		observability.WithMetricsLogger(logger.Named("metrics")),
	)

	container, err := di.NewContainer(ctx, cfg, registry, di.Collaborators{
		Events:    publisher,
		Metrics:   metrics,
		Logger:    serviceLogger(logger.Named("service")),
		StartedAt: startedAt,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		if stopEvents != nil {
			stopEvents()
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyLogger := observability.NewPrintfAdapter(logger.Named("idempotency"))
	idempotencyStore := idempotency.NewPostgresStore(provider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, idempotencyLogger)
	}()

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithLeeway(cfg.Auth.Leeway),
	)

	svc := container.Services
	buildInfo := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Build.Environment,
		StartedAt:   startedAt,
	}

	productHandlers := handlers.NewProductHandlers(authenticator, svc.Catalog)
	categoryHandlers := handlers.NewCategoryHandlers(authenticator, svc.Catalog)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, handlers.WithOrderIdempotency(idempotencyMiddleware))
	reviewHandlers := handlers.NewReviewHandlers(authenticator, svc.Reviews)
	userHandlers := handlers.NewUserHandlers(authenticator, svc.Users)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := strings.TrimSpace(cfg.Events.ProjectID)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithProductReviewRoutes(reviewHandlers.ProductRoutes),
		handlers.WithCategoryRoutes(categoryHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithUserRoutes(userHandlers.Routes, orderHandlers.UserRoutes),
		handlers.WithReviewRoutes(reviewHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("motomarket api listening", zap.String("environment", cfg.Build.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// serviceLogger adapts zap to the structured event hook used by services.
func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".error") {
			logger.Warn(event, zapFields...)
			return
		}
		logger.Info(event, zapFields...)
	}
}

func pubsubTopicCheck(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
		return nil
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(env["API_SECRET_PROJECT_ID"])
	if project == "" {
		project = strings.TrimSpace(env["API_EVENTS_PROJECT_ID"])
	}
	fallback := strings.TrimSpace(env["API_SECRET_FALLBACK_FILE"])
	if fallback == "" {
		fallback = secrets.DefaultFallbackPath
	}
	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallback),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if credentials := strings.TrimSpace(env["API_SECRET_CREDENTIALS_FILE"]); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
