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

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/odera-store/api/internal/di"
	"github.com/odera-store/api/internal/handlers"
	"github.com/odera-store/api/internal/platform/config"
	"github.com/odera-store/api/internal/platform/observability"
	"github.com/odera-store/api/internal/platform/secrets"
	"github.com/odera-store/api/internal/services"
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

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	var workerWG sync.WaitGroup

	if container.KafkaConsumer != nil {
		consumerLogger := logger.Named("kafka")
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			consumerLogger.Info("order event consumer started", zap.String("topic", cfg.Events.KafkaTopic))
			if err := container.KafkaConsumer.Run(workerCtx, container.Services.Notifications.HandleOrderEvent); err != nil {
				consumerLogger.Error("order event consumer stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Sweeper.Enabled && cfg.Sweeper.Interval > 0 {
		sweepLogger := logger.Named("sweeper")
		ticker := time.NewTicker(cfg.Sweeper.Interval)
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			defer ticker.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return
				case <-ticker.C:
					summary, err := container.Services.Sweeper.RunExpirySweep(observability.WithLogger(workerCtx, sweepLogger))
					if err != nil {
						sweepLogger.Error("expiry sweep failed", zap.Error(err))
						continue
					}
					if summary.Found > 0 {
						sweepLogger.Info("expiry sweep finished",
							zap.Int("found", summary.Found),
							zap.Int("processed", summary.Processed),
							zap.Int("skipped", summary.Skipped),
							zap.Int("errors", len(summary.Errors)),
						)
					}
				}
			}
		}()
	}

	orderHandlers := handlers.NewOrderHandlers(container.Authenticator, container.Services.Orders)
	adminHandlers := handlers.NewAdminOrderHandlers(container.Authenticator, container.Services.Orders)

	internalOpts := []handlers.InternalOption{
		handlers.WithPushNotifications(container.Services.Notifications),
		handlers.WithOIDCValidator(container.OIDC),
	}
	if strings.TrimSpace(cfg.Sweeper.Secret) != "" || container.OIDC != nil {
		internalOpts = append(internalOpts, handlers.WithSweeper(container.Services.Sweeper, cfg.Sweeper.Secret))
	} else {
		logger.Warn("expiry endpoint disabled: no sweeper secret or OIDC audience configured")
	}
	internalHandlers := handlers.NewInternalHandlers(internalOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	opts = append(opts, handlers.WithOrderMiddlewares(handlers.RateLimitMiddleware(container.Limiter)))
	opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("store", cfg.Store.Backend),
		zap.String("events", cfg.Events.Backend),
	)
	go func() {
		serverLogger.Info("odera api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	workerCancel()
	workerWG.Wait()

	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. Outside local development the
// expiry endpoint needs its shared secret; SMTP credentials are required once a relay is set.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment != "" && environment != "local" && strings.TrimSpace(env["API_SECURITY_OIDC_AUDIENCE"]) == "" {
		required = append(required, "Sweeper.Secret")
	}
	if strings.TrimSpace(env["API_MAIL_SMTP_HOST"]) != "" && strings.TrimSpace(env["API_MAIL_SMTP_USER"]) != "" {
		required = append(required, "Mail.SMTPPassword")
	}
	if strings.TrimSpace(env["API_RATELIMIT_REDIS_PASSWORD"]) != "" {
		required = append(required, "RateLimits.RedisPassword")
	}
	return required
}
