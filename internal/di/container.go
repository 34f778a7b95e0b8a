package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/odera-store/api/internal/platform/auth"
	"github.com/odera-store/api/internal/platform/config"
	"github.com/odera-store/api/internal/platform/events"
	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/platform/mail"
	"github.com/odera-store/api/internal/platform/observability"
	"github.com/odera-store/api/internal/platform/ratelimit"
	"github.com/odera-store/api/internal/platform/retry"
	"github.com/odera-store/api/internal/repositories"
	firestorerepo "github.com/odera-store/api/internal/repositories/firestore"
	"github.com/odera-store/api/internal/repositories/memory"
	"github.com/odera-store/api/internal/services"
)

const (
	eventProducer    = "odera-api"
	storeName        = "Odera"
	mailTimeout      = 15 * time.Second
	sweepMaxPages    = 20
	sweepParallelism = 4
	kafkaWorkers     = 4
	rateLimitScope   = "orders"

	firestoreDialTimeout = 10 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders        services.OrderService
	Sweeper       services.ExpirySweeper
	Notifications services.NotificationService
	System        services.SystemService
	Audit         services.AuditLogService
}

// EventPublisher is an event backend owned by the container.
type EventPublisher interface {
	services.OrderEventPublisher
	Close(ctx context.Context) error
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Authenticator *auth.Authenticator
	OIDC          *auth.OIDCValidator
	Limiter       ratelimit.Limiter
	Metrics       *observability.OrderMetrics
	// KafkaConsumer is set when events flow through Kafka; the caller runs it.
	KafkaConsumer *events.KafkaConsumer

	logger    *zap.Logger
	publisher EventPublisher
	probes    map[string]services.HealthProbe
	closers   []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	registry  repositories.Registry
	logger    *zap.Logger
	build     services.BuildInfo
	verifier  auth.TokenVerifier
	clock     func() time.Time
	mailer    services.Mailer
	publisher EventPublisher
}

// WithRegistry supplies a pre-built repository registry instead of the configured backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger sets the base logger for services and background workers.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBuildInfo records version metadata reported by health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithTokenVerifier overrides the Firebase verifier used for admin and customer tokens.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithClock overrides time.Now for every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithMailer replaces the configured mail transport.
func WithMailer(mailer services.Mailer) Option {
	return func(o *options) { o.mailer = mailer }
}

// WithEventPublisher replaces the configured event backend.
func WithEventPublisher(publisher EventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// NewContainer constructs the runtime dependencies. Tests typically pass WithRegistry with an
// in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	c := &Container{Config: cfg, logger: o.logger, probes: map[string]services.HealthProbe{}}

	metrics, err := observability.NewOrderMetrics()
	if err != nil {
		return nil, fmt.Errorf("build order metrics: %w", err)
	}
	c.Metrics = metrics

	reg := o.registry
	if reg == nil {
		reg, err = buildRegistry(ctx, cfg, o.logger, metrics)
		if err != nil {
			return nil, err
		}
	}
	c.Repositories = reg
	c.closers = append(c.closers, reg.Close)

	if err := c.buildLimiter(ctx, o.clock); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	if err := c.buildServices(ctx, o); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	verifier := o.verifier
	if verifier == nil && cfg.Firebase.ProjectID != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = firebaseVerifier
	}
	c.Authenticator = auth.NewAuthenticator(verifier,
		auth.WithMaxAuthAge(cfg.Security.AdminMaxAuthAge),
		auth.WithClock(o.clock),
	)

	if audience := strings.TrimSpace(cfg.Security.OIDC.Audience); audience != "" {
		cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
		c.OIDC = auth.NewOIDCValidator(cache, audience, cfg.Security.OIDC.Issuers, o.logger.Named("oidc"))
	}

	return c, nil
}

// Close releases resources such as repository clients, event publishers, and caches. Closers run
// in reverse order of construction.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *observability.OrderMetrics) (repositories.Registry, error) {
	policy := retry.NewPolicy(cfg.Transactions.MaxAttempts, cfg.Transactions.InitialBackoff, cfg.Transactions.MaxBackoff)
	backend := cfg.Store.Backend

	policy.OnRetry = func(ctx context.Context, attempt int, err error) {
		metrics.TxRetried(ctx, backend)
		logger.Debug("transaction retry", zap.String("store", backend), zap.Int("attempt", attempt), zap.Error(err))
	}

	switch backend {
	case config.StoreBackendMemory:
		return memory.NewRegistry(memory.NewStore(memory.WithRetryPolicy(policy))), nil
	case config.StoreBackendFirestore, "":
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(firestoreDialTimeout))
		reg, err := firestorerepo.NewRegistry(provider, firestorerepo.RegistryOptions{
			TxPolicy:  policy,
			TxTimeout: cfg.Transactions.Timeout,
		})
		if err != nil {
			_ = provider.Close(ctx)
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}

func (c *Container) buildServices(ctx context.Context, o options) error {
	reg := c.Repositories
	cfg := c.Config
	logEvent := observability.EventLogger(o.logger.Named("services"))

	audit, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      o.clock,
	})
	if err != nil {
		return fmt.Errorf("build audit log service: %w", err)
	}
	c.Services.Audit = audit

	mailer := o.mailer
	if mailer == nil {
		mailer, err = buildMailer(cfg.Mail, o.logger.Named("mail"))
		if err != nil {
			return err
		}
	}
	notifications, err := services.NewNotificationService(services.NotificationServiceDeps{
		UnitOfWork: reg,
		Orders:     reg.Orders(),
		Audit:      audit,
		Mailer:     mailer,
		AdminCopy:  cfg.Mail.AdminCopy,
		StoreName:  storeName,
		Clock:      o.clock,
		Logger:     logEvent,
	})
	if err != nil {
		return fmt.Errorf("build notification service: %w", err)
	}
	c.Services.Notifications = notifications

	publisher := o.publisher
	if publisher == nil {
		publisher, err = c.buildPublisher(ctx, notifications)
		if err != nil {
			return err
		}
	}
	c.publisher = publisher
	c.closers = append(c.closers, publisher.Close)

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		UnitOfWork:          reg,
		Products:            reg.Products(),
		StockMovements:      reg.StockMovements(),
		Orders:              reg.Orders(),
		Counters:            reg.Counters(),
		Idempotency:         reg.IdempotencyKeys(),
		PaymentCodes:        reg.PaymentCodes(),
		RateLimits:          reg.RateLimits(),
		Settings:            reg.Settings(),
		Audit:               audit,
		Events:              publisher,
		Metrics:             c.Metrics,
		ReservationWindow:   cfg.Orders.ReservationWindow,
		RateWindow:          cfg.Orders.RateWindow,
		DefaultDeliveryCost: cfg.Orders.DefaultDeliveryCost,
		WhatsAppNumber:      cfg.Orders.WhatsAppNumber,
		IDPrefix:            cfg.Orders.IDPrefix,
		Clock:               o.clock,
		Logger:              logEvent,
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orders

	sweeper, err := services.NewExpirySweeper(services.ExpirySweeperDeps{
		UnitOfWork:     reg,
		Orders:         reg.Orders(),
		Products:       reg.Products(),
		StockMovements: reg.StockMovements(),
		Events:         publisher,
		Metrics:        c.Metrics,
		BatchSize:      cfg.Sweeper.BatchSize,
		MaxPages:       sweepMaxPages,
		Parallelism:    sweepParallelism,
		Clock:          o.clock,
		Logger:         logEvent,
	})
	if err != nil {
		return fmt.Errorf("build expiry sweeper: %w", err)
	}
	c.Services.Sweeper = sweeper

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            o.clock,
		Build:            o.build,
		Probes:           c.probes,
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}
	c.Services.System = system
	return nil
}

func buildMailer(cfg config.MailConfig, logger *zap.Logger) (services.Mailer, error) {
	if !cfg.Enabled() {
		return mail.LogSender{Logger: logger}, nil
	}
	sender, err := mail.NewSMTPSender(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.From,
		Timeout:  mailTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build smtp sender: %w", err)
	}
	return sender, nil
}

// buildPublisher selects the event backend. Local delivery hands events straight to the
// notification service; Pub/Sub relies on the push subscription; Kafka adds an in-process consumer.
func (c *Container) buildPublisher(ctx context.Context, notifications services.NotificationService) (EventPublisher, error) {
	cfg := c.Config.Events
	logger := c.logger.Named("events")

	switch cfg.Backend {
	case config.EventsBackendLocal, "":
		publisher, err := events.NewLocalPublisher(notifications.HandleOrderEvent, func(ctx context.Context, event services.OrderEvent, err error) {
			logger.Error("local event delivery failed",
				zap.Error(err),
				zap.String("eventId", event.ID),
				zap.String("eventType", event.Type),
				zap.String("orderId", event.OrderID),
			)
		})
		if err != nil {
			return nil, fmt.Errorf("build local publisher: %w", err)
		}
		return publisher, nil

	case config.EventsBackendPubSub:
		projectID := c.Config.Firestore.ProjectID
		if projectID == "" {
			projectID = c.Config.Firebase.ProjectID
		}
		var clientOpts []option.ClientOption
		if c.Config.Firebase.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(c.Config.Firebase.CredentialsFile))
		}
		client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.PubSubTopic), eventProducer)
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		c.probes["events"] = publisher.Ping
		return publisher, nil

	case config.EventsBackendKafka:
		kafkaCfg := events.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaTopic,
			GroupID:     cfg.KafkaGroup,
			Producer:    eventProducer,
			Workers:     kafkaWorkers,
			ErrorLogger: observability.NewPrintfAdapter(logger.Named("kafka")),
		}
		publisher, err := events.NewKafkaPublisher(kafkaCfg)
		if err != nil {
			return nil, err
		}
		consumer, err := events.NewKafkaConsumer(kafkaCfg, func(ctx context.Context, msg kafka.Message, err error) {
			logger.Error("kafka event handling failed",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.ByteString("key", msg.Key),
			)
		})
		if err != nil {
			_ = publisher.Close(ctx)
			return nil, err
		}
		c.KafkaConsumer = consumer
		return publisher, nil

	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}

// buildLimiter prefers Redis so every instance shares one window; without it each instance counts
// on its own.
func (c *Container) buildLimiter(ctx context.Context, clock func() time.Time) error {
	cfg := c.Config.RateLimits
	if cfg.PublicPerMinute <= 0 {
		return nil
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		c.Limiter = ratelimit.NewMemory(cfg.PublicPerMinute, time.Minute, clock)
		return nil
	}
	client, err := ratelimit.NewRedisClient(ctx, addr, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("build redis rate limiter: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	c.probes["ratelimit"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	c.Limiter = ratelimit.NewRedis(client, rateLimitScope, cfg.PublicPerMinute, time.Minute)
	return nil
}
