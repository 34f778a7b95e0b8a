// Package config loads the service configuration from the environment, an optional dotenv file
// and Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultReservationWindow = 20 * time.Minute
	defaultDeliveryCost      = 15.00
	defaultOrderRateWindow   = 2 * time.Minute
	defaultOrderIDPrefix     = "ord_"
	defaultSweepInterval     = 15 * time.Minute
	defaultSweepBatchSize    = 500
	maxSweepBatchSize        = 500
	defaultTxAttempts        = 5
	defaultTxInitialBackoff  = 50 * time.Millisecond
	defaultTxMaxBackoff      = time.Second
	defaultTxTimeout         = 15 * time.Second
	defaultEventsTopic       = "order-events"
	defaultKafkaGroup        = "orders-notifications"
	defaultRateLimitPublic   = 60
	defaultSMTPPort          = 587
	defaultEnvironment       = "local"
	defaultAdminMaxAuthAge   = 8 * time.Hour
	defaultOIDCJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer        = "https://accounts.google.com"
)

const (
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
)

const (
	EventsBackendLocal  = "local"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server       ServerConfig
	Firebase     FirebaseConfig
	Firestore    FirestoreConfig
	Store        StoreConfig
	Orders       OrdersConfig
	Sweeper      SweeperConfig
	Transactions TransactionConfig
	Events       EventsConfig
	RateLimits   RateLimitConfig
	Mail         MailConfig
	Security     SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsFile string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string
}

// OrdersConfig holds the order creation rules.
type OrdersConfig struct {
	ReservationWindow time.Duration
	// DefaultDeliveryCost is used when the store settings document has no delivery cost.
	DefaultDeliveryCost int64
	RateWindow          time.Duration
	WhatsAppNumber      string
	IDPrefix            string
}

// SweeperConfig controls the reservation expiry sweeper.
type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Secret    string
}

// TransactionConfig bounds transaction retries on contention.
type TransactionConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// EventsConfig selects where domain events are published.
type EventsConfig struct {
	Backend      string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	PublicPerMinute int
	RedisAddr       string
	RedisPassword   string
}

// MailConfig configures the SMTP relay for customer emails.
type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	From         string
	AdminCopy    string
}

// Enabled reports whether enough settings are present to send mail.
func (m MailConfig) Enabled() bool {
	return strings.TrimSpace(m.SMTPHost) != "" && strings.TrimSpace(m.From) != ""
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment     string
	AdminMaxAuthAge time.Duration
	OIDC            OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler and push callers.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// Load reads every setting, resolves secret references, validates the result and enforces
// WithRequiredSecrets. The Firestore project and credentials default to Firebase's, and the
// OIDC audience can be picked per environment from API_SECURITY_OIDC_AUDIENCES.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := defaultOptions(opts)
	e, err := o.environment()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{Backend: e.lower("API_STORE_BACKEND", StoreBackendFirestore)},
		Orders: OrdersConfig{
			ReservationWindow:   e.duration("API_ORDERS_RESERVATION_WINDOW", defaultReservationWindow),
			DefaultDeliveryCost: e.cents("API_ORDERS_DEFAULT_DELIVERY_COST", defaultDeliveryCost),
			RateWindow:          e.duration("API_ORDERS_RATE_WINDOW", defaultOrderRateWindow),
			WhatsAppNumber:      e.str("API_ORDERS_WHATSAPP_NUMBER", ""),
			IDPrefix:            e.str("API_ORDERS_ID_PREFIX", defaultOrderIDPrefix),
		},
		Sweeper: SweeperConfig{
			Enabled:   e.boolean("API_SWEEPER_ENABLED", false),
			Interval:  e.duration("API_SWEEPER_INTERVAL", defaultSweepInterval),
			BatchSize: e.integer("API_SWEEPER_BATCH_SIZE", defaultSweepBatchSize),
			Secret:    e.str("API_SWEEPER_SECRET", ""),
		},
		Transactions: TransactionConfig{
			MaxAttempts:    e.integer("API_TX_MAX_ATTEMPTS", defaultTxAttempts),
			InitialBackoff: e.duration("API_TX_INITIAL_BACKOFF", defaultTxInitialBackoff),
			MaxBackoff:     e.duration("API_TX_MAX_BACKOFF", defaultTxMaxBackoff),
			Timeout:        e.duration("API_TX_TIMEOUT", defaultTxTimeout),
		},
		Events: EventsConfig{
			Backend:      e.lower("API_EVENTS_BACKEND", EventsBackendLocal),
			PubSubTopic:  e.str("API_EVENTS_PUBSUB_TOPIC", defaultEventsTopic),
			KafkaBrokers: e.list("API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   e.str("API_EVENTS_KAFKA_TOPIC", defaultEventsTopic),
			KafkaGroup:   e.str("API_EVENTS_KAFKA_GROUP", defaultKafkaGroup),
		},
		RateLimits: RateLimitConfig{
			PublicPerMinute: e.integer("API_RATELIMIT_PUBLIC_PER_MIN", defaultRateLimitPublic),
			RedisAddr:       e.str("API_RATELIMIT_REDIS_ADDR", ""),
			RedisPassword:   e.str("API_RATELIMIT_REDIS_PASSWORD", ""),
		},
		Mail: MailConfig{
			SMTPHost:     e.str("API_MAIL_SMTP_HOST", ""),
			SMTPPort:     e.integer("API_MAIL_SMTP_PORT", defaultSMTPPort),
			SMTPUser:     e.str("API_MAIL_SMTP_USER", ""),
			SMTPPassword: e.str("API_MAIL_SMTP_PASSWORD", ""),
			From:         e.str("API_MAIL_FROM", ""),
			AdminCopy:    e.str("API_MAIL_ADMIN_COPY", ""),
		},
		Security: SecurityConfig{
			Environment:     e.lower("API_SECURITY_ENVIRONMENT", defaultEnvironment),
			AdminMaxAuthAge: e.duration("API_SECURITY_ADMIN_MAX_AUTH_AGE", defaultAdminMaxAuthAge),
			OIDC: OIDCConfig{
				JWKSURL:   e.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  e.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: e.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   e.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Firestore.CredentialsFile == "" {
		cfg.Firestore.CredentialsFile = cfg.Firebase.CredentialsFile
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	for name, field := range map[string]*string{
		"Sweeper.Secret":           &cfg.Sweeper.Secret,
		"Mail.SMTPPassword":        &cfg.Mail.SMTPPassword,
		"RateLimits.RedisPassword": &cfg.RateLimits.RedisPassword,
	} {
		value, err := resolveSecret(ctx, *field, o.secret)
		if err != nil {
			return Config{}, err
		}
		*field = value
		resolved[name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(o.requiredSecrets, resolved); missing != nil {
		if o.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}
