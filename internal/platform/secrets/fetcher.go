// Package secrets resolves secret:// and sm:// references used in configuration values.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/odera-store/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references against Secret Manager, caching values for the life of the
// process. When Secret Manager is unreachable or not configured, values come from a local
// dotenv-style fallback file keyed by reference.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	project    string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu       sync.RWMutex
	cache    map[string]string
	inflight singleflight.Group

	resolutions metric.Int64Counter
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithDefaultProject sets the project used by secret:// references without ?project=.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the path of the local fallback file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = path }
}

// WithSecretManagerClient injects a preconfigured Secret Manager client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is not an error:
// the fetcher then serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{logger: zap.NewNop(), fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	resolutions, err := otel.GetMeterProvider().Meter(meterName).Int64Counter(
		"secrets.resolutions",
		metric.WithDescription("Secret resolutions by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}

	f := &Fetcher{
		client:       cfg.client,
		logger:       cfg.logger,
		project:      cfg.project,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
		resolutions:  resolutions,
	}
	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager client unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref. Concurrent calls for the same resource share one
// lookup.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref, f.project)
	if err != nil {
		return "", err
	}
	if value, ok := f.cached(parsed.resource); ok {
		f.record(ctx, "cache")
		return value, nil
	}

	value, err, _ := f.inflight.Do(parsed.resource, func() (any, error) {
		if value, ok := f.cached(parsed.resource); ok {
			return value, nil
		}
		value, source, err := f.lookup(ctx, parsed)
		f.record(ctx, source)
		if err != nil {
			return "", err
		}
		f.store(parsed.resource, value)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// lookup asks Secret Manager first and drops to the fallback file when the service cannot be
// reached or refuses access. It also reports which source answered.
func (f *Fetcher) lookup(ctx context.Context, ref reference) (value, source string, err error) {
	if ref.project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, ref.resource)
		switch {
		case err == nil:
			return value, "remote", nil
		case !isFallbackError(err):
			return "", "error", fmt.Errorf("secrets: fetch %s: %w", ref.name, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("secret", ref.name), zap.Error(err))
	}
	value, ok := f.lookupFallback(ref)
	if !ok {
		return "", "error", fmt.Errorf("secrets: no value for %s", ref.name)
	}
	return value, "fallback", nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[key]
	return value, ok
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) record(ctx context.Context, source string) {
	f.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// The fallback file uses dotenv syntax keyed by secret name, e.g. `sweeper_secret=local-value`.
func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		path := strings.TrimSpace(f.fallbackPath)
		if path == "" {
			return
		}
		values, err := godotenv.Read(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: unable to read fallback file", zap.String("path", path), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	value, ok := f.fallback[ref.name]
	return value, ok
}

type reference struct {
	name     string
	project  string
	resource string
}

// parseReference accepts secret://name[?version=v&project=p] and the long form
// projects/p/secrets/name[/versions/v] behind either secret:// or sm://.
func parseReference(ref, defaultProject string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}

	path := strings.Trim(u.Host+u.Path, "/")
	var name, project, version string
	switch {
	case u.Scheme == "sm" || (u.Scheme == "secret" && strings.HasPrefix(path, "projects/")):
		parts := strings.Split(path, "/")
		if len(parts) < 4 || parts[0] != "projects" || parts[2] != "secrets" {
			return reference{}, errors.New("secrets: long references must look like projects/<p>/secrets/<name>")
		}
		project, name = parts[1], parts[3]
		if len(parts) >= 6 && parts[4] == "versions" {
			version = parts[5]
		}
	case u.Scheme == "secret":
		name = path
		project = strings.TrimSpace(u.Query().Get("project"))
		version = strings.TrimSpace(u.Query().Get("version"))
	default:
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	if name == "" {
		return reference{}, errors.New("secrets: missing secret name")
	}
	if project == "" {
		project = defaultProject
	}
	if version == "" {
		version = "latest"
	}
	return reference{
		name:     name,
		project:  project,
		resource: fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version),
	}, nil
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
