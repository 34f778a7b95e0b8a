package config

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func defaultOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile reads a dotenv file at path. An empty path disables it and a missing file is
// ignored.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap overrides every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets fails Load when any named secret field ends up blank. Names are the
// field paths used by the loader, e.g. "Sweeper.Secret".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets turns a MissingSecretsError into a panic.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment Load would read, so callers can build
// dependencies such as the secret fetcher first. The dotenv file has the lowest precedence,
// then the process environment, then WithEnvMap.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	o := defaultOptions(opts)
	return o.environment()
}

func (o loaderOptions) environment() (env, error) {
	values := env{}
	if o.envFile != "" {
		path, err := filepath.Abs(o.envFile)
		if err != nil {
			path = o.envFile
		}
		dotenv, err := godotenv.Read(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
		default:
			maps.Copy(values, dotenv)
		}
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	maps.Copy(values, o.envMap)
	return values, nil
}

// env reads typed settings. Blank and unparsable values fall back to the default.
type env map[string]string

func (e env) str(key, def string) string {
	if v := e[key]; v != "" {
		return v
	}
	return def
}

func (e env) lower(key, def string) string {
	return strings.ToLower(e.str(key, def))
}

func (e env) duration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(e[key])); err == nil {
		return d
	}
	return def
}

func (e env) integer(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(e[key])); err == nil {
		return n
	}
	return def
}

func (e env) boolean(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(e[key])) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

// cents reads an amount written in soles, such as "12.5", as céntimos.
func (e env) cents(key string, def float64) int64 {
	amount := def
	if v, err := strconv.ParseFloat(strings.TrimSpace(e[key]), 64); err == nil {
		amount = v
	}
	return int64(math.Round(amount * 100))
}

// list reads a comma separated value, dropping blanks.
func (e env) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(e[key], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs reads "name=value,name=value" with lower-cased names. Malformed entries are skipped.
func (e env) pairs(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range e.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}
