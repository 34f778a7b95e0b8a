package observability

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/odera-store/api/internal/platform/requestctx"
)

// NewLogger builds the process logger. Output is JSON with the keys Cloud Logging reads
// (severity, timestamp, message). LOG_LEVEL picks the level and LOG_FORMAT=console switches to
// the human readable encoder for local runs.
func NewLogger() (*zap.Logger, error) {
	return loggerConfig(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).Build()
}

func loggerConfig(level, format string) zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

func parseLevel(raw string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.TrimSpace(raw))
	if err != nil || raw == "" {
		return zapcore.InfoLevel
	}
	return level
}

// WithLogger is requestctx.WithLogger for callers outside the HTTP stack.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter routes printf style client logs, such as the Kafka writer's error log, to zap
// at warn level.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Warnf(format, args...)
}

// EventLogger returns the event hook services log through. The request logger on ctx wins over
// base. Fields are written in key order.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		ce := logger.Check(eventLevel(event), event)
		if ce == nil {
			return
		}
		out := append(make([]zap.Field, 0, len(fields)+1), zap.String("event", event))
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			out = append(out, eventField(key, fields[key]))
		}
		ce.Write(out...)
	}
}

// eventLevel maps the event suffix to a level: ".failed" is an error, ".skipped" and
// ".warning" are warnings.
func eventLevel(event string) zapcore.Level {
	_, suffix, _ := cutLast(event, ".")
	switch suffix {
	case "failed":
		return zapcore.ErrorLevel
	case "skipped", "warning":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func eventField(key string, value any) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, clean(v, maxLogString))
	case error:
		return zap.NamedError(key, v)
	default:
		return zap.Any(key, v)
	}
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
