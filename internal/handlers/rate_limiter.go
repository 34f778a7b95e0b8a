package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/odera-store/api/internal/platform/httpx"
	"github.com/odera-store/api/internal/platform/ratelimit"
	"github.com/odera-store/api/internal/platform/requestctx"
)

// RateLimitMiddleware throttles requests per client IP. A nil limiter disables throttling; limiter
// failures let the request through so a Redis outage never blocks checkout.
func RateLimitMiddleware(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := limiter.Allow(ctx, clientIP(r))
			if err != nil {
				requestctx.Logger(ctx).Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).
					WithRetryAfter(decision.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
