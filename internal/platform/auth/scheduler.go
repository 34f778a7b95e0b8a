package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronSecretHeader carries the sweeper secret for schedulers that cannot set Authorization.
const CronSecretHeader = "X-Cron-Secret"

// RequireSchedulerAuth admits a request carrying the shared sweeper secret, either as a bearer
// token or in X-Cron-Secret. When validator is set, a Google OIDC token is accepted as well.
// With neither a secret nor a validator configured, every request is rejected.
func RequireSchedulerAuth(secret string, validator *OIDCValidator) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			bearer, hasBearer := extractBearerToken(r.Header.Get("Authorization"))

			if secret != "" {
				if hasBearer && secretMatches(bearer, secret) {
					next.ServeHTTP(w, r)
					return
				}
				if header := strings.TrimSpace(r.Header.Get(CronSecretHeader)); header != "" && secretMatches(header, secret) {
					next.ServeHTTP(w, r)
					return
				}
			}

			if validator != nil && hasBearer && strings.Count(bearer, ".") == 2 {
				identity, err := validator.Verify(ctx, bearer)
				if err != nil {
					validator.respondFailure(ctx, w, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
				return
			}

			respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "scheduler credentials missing or invalid")
		})
	}
}

func secretMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
