package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/odera-store/api/internal/platform/httpx"
	"github.com/odera-store/api/internal/platform/requestctx"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultMaxAuthAge    = 8 * time.Hour
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase bearer tokens into request identities.
type Authenticator struct {
	verifier   TokenVerifier
	maxAuthAge time.Duration
	now        func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithMaxAuthAge bounds how long after sign-in an admin token is accepted.
func WithMaxAuthAge(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.maxAuthAge = d
		}
	}
}

// WithClock overrides the time source used for the auth age check.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator. A nil verifier rejects every protected request.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:   verifier,
		maxAuthAge: defaultMaxAuthAge,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// OptionalFirebaseAuth attaches an identity when a valid bearer token is present. Guests and
// callers with unusable tokens continue anonymously so checkout never depends on sign-in state.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok || a == nil || a.verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			token, err := a.verifier.VerifyIDToken(r.Context(), tokenStr)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), identityFromToken(token))))
		})
	}
}

// RequireAdmin rejects callers without a fresh admin token.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
			if err != nil {
				respondVerificationError(ctx, w, err)
				return
			}
			identity := identityFromToken(token)
			if !identity.IsAdmin() {
				respondAuthError(ctx, w, http.StatusForbidden, "forbidden", "admin role required")
				return
			}
			if !identity.SignedInWithin(a.now(), a.maxAuthAge) {
				respondAuthError(ctx, w, http.StatusUnauthorized, "session_expired", "sign in again to continue")
				return
			}

			next.ServeHTTP(w, r.WithContext(withCaller(ctx, identity)))
		})
	}
}

// withCaller stores identity and tags the request logger with the caller's uid.
func withCaller(ctx context.Context, identity *Identity) context.Context {
	fields := []zap.Field{zap.String("user_id", identity.UID)}
	if identity.IsAdmin() {
		fields = append(fields, zap.Bool("admin", true))
	}
	ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(fields...))
	return WithIdentity(ctx, identity)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		respondAuthError(ctx, w, http.StatusUnauthorized, "session_revoked", "sign in again to continue")
	case firebaseauth.IsIDTokenInvalid(err), errors.Is(err, context.DeadlineExceeded):
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
