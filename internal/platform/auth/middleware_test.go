package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

var authNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

func adminToken(authAge time.Duration, claims map[string]interface{}) *firebaseauth.Token {
	return &firebaseauth.Token{
		UID:      "admin-1",
		AuthTime: authNow.Add(-authAge).Unix(),
		Claims:   claims,
	}
}

func serveAdmin(t *testing.T, verifier TokenVerifier, header string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	authn := NewAuthenticator(verifier, WithClock(func() time.Time { return authNow }))

	var seen *Identity
	handler := authn.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireAdmin_AllowsAdminClaim(t *testing.T) {
	verifier := &stubTokenVerifier{token: adminToken(time.Hour, map[string]interface{}{
		"admin": true,
		"email": "Ops@Odera.pe",
	})}

	rr, identity := serveAdmin(t, verifier, "Bearer token-value")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
	if identity.UID != "admin-1" || identity.Email != "ops@odera.pe" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !identity.AuthTime.Equal(authNow.Add(-time.Hour)) {
		t.Fatalf("unexpected auth time %s", identity.AuthTime)
	}
}

func TestRequireAdmin_AllowsRolesClaim(t *testing.T) {
	verifier := &stubTokenVerifier{token: adminToken(time.Minute, map[string]interface{}{
		"roles": []interface{}{"staff", "Admin"},
	})}

	rr, identity := serveAdmin(t, verifier, "bearer abc")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !identity.HasRole(RoleAdmin) {
		t.Fatalf("expected admin role, got %v", identity.Roles)
	}
}

func TestRequireAdmin_RejectsNonAdmin(t *testing.T) {
	verifier := &stubTokenVerifier{token: adminToken(time.Minute, map[string]interface{}{"role": "customer"})}

	rr, _ := serveAdmin(t, verifier, "Bearer abc")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", code)
	}
}

func TestRequireAdmin_RejectsStaleSession(t *testing.T) {
	verifier := &stubTokenVerifier{token: adminToken(9*time.Hour, map[string]interface{}{"admin": true})}

	rr, _ := serveAdmin(t, verifier, "Bearer abc")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "session_expired" {
		t.Fatalf("expected session_expired, got %s", code)
	}
}

func TestRequireAdmin_RejectsMissingOrInvalidToken(t *testing.T) {
	rr, _ := serveAdmin(t, &stubTokenVerifier{}, "")
	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "unauthenticated" {
		t.Fatalf("expected unauthenticated 401, got %d %s", rr.Code, rr.Body.String())
	}

	rr, _ = serveAdmin(t, &stubTokenVerifier{err: errors.New("bad signature")}, "Bearer broken")
	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "invalid_token" {
		t.Fatalf("expected invalid_token 401, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestOptionalFirebaseAuth_GuestAndUser(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "cust-9", Claims: map[string]interface{}{}}}
	authn := NewAuthenticator(verifier)

	var uid string
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid = ""
		if identity, ok := IdentityFromContext(r.Context()); ok {
			uid = identity.UID
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if uid != "" {
		t.Fatalf("expected guest request, got uid %s", uid)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer customer")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if uid != "cust-9" {
		t.Fatalf("expected cust-9, got %q", uid)
	}

	verifier.err = errors.New("expired")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || uid != "" {
		t.Fatalf("expected invalid token to continue as guest, got %d uid %q", rr.Code, uid)
	}
}
