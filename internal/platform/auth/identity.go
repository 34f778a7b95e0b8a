package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const RoleAdmin = "admin"

// Custom claims read from Firebase ID tokens. "role" holds one role, "roles" a list, and
// "admin" is the boolean set by the operator tooling.
const (
	claimRole  = "role"
	claimRoles = "roles"
	claimAdmin = "admin"
	claimEmail = "email"
)

// Identity is a signed-in storefront customer or store operator. Roles are lower case.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	Admin    bool
	AuthTime time.Time
}

func (i *Identity) IsAdmin() bool {
	return i != nil && (i.Admin || i.HasRole(RoleAdmin))
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	return i != nil && role != "" && slices.Contains(i.Roles, role)
}

// SignedInWithin reports whether the user authenticated less than maxAge before now. Tokens
// without an auth_time never qualify.
func (i *Identity) SignedInWithin(now time.Time, maxAge time.Duration) bool {
	return i != nil && !i.AuthTime.IsZero() && now.Sub(i.AuthTime) <= maxAge
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity an auth middleware attached, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	email, _ := token.Claims[claimEmail].(string)
	admin, _ := token.Claims[claimAdmin].(bool)
	identity := &Identity{
		UID:   token.UID,
		Email: strings.ToLower(strings.TrimSpace(email)),
		Roles: slices.Concat(roleClaim(token.Claims[claimRole]), roleClaim(token.Claims[claimRoles])),
		Admin: admin,
	}
	if token.AuthTime > 0 {
		identity.AuthTime = time.Unix(token.AuthTime, 0).UTC()
	}
	return identity
}

// roleClaim accepts a single string or a JSON array of strings. Anything else yields no roles.
func roleClaim(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []string:
		values = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}
	roles := make([]string, 0, len(values))
	for _, value := range values {
		if role := normaliseRole(value); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
