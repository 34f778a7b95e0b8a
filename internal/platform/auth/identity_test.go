package auth

import (
	"context"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromToken(t *testing.T) {
	signedIn := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	identity := identityFromToken(&firebaseauth.Token{
		UID:      "user-1",
		AuthTime: signedIn.Unix(),
		Claims: map[string]any{
			"email": " Ana@Odera.PE ",
			"role":  "Support",
			"roles": []any{"ADMIN", 7, " "},
		},
	})

	require.Equal(t, "user-1", identity.UID)
	require.Equal(t, "ana@odera.pe", identity.Email)
	require.Equal(t, []string{"support", "admin"}, identity.Roles)
	require.True(t, identity.IsAdmin())
	require.True(t, identity.HasRole(" Support"))
	require.Equal(t, signedIn, identity.AuthTime)
}

func TestIdentityAdminClaim(t *testing.T) {
	identity := identityFromToken(&firebaseauth.Token{UID: "ops", Claims: map[string]any{"admin": true}})
	require.True(t, identity.IsAdmin())
	require.Empty(t, identity.Roles)

	identity = identityFromToken(&firebaseauth.Token{UID: "guest", Claims: map[string]any{"admin": "yes"}})
	require.False(t, identity.IsAdmin())

	var missing *Identity
	require.False(t, missing.IsAdmin())
	require.False(t, missing.HasRole(RoleAdmin))
}

func TestSignedInWithin(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	identity := &Identity{AuthTime: now.Add(-8 * time.Hour)}
	require.True(t, identity.SignedInWithin(now, 8*time.Hour))
	require.False(t, identity.SignedInWithin(now, 7*time.Hour))
	require.False(t, (&Identity{}).SignedInWithin(now, time.Hour))
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	require.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{UID: "user-1"})
	identity, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "user-1", identity.UID)
}
