package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/codegen_gateway/internal/config"
)

func TestTokenFromRequest(t *testing.T) {
	cases := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "bearer case insensitive", header: "bearer abc", cookie: "ignored", want: "abc"},
		{name: "cookie fallback", cookie: "cookie-token", want: "cookie-token"},
		{name: "non bearer header", header: "Basic Zm9vOmJhcg==", cookie: "c", want: "c"},
		{name: "empty bearer", header: "Bearer   ", want: ""},
		{name: "nothing", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, TokenFromRequest(tc.header, tc.cookie))
		})
	}
}

func TestSessionVerifierRoundTrip(t *testing.T) {
	v, err := NewSessionVerifier("secret", "codegen")
	require.NoError(t, err)

	token, err := v.Issue("user_1", time.Hour)
	require.NoError(t, err)

	id, err := v.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user_1", id.UserID)
	require.Equal(t, "session", id.Source)
}

func TestSessionVerifierRejects(t *testing.T) {
	v, err := NewSessionVerifier("secret", "codegen")
	require.NoError(t, err)

	_, err = v.Resolve(context.Background(), "")
	require.True(t, errors.Is(err, ErrNoCredential))

	other, err := NewSessionVerifier("other-secret", "codegen")
	require.NoError(t, err)
	forged, err := other.Issue("user_1", time.Hour)
	require.NoError(t, err)
	_, err = v.Resolve(context.Background(), forged)
	require.True(t, errors.Is(err, ErrInvalidCredential))

	wrongIssuer, err := NewSessionVerifier("secret", "someone-else")
	require.NoError(t, err)
	token, err := wrongIssuer.Issue("user_1", time.Hour)
	require.NoError(t, err)
	_, err = v.Resolve(context.Background(), token)
	require.True(t, errors.Is(err, ErrInvalidCredential))

	issued := time.Now().Add(-2 * time.Hour)
	v.now = func() time.Time { return issued }
	expired, err := v.Issue("user_1", time.Minute)
	require.NoError(t, err)
	v.now = time.Now
	_, err = v.Resolve(context.Background(), expired)
	require.True(t, errors.Is(err, ErrInvalidCredential))
}

func TestSessionVerifierRequiresSubject(t *testing.T) {
	v, err := NewSessionVerifier("secret", "")
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Resolve(context.Background(), signed)
	require.True(t, errors.Is(err, ErrInvalidCredential))
}

func TestNewSelectsMode(t *testing.T) {
	r, err := New(context.Background(), config.IdentityConfig{Mode: config.IdentityModeSession, JWTSecret: "s"})
	require.NoError(t, err)
	require.IsType(t, &SessionVerifier{}, r)

	_, err = New(context.Background(), config.IdentityConfig{Mode: config.IdentityModeSession})
	require.Error(t, err)

	_, err = New(context.Background(), config.IdentityConfig{Mode: "saml"})
	require.Error(t, err)
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	issuer := "https://issuer.example.com"
	v := NewOIDCVerifierWithKeySet(issuer, "codegen", keys)

	now := time.Now()
	valid := signRS256(t, key, jwt.MapClaims{
		"iss": issuer,
		"sub": "user_42",
		"aud": "codegen",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	id, err := v.Resolve(context.Background(), valid)
	require.NoError(t, err)
	require.Equal(t, "user_42", id.UserID)
	require.Equal(t, "oidc", id.Source)

	wrongAudience := signRS256(t, key, jwt.MapClaims{
		"iss": issuer,
		"sub": "user_42",
		"aud": "another-client",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	_, err = v.Resolve(context.Background(), wrongAudience)
	require.True(t, errors.Is(err, ErrInvalidCredential))

	anyAudience := NewOIDCVerifierWithKeySet(issuer, "", keys)
	id, err = anyAudience.Resolve(context.Background(), wrongAudience)
	require.NoError(t, err)
	require.Equal(t, "user_42", id.UserID)
}
