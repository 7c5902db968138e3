package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ncecere/codegen_gateway/internal/requestctx"
)

const sourceSession = "session"

// SessionVerifier accepts HS256 session tokens signed with a shared secret.
type SessionVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewSessionVerifier(secret, issuer string) (*SessionVerifier, error) {
	if secret == "" {
		return nil, errors.New("session secret required")
	}
	return &SessionVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}, nil
}

// Issue signs a session token for subject. Used by tooling and tests; the gateway
// itself only verifies.
func (v *SessionVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be > 0")
	}
	now := v.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (v *SessionVerifier) Resolve(_ context.Context, raw string) (*requestctx.Identity, error) {
	if raw == "" {
		return nil, ErrNoCredential
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return &requestctx.Identity{UserID: subject, Source: sourceSession}, nil
}
