// Package identity resolves the caller's user id from the session credential.
//
// A request without a credential, or with one that fails verification, is anonymous.
// The completion route treats both the same way.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ncecere/codegen_gateway/internal/config"
	"github.com/ncecere/codegen_gateway/internal/requestctx"
)

var (
	ErrNoCredential      = errors.New("identity: no credential")
	ErrInvalidCredential = errors.New("identity: invalid credential")
)

// Resolver turns a raw bearer or cookie token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*requestctx.Identity, error)
}

// New builds the resolver selected by cfg.Mode.
func New(ctx context.Context, cfg config.IdentityConfig) (Resolver, error) {
	switch cfg.Mode {
	case "", config.IdentityModeSession:
		return NewSessionVerifier(cfg.JWTSecret, cfg.Issuer)
	case config.IdentityModeOIDC:
		return NewOIDCVerifier(ctx, cfg.OIDC)
	default:
		return nil, fmt.Errorf("unsupported identity mode %q", cfg.Mode)
	}
}

// TokenFromRequest prefers the Authorization bearer token and falls back to the
// session cookie value.
func TokenFromRequest(authorization, cookie string) string {
	header := strings.TrimSpace(authorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(cookie)
}
