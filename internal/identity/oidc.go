package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/ncecere/codegen_gateway/internal/config"
	"github.com/ncecere/codegen_gateway/internal/requestctx"
)

const sourceOIDC = "oidc"

// OIDCVerifier accepts ID tokens issued by an external identity provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and verifies tokens against its published JWKS.
func NewOIDCVerifier(ctx context.Context, cfg config.IdentityOIDCConfig) (*OIDCVerifier, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("oidc issuer required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx = oidc.ClientContext(ctx, &http.Client{Timeout: timeout})
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(verifierConfig(cfg.Audience))}, nil
}

// NewOIDCVerifierWithKeySet skips discovery and trusts the given keys for issuer.
func NewOIDCVerifierWithKeySet(issuer, audience string, keys oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keys, verifierConfig(audience))}
}

func verifierConfig(audience string) *oidc.Config {
	audience = strings.TrimSpace(audience)
	return &oidc.Config{
		ClientID:          audience,
		SkipClientIDCheck: audience == "",
	}
}

func (v *OIDCVerifier) Resolve(ctx context.Context, raw string) (*requestctx.Identity, error) {
	if raw == "" {
		return nil, ErrNoCredential
	}
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if token.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return &requestctx.Identity{UserID: token.Subject, Source: sourceOIDC}, nil
}
