package requestctx

import (
	"context"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the Identity.
var Key contextKey = "codegen-gateway/requestctx"

// Identity is the authenticated caller resolved from the session credential.
type Identity struct {
	UserID string
	// Source names the verifier that accepted the credential ("session" or "oidc").
	Source string
}

// WithIdentity embeds the identity into the parent context.
func WithIdentity(parent context.Context, id *Identity) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, id)
}

// FromContext retrieves the identity if present.
func FromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	id, ok := ctx.Value(Key).(*Identity)
	if !ok || id == nil || id.UserID == "" {
		return nil, false
	}
	return id, true
}

// UserID returns the caller id or "" when the request is anonymous.
func UserID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.UserID
	}
	return ""
}

// FiberLocalsKey returns the key used in fiber.Locals for identity storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
