package public

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/codegen_gateway/internal/app"
	"github.com/ncecere/codegen_gateway/internal/identity"
	"github.com/ncecere/codegen_gateway/internal/requestctx"
)

const defaultSessionCookie = "__session"

// identityAuth resolves the caller when a credential is present. Missing or invalid
// credentials leave the request anonymous; each handler decides how to answer.
func identityAuth(container *app.Container) fiber.Handler {
	cookieName := defaultSessionCookie
	if container.Config != nil && container.Config.Identity.CookieName != "" {
		cookieName = container.Config.Identity.CookieName
	}
	return func(c *fiber.Ctx) error {
		token := identity.TokenFromRequest(c.Get(fiber.HeaderAuthorization), c.Cookies(cookieName))
		if token == "" || container.Identity == nil {
			return c.Next()
		}
		ctx := c.UserContext()
		id, err := container.Identity.Resolve(ctx, token)
		if err != nil {
			logger(container).Debug("identity rejected", slog.String("error", err.Error()))
			return c.Next()
		}
		c.Locals(requestctx.FiberLocalsKey(), id)
		c.SetUserContext(requestctx.WithIdentity(ctx, id))
		return c.Next()
	}
}

func logger(container *app.Container) *slog.Logger {
	if container != nil && container.Logger != nil {
		return container.Logger
	}
	return slog.Default()
}
