package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/codegen_gateway/internal/app"
)

// Register wires up the code generation API routes.
func Register(router fiber.Router, container *app.Container) {
	group := router.Group("/api")
	auth := identityAuth(container)
	handler := &codeHandler{container: container}

	group.Post("/code", auth, handler.generate)
	group.Get("/usage", auth, handler.usage)
	group.Post("/webhook", webhookHandler(container))
}
