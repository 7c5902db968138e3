package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// WriteText writes a plain-text error body, the format every route of this service
// uses for failures.
func WriteText(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).SendString(msg)
}
