package httpserver

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/codegen_gateway/internal/app"
	"github.com/ncecere/codegen_gateway/internal/httpserver/httputil"
)

// errorHandler replaces fiber's default handler so recovered panics and other
// unhandled errors never reach the client verbatim. Client-side fiber errors keep
// their status and message.
func errorHandler(container *app.Container) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) && fiberErr.Code < fiber.StatusInternalServerError {
			return httputil.WriteText(c, fiberErr.Code, fiberErr.Message)
		}

		logger := slog.Default()
		if container != nil && container.Logger != nil {
			logger = container.Logger
		}
		requestID, _ := c.Locals("requestid").(string)
		logger.Error("[CODE_ERROR]",
			slog.String("request_id", requestID),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		return httputil.WriteText(c, fiber.StatusInternalServerError, "Internal Error")
	}
}
