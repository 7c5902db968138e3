package public

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/codegen_gateway/internal/app"
	"github.com/ncecere/codegen_gateway/internal/httpserver/httputil"
	"github.com/ncecere/codegen_gateway/internal/subscription"
)

const stripeSignatureHeader = "Stripe-Signature"

func webhookHandler(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if container.Webhooks == nil {
			return httputil.WriteText(c, fiber.StatusInternalServerError, msgInternal)
		}
		err := container.Webhooks.HandleWebhook(c.UserContext(), c.Body(), c.Get(stripeSignatureHeader))
		if err != nil {
			var whErr *subscription.WebhookError
			if errors.As(err, &whErr) {
				return httputil.WriteText(c, fiber.StatusBadRequest, whErr.Msg)
			}
			logger(container).Error("stripe webhook failed", slog.String("error", err.Error()))
			return httputil.WriteText(c, fiber.StatusInternalServerError, msgInternal)
		}
		return c.SendStatus(fiber.StatusOK)
	}
}
