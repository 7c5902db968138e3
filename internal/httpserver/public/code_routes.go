package public

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/codegen_gateway/internal/app"
	"github.com/ncecere/codegen_gateway/internal/completion"
	"github.com/ncecere/codegen_gateway/internal/httpserver/httputil"
	"github.com/ncecere/codegen_gateway/internal/requestctx"
)

const (
	msgUnauthorized     = "Unauthorized"
	msgMessagesRequired = "Messages are required"
	msgQuotaExceeded    = "Free trial has expired. Please upgrade to pro."
	msgInternal         = "Internal Error"
)

type codeHandler struct {
	container *app.Container
}

type usageResponse struct {
	Count     int  `json:"count"`
	Max       int  `json:"max"`
	Remaining int  `json:"remaining"`
	IsPro     bool `json:"isPro"`
}

func (h *codeHandler) generate(c *fiber.Ctx) error {
	ctx := c.UserContext()
	reply, err := h.container.Completion.Generate(ctx, requestctx.UserID(ctx), c.Body())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(reply)
}

func (h *codeHandler) writeError(c *fiber.Ctx, err error) error {
	var misconfigured *completion.MisconfiguredError
	switch {
	case errors.Is(err, completion.ErrUnauthorized):
		return httputil.WriteText(c, fiber.StatusUnauthorized, msgUnauthorized)
	case errors.As(err, &misconfigured):
		return httputil.WriteText(c, fiber.StatusInternalServerError, misconfigured.Error())
	case errors.Is(err, completion.ErrMessagesRequired):
		return httputil.WriteText(c, fiber.StatusBadRequest, msgMessagesRequired)
	case errors.Is(err, completion.ErrQuotaExceeded):
		return httputil.WriteText(c, fiber.StatusForbidden, msgQuotaExceeded)
	default:
		logger(h.container).Error("[CODE_ERROR]",
			slog.String("request_id", requestID(c)),
			slog.String("error", err.Error()),
		)
		return httputil.WriteText(c, fiber.StatusInternalServerError, msgInternal)
	}
}

func (h *codeHandler) usage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := requestctx.UserID(ctx)
	if userID == "" {
		return httputil.WriteText(c, fiber.StatusUnauthorized, msgUnauthorized)
	}
	count, err := h.container.Quota.Count(ctx, userID)
	if err != nil {
		logger(h.container).Error("usage lookup failed", slog.String("error", err.Error()))
		return httputil.WriteText(c, fiber.StatusInternalServerError, msgInternal)
	}
	isPro, err := h.container.Subscriptions.IsActive(ctx, userID)
	if err != nil {
		logger(h.container).Error("usage lookup failed", slog.String("error", err.Error()))
		return httputil.WriteText(c, fiber.StatusInternalServerError, msgInternal)
	}
	limit := h.container.Quota.Max()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return c.JSON(usageResponse{Count: count, Max: limit, Remaining: remaining, IsPro: isPro})
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
