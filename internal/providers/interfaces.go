package providers

import (
	"context"

	"github.com/ncecere/codegen_gateway/internal/models"
)

// ModelProvider sends one ordered conversation upstream and returns the single reply.
type ModelProvider interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (models.Completion, error)
}

// Named is implemented by providers that report a stable name for metrics and usage rows.
type Named interface {
	Name() string
}
