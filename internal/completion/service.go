// Package completion implements the gated code-generation call: identity, provider
// credential, request body, free-tier quota and subscription checks in that order, then
// one provider call and, for free-tier callers, one quota debit.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/codegen_gateway/internal/models"
	"github.com/ncecere/codegen_gateway/internal/observability"
	"github.com/ncecere/codegen_gateway/internal/providers"
	"github.com/ncecere/codegen_gateway/internal/usage"
)

// SystemInstruction is prepended to every outbound conversation.
const SystemInstruction = "You are a code generator. You must answer only in markdown code snippets. Use code comments for explanations."

const (
	tierFree = "free"
	tierPro  = "pro"
)

// Quota is the free-tier counter.
type Quota interface {
	HasRemaining(ctx context.Context, userID string) (bool, error)
	Consume(ctx context.Context, userID string) error
}

// Subscriptions reports paid-plan status.
type Subscriptions interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// UsageRecorder persists usage for successful completions.
type UsageRecorder interface {
	Record(ctx context.Context, ev usage.Event) error
}

// Options wires the service. Provider may be nil when its credential is missing; the
// service then answers every authenticated request with a MisconfiguredError naming
// MissingCredential.
type Options struct {
	Quota             Quota
	Subscriptions     Subscriptions
	Provider          providers.ModelProvider
	ProviderName      string
	Model             string
	MissingCredential string
	Usage             UsageRecorder
	Metrics           *observability.Provider
	Logger            *slog.Logger
	Timeout           time.Duration
}

// Service runs the gate for one request at a time; it holds no per-request state.
type Service struct {
	quota         Quota
	subscriptions Subscriptions
	provider      providers.ModelProvider
	providerName  string
	model         string
	missing       string
	usage         UsageRecorder
	metrics       *observability.Provider
	logger        *slog.Logger
	timeout       time.Duration
}

func NewService(opts Options) (*Service, error) {
	if opts.Quota == nil {
		return nil, errors.New("completion: quota store required")
	}
	if opts.Subscriptions == nil {
		return nil, errors.New("completion: subscription store required")
	}
	if opts.Provider == nil && opts.MissingCredential == "" {
		return nil, errors.New("completion: provider or missing credential name required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		quota:         opts.Quota,
		subscriptions: opts.Subscriptions,
		provider:      opts.Provider,
		providerName:  providers.NameOf(opts.Provider, opts.ProviderName),
		model:         opts.Model,
		missing:       opts.MissingCredential,
		usage:         opts.Usage,
		metrics:       opts.Metrics,
		logger:        logger,
		timeout:       opts.Timeout,
	}, nil
}

// Generate runs the full gate for the caller identified by userID with the raw request
// body. On success the reply is always an assistant message.
func (s *Service) Generate(ctx context.Context, userID string, body []byte) (models.ChatMessage, error) {
	ctx, span := otel.Tracer("codegen-gateway/completion").Start(ctx, "completion.generate")
	defer span.End()

	reply, tier, err := s.generate(ctx, userID, body)
	s.metrics.RecordCompletion(outcome(err), tier)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ChatMessage{}, err
	}
	span.SetAttributes(attribute.String("codegen.tier", tier))
	span.SetStatus(codes.Ok, "OK")
	return reply, nil
}

func (s *Service) generate(ctx context.Context, userID string, body []byte) (models.ChatMessage, string, error) {
	if userID == "" {
		return models.ChatMessage{}, "", ErrUnauthorized
	}
	if s.provider == nil {
		return models.ChatMessage{}, "", &MisconfiguredError{Credential: s.missing}
	}

	messages, err := DecodeMessages(body)
	if err != nil {
		return models.ChatMessage{}, "", err
	}

	freeTrial, err := s.quota.HasRemaining(ctx, userID)
	if err != nil {
		return models.ChatMessage{}, "", fmt.Errorf("check quota: %w", err)
	}
	isPro, err := s.subscriptions.IsActive(ctx, userID)
	if err != nil {
		return models.ChatMessage{}, "", fmt.Errorf("check subscription: %w", err)
	}
	tier := tierFree
	if isPro {
		tier = tierPro
	}
	if !freeTrial && !isPro {
		return models.ChatMessage{}, tier, ErrQuotaExceeded
	}

	result, err := s.complete(ctx, messages)
	if err != nil {
		return models.ChatMessage{}, tier, err
	}

	if !isPro {
		if err := s.quota.Consume(ctx, userID); err != nil {
			return models.ChatMessage{}, tier, fmt.Errorf("consume quota: %w", err)
		}
	}

	s.recordUsage(ctx, userID, isPro, result)
	return models.ChatMessage{Role: models.RoleAssistant, Content: result.Message.Content}, tier, nil
}

// Outbound returns the conversation sent upstream: the instruction followed by the
// client's turns in order.
func Outbound(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages)+1)
	out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: SystemInstruction})
	return append(out, messages...)
}

func (s *Service) complete(ctx context.Context, messages []models.ChatMessage) (models.Completion, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := s.provider.Complete(ctx, Outbound(messages))
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderLatency(s.model, s.providerName, status, time.Since(start))
	if err != nil {
		return models.Completion{}, fmt.Errorf("%s completion: %w", s.providerName, err)
	}
	return result, nil
}

func (s *Service) recordUsage(ctx context.Context, userID string, pro bool, result models.Completion) {
	model := result.Model
	if model == "" {
		model = s.model
	}
	s.metrics.RecordTokens(model, s.providerName, int64(result.Usage.PromptTokens), int64(result.Usage.CompletionTokens))
	if s.usage == nil {
		return
	}
	err := s.usage.Record(ctx, usage.Event{
		UserID:   userID,
		Provider: s.providerName,
		Model:    model,
		Usage:    result.Usage,
		Pro:      pro,
	})
	if err != nil {
		s.logger.Warn("usage record failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMisconfigured):
		return "misconfigured"
	case errors.Is(err, ErrMessagesRequired):
		return "bad_request"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}
