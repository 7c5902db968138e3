package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"

	"github.com/ncecere/codegen_gateway/internal/models"
)

const defaultAzureAPIVersion = "2024-07-01-preview"

// Options configure the OpenAI adapter. Setting AzureEndpoint switches the client to
// an Azure OpenAI deployment.
type Options struct {
	APIKey          string
	BaseURL         string
	Organization    string
	Model           string
	AzureEndpoint   string
	AzureAPIVersion string
	Extra           []option.RequestOption
}

// Adapter wraps the official OpenAI SDK for native, compatible and Azure deployments.
type Adapter struct {
	client *openai.Client
	model  string
	name   string
}

// New creates an OpenAI adapter using the provided API key and optional base URL/organization.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model required")
	}

	var requestOpts []option.RequestOption
	name := "openai"
	if endpoint := strings.TrimSpace(opts.AzureEndpoint); endpoint != "" {
		version := strings.TrimSpace(opts.AzureAPIVersion)
		if version == "" {
			version = defaultAzureAPIVersion
		}
		requestOpts = append(requestOpts,
			azure.WithEndpoint(strings.TrimSuffix(endpoint, "/"), version),
			azure.WithAPIKey(opts.APIKey),
		)
		name = "azure_openai"
	} else {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
		if strings.TrimSpace(opts.BaseURL) != "" {
			requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
		}
		if strings.TrimSpace(opts.Organization) != "" {
			requestOpts = append(requestOpts, option.WithOrganization(strings.TrimSpace(opts.Organization)))
		}
	}
	// One upstream attempt per request; the client retries twice by default.
	requestOpts = append(requestOpts, option.WithMaxRetries(0))
	requestOpts = append(requestOpts, opts.Extra...)

	client := openai.NewClient(requestOpts...)
	return &Adapter{client: &client, model: opts.Model, name: name}, nil
}

// Name identifies the adapter in metrics and usage rows.
func (a *Adapter) Name() string {
	return a.name
}

// Complete performs a single non-streaming chat completion and returns the first choice.
func (a *Adapter) Complete(ctx context.Context, messages []models.ChatMessage) (models.Completion, error) {
	params := buildChatParams(a.model, messages)
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.Completion{}, err
	}
	return convertCompletion(*resp)
}

func buildChatParams(model string, msgs []models.ChatMessage) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch strings.ToLower(msg.Role) {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessageParamOfAssistant(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
}

func convertCompletion(resp openai.ChatCompletion) (models.Completion, error) {
	if len(resp.Choices) == 0 {
		return models.Completion{}, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	role := string(choice.Message.Role)
	if role == "" {
		role = models.RoleAssistant
	}
	return models.Completion{
		Message: models.ChatMessage{
			Role:    role,
			Content: choice.Message.Content,
		},
		Model: resp.Model,
		Usage: models.Usage{
			PromptTokens:     int32(resp.Usage.PromptTokens),
			CompletionTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:      int32(resp.Usage.TotalTokens),
		},
	}, nil
}
