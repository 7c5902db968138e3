package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ncecere/codegen_gateway/internal/models"
)

const (
	defaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// Options configure the Gemini adapter. With ProjectID set the adapter targets Vertex AI
// using service-account credentials; otherwise it calls the Generative Language API
// with an API key.
type Options struct {
	APIKey          string
	Model           string
	BaseURL         string
	ProjectID       string
	Location        string
	CredentialsJSON []byte
	HTTPClient      *http.Client
}

// Adapter implements single-shot chat via generateContent.
type Adapter struct {
	client  *http.Client
	model   string
	chatURL string
	apiKey  string
	name    string
}

// New creates a Gemini adapter.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("gemini: model required")
	}
	if strings.TrimSpace(opts.ProjectID) != "" {
		return newVertex(ctx, opts)
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini: api key required")
	}

	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{
		client:  httpClient,
		model:   opts.Model,
		chatURL: fmt.Sprintf("%s/models/%s:generateContent", base, url.PathEscape(opts.Model)),
		apiKey:  opts.APIKey,
		name:    "gemini",
	}, nil
}

func newVertex(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Location == "" {
		return nil, errors.New("gemini: vertex location required")
	}

	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", opts.Location)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		if len(opts.CredentialsJSON) == 0 {
			return nil, errors.New("gemini: vertex credentials json required")
		}
		creds, err := google.CredentialsFromJSON(ctx, opts.CredentialsJSON, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("gemini: load credentials: %w", err)
		}
		httpClient = oauth2.NewClient(ctx, creds.TokenSource)
	}

	return &Adapter{
		client: httpClient,
		model:  opts.Model,
		chatURL: fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
			base, opts.ProjectID, opts.Location, url.PathEscape(opts.Model)),
		name: "vertex",
	}, nil
}

// Name identifies the adapter in metrics and usage rows.
func (a *Adapter) Name() string {
	return a.name
}

// Complete sends the conversation as chat history and wraps the reply as an assistant message.
func (a *Adapter) Complete(ctx context.Context, messages []models.ChatMessage) (models.Completion, error) {
	payload, err := buildGenerateRequest(messages)
	if err != nil {
		return models.Completion{}, err
	}
	var resp generateResponse
	if err := a.postJSON(ctx, payload, &resp); err != nil {
		return models.Completion{}, err
	}
	return convertResponse(resp, a.model)
}

func (a *Adapter) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.chatURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("x-goog-api-key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gemini decode response: %w", err)
	}
	return nil
}
