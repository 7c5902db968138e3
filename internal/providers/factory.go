package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ncecere/codegen_gateway/internal/adapters/gemini"
	native "github.com/ncecere/codegen_gateway/internal/adapters/openai"
	"github.com/ncecere/codegen_gateway/internal/config"
)

// ErrNotConfigured is returned when the selected provider has no credential.
var ErrNotConfigured = errors.New("provider credential not configured")

// Builder constructs a ModelProvider for one provider kind.
type Builder func(ctx context.Context, cfg config.ProviderConfig) (ModelProvider, error)

// Factory builds the configured provider using a registry of builders.
type Factory struct {
	builders map[string]Builder
}

// NewFactory creates a factory with the default provider registry.
func NewFactory() *Factory {
	return &Factory{builders: map[string]Builder{
		config.ProviderOpenAI:      buildOpenAI,
		config.ProviderAzureOpenAI: buildAzureOpenAI,
		config.ProviderGemini:      buildGemini,
	}}
}

// Register allows tests or callers to override provider builders.
func (f *Factory) Register(kind string, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[string]Builder)
	}
	f.builders[kind] = builder
}

// Build instantiates the provider selected by cfg.Kind. It returns ErrNotConfigured,
// wrapped with the credential name, when the credential is missing.
func (f *Factory) Build(ctx context.Context, cfg config.ProviderConfig) (ModelProvider, error) {
	builder, ok := f.builders[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("provider %q unsupported", cfg.Kind)
	}
	if !cfg.Configured() {
		return nil, fmt.Errorf("%s: %w", cfg.CredentialName(), ErrNotConfigured)
	}
	provider, err := builder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", cfg.Kind, err)
	}
	return provider, nil
}

func buildOpenAI(_ context.Context, cfg config.ProviderConfig) (ModelProvider, error) {
	return native.New(native.Options{
		APIKey:       cfg.OpenAIKey,
		BaseURL:      strings.TrimSpace(cfg.OpenAIBaseURL),
		Organization: strings.TrimSpace(cfg.OpenAIOrganization),
		Model:        cfg.Model,
	})
}

func buildAzureOpenAI(_ context.Context, cfg config.ProviderConfig) (ModelProvider, error) {
	return native.New(native.Options{
		APIKey:          cfg.AzureKey,
		Model:           cfg.Model,
		AzureEndpoint:   cfg.AzureEndpoint,
		AzureAPIVersion: cfg.AzureAPIVersion,
	})
}

func buildGemini(ctx context.Context, cfg config.ProviderConfig) (ModelProvider, error) {
	opts := gemini.Options{
		APIKey:  cfg.GeminiKey,
		Model:   cfg.Model,
		BaseURL: strings.TrimSpace(cfg.GeminiBaseURL),
	}
	if cfg.UsesVertex() {
		opts.ProjectID = strings.TrimSpace(cfg.GCPProjectID)
		opts.Location = strings.TrimSpace(cfg.GCPLocation)
		opts.CredentialsJSON = []byte(cfg.GCPJSONCredentials)
	}
	return gemini.New(ctx, opts)
}

// NameOf returns the provider's reported name, or fallback.
func NameOf(p ModelProvider, fallback string) string {
	if named, ok := p.(Named); ok {
		return named.Name()
	}
	return fallback
}
