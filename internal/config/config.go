package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Provider kinds understood by the provider factory.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure_openai"
	ProviderGemini      = "gemini"
)

// Quota backends.
const (
	QuotaBackendPostgres = "postgres"
	QuotaBackendRedis    = "redis"
)

// Identity modes.
const (
	IdentityModeSession = "session"
	IdentityModeOIDC    = "oidc"
)

// Config captures the runtime configuration for the code generation gateway.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	Subscription  SubscriptionConfig  `mapstructure:"subscription"`
	Stripe        StripeConfig        `mapstructure:"stripe"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	ProviderTimeout       time.Duration `mapstructure:"provider_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type IdentityConfig struct {
	Mode       string             `mapstructure:"mode"`
	JWTSecret  string             `mapstructure:"jwt_secret"`
	Issuer     string             `mapstructure:"issuer"`
	CookieName string             `mapstructure:"cookie_name"`
	OIDC       IdentityOIDCConfig `mapstructure:"oidc"`
}

type IdentityOIDCConfig struct {
	Issuer      string        `mapstructure:"issuer"`
	Audience    string        `mapstructure:"audience"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// ProviderConfig selects the upstream model provider. Credentials may be empty at
// startup; the completion route reports the missing credential per request.
type ProviderConfig struct {
	Kind               string  `mapstructure:"kind"`
	Model              string  `mapstructure:"model"`
	OpenAIKey          string  `mapstructure:"openai_key"`
	OpenAIOrganization string  `mapstructure:"openai_organization"`
	OpenAIBaseURL      string  `mapstructure:"openai_base_url"`
	AzureKey           string  `mapstructure:"azure_key"`
	AzureEndpoint      string  `mapstructure:"azure_endpoint"`
	AzureAPIVersion    string  `mapstructure:"azure_api_version"`
	GeminiKey          string  `mapstructure:"gemini_key"`
	GeminiBaseURL      string  `mapstructure:"gemini_base_url"`
	GCPProjectID       string  `mapstructure:"gcp_project_id"`
	GCPLocation        string  `mapstructure:"gcp_location"`
	GCPJSONCredentials string  `mapstructure:"gcp_json_credentials"`
	PriceInputPer1K    float64 `mapstructure:"price_input_per_1k"`
	PriceOutputPer1K   float64 `mapstructure:"price_output_per_1k"`
}

// CredentialName is the human readable name of the credential the selected provider needs.
func (p ProviderConfig) CredentialName() string {
	switch p.Kind {
	case ProviderAzureOpenAI:
		return "Azure OpenAI API Key"
	case ProviderGemini:
		if p.UsesVertex() {
			return "GCP Service Account Credentials"
		}
		return "Gemini API Key"
	default:
		return "OpenAI API Key"
	}
}

// Credential returns the secret for the selected provider, if any.
func (p ProviderConfig) Credential() string {
	switch p.Kind {
	case ProviderAzureOpenAI:
		return strings.TrimSpace(p.AzureKey)
	case ProviderGemini:
		if p.UsesVertex() {
			return strings.TrimSpace(p.GCPJSONCredentials)
		}
		return strings.TrimSpace(p.GeminiKey)
	default:
		return strings.TrimSpace(p.OpenAIKey)
	}
}

// Configured reports whether the selected provider has its credential.
func (p ProviderConfig) Configured() bool {
	return p.Credential() != ""
}

// UsesVertex reports whether the Gemini variant targets Vertex AI with service-account auth.
func (p ProviderConfig) UsesVertex() bool {
	return p.Kind == ProviderGemini && strings.TrimSpace(p.GCPProjectID) != ""
}

type QuotaConfig struct {
	Backend       string `mapstructure:"backend"`
	MaxFreeCounts int    `mapstructure:"max_free_counts"`
}

type SubscriptionConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("CODEGEN_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("codegen")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CODEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindProviderEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindProviderEnv lets the conventional vendor variables stand in for the prefixed ones.
func bindProviderEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"provider.openai_key":   {"CODEGEN_PROVIDER_OPENAI_KEY", "OPENAI_API_KEY"},
		"provider.azure_key":    {"CODEGEN_PROVIDER_AZURE_KEY", "AZURE_OPENAI_API_KEY"},
		"provider.gemini_key":   {"CODEGEN_PROVIDER_GEMINI_KEY", "GEMINI_API_KEY"},
		"stripe.api_key":        {"CODEGEN_STRIPE_API_KEY", "STRIPE_API_KEY"},
		"stripe.webhook_secret": {"CODEGEN_STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate ensures required values are set. A missing provider credential is not an
// error here; the completion route reports it per request.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "CODEGEN_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "CODEGEN_REDIS_URL")
	}
	c.Identity.Mode = strings.ToLower(strings.TrimSpace(c.Identity.Mode))
	switch c.Identity.Mode {
	case IdentityModeSession:
		if c.Identity.JWTSecret == "" {
			missing = append(missing, "CODEGEN_IDENTITY_JWT_SECRET")
		}
	case IdentityModeOIDC:
		if c.Identity.OIDC.Issuer == "" {
			missing = append(missing, "CODEGEN_IDENTITY_OIDC_ISSUER")
		}
	default:
		return fmt.Errorf("identity.mode must be %s or %s", IdentityModeSession, IdentityModeOIDC)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if err := c.Provider.validate(); err != nil {
		return err
	}
	if err := c.Quota.validate(); err != nil {
		return err
	}
	if c.Subscription.GracePeriod < 0 {
		return fmt.Errorf("subscription.grace_period must be >= 0")
	}
	if c.Subscription.CacheTTL < 0 {
		return fmt.Errorf("subscription.cache_ttl must be >= 0")
	}
	if c.Server.ProviderTimeout <= 0 {
		return fmt.Errorf("server.provider_timeout must be > 0")
	}
	return nil
}

func (p *ProviderConfig) validate() error {
	p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
	switch p.Kind {
	case ProviderOpenAI, ProviderGemini:
	case ProviderAzureOpenAI:
		if strings.TrimSpace(p.AzureEndpoint) == "" {
			return fmt.Errorf("provider.azure_endpoint must be provided for %s", ProviderAzureOpenAI)
		}
	default:
		return fmt.Errorf("provider.kind must be one of %s, %s, %s", ProviderOpenAI, ProviderAzureOpenAI, ProviderGemini)
	}
	if p.UsesVertex() && strings.TrimSpace(p.GCPLocation) == "" {
		return fmt.Errorf("provider.gcp_location must be provided when provider.gcp_project_id is set")
	}
	if strings.TrimSpace(p.Model) == "" {
		p.Model = defaultModel(p.Kind)
	}
	if p.PriceInputPer1K < 0 || p.PriceOutputPer1K < 0 {
		return fmt.Errorf("provider prices must be >= 0")
	}
	return nil
}

func defaultModel(kind string) string {
	if kind == ProviderGemini {
		return "gemini-1.5-flash"
	}
	return "gpt-3.5-turbo"
}

func (q *QuotaConfig) validate() error {
	q.Backend = strings.ToLower(strings.TrimSpace(q.Backend))
	switch q.Backend {
	case QuotaBackendPostgres, QuotaBackendRedis:
	default:
		return fmt.Errorf("quota.backend must be %s or %s", QuotaBackendPostgres, QuotaBackendRedis)
	}
	if q.MaxFreeCounts <= 0 {
		return fmt.Errorf("quota.max_free_counts must be > 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.read_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.provider_timeout", "280s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.url", "")
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("identity.mode", IdentityModeSession)
	v.SetDefault("identity.jwt_secret", "")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.cookie_name", "__session")
	v.SetDefault("identity.oidc.issuer", "")
	v.SetDefault("identity.oidc.audience", "")
	v.SetDefault("identity.oidc.http_timeout", "5s")

	v.SetDefault("provider.kind", ProviderOpenAI)
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.openai_organization", "")
	v.SetDefault("provider.openai_base_url", "")
	v.SetDefault("provider.azure_endpoint", "")
	v.SetDefault("provider.azure_api_version", "2024-07-01-preview")
	v.SetDefault("provider.gemini_base_url", "")
	v.SetDefault("provider.gcp_project_id", "")
	v.SetDefault("provider.gcp_location", "")
	v.SetDefault("provider.gcp_json_credentials", "")
	v.SetDefault("provider.price_input_per_1k", 0.0015)
	v.SetDefault("provider.price_output_per_1k", 0.002)

	v.SetDefault("quota.backend", QuotaBackendPostgres)
	v.SetDefault("quota.max_free_counts", 5)

	v.SetDefault("subscription.grace_period", "24h")
	v.SetDefault("subscription.cache_ttl", "1m")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
