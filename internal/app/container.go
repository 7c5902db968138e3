package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/codegen_gateway/internal/completion"
	"github.com/ncecere/codegen_gateway/internal/config"
	"github.com/ncecere/codegen_gateway/internal/database"
	"github.com/ncecere/codegen_gateway/internal/identity"
	"github.com/ncecere/codegen_gateway/internal/observability"
	"github.com/ncecere/codegen_gateway/internal/providers"
	"github.com/ncecere/codegen_gateway/internal/quota"
	"github.com/ncecere/codegen_gateway/internal/subscription"
	"github.com/ncecere/codegen_gateway/internal/usage"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Logger        *slog.Logger
	Observability *observability.Provider
	Identity      identity.Resolver
	Quota         quota.Store
	Subscriptions *subscription.Checker
	Webhooks      *subscription.Syncer
	Usage         *usage.Ledger
	Completion    *completion.Service
}

// Overrides replaces collaborators that would otherwise be built from configuration.
// Zero fields keep the configured default.
type Overrides struct {
	DB       database.Querier
	Identity identity.Resolver
	Factory  *providers.Factory
	Stripe   subscription.SubscriptionFetcher
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	c, err := Assemble(ctx, cfg, redisClient, Overrides{DB: pool})
	if err != nil {
		return nil, err
	}
	c.DBPool = pool
	return c, nil
}

// Assemble wires every service on top of db and redisClient.
func Assemble(ctx context.Context, cfg *config.Config, redisClient *redis.Client, o Overrides) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if o.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	logger := observability.NewLogger(cfg.Log, nil)

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	resolver := o.Identity
	if resolver == nil {
		resolver, err = identity.New(ctx, cfg.Identity)
		if err != nil {
			return nil, fmt.Errorf("init identity: %w", err)
		}
	}

	var quotaStore quota.Store
	switch cfg.Quota.Backend {
	case config.QuotaBackendRedis:
		quotaStore = quota.NewRedisStore(redisClient, cfg.Quota.MaxFreeCounts)
	default:
		quotaStore = quota.NewPostgresStore(o.DB, cfg.Quota.MaxFreeCounts)
	}

	checker := subscription.NewChecker(
		subscription.NewPostgresRepository(o.DB),
		subscription.NewStatusCache(redisClient, cfg.Subscription.CacheTTL, logger),
		cfg.Subscription.GracePeriod,
	)

	fetcher := o.Stripe
	if fetcher == nil && cfg.Stripe.APIKey != "" {
		fetcher, err = subscription.NewStripeFetcher(cfg.Stripe.APIKey)
		if err != nil {
			return nil, fmt.Errorf("init stripe: %w", err)
		}
	}
	webhooks := subscription.NewSyncer(cfg.Stripe.WebhookSecret, fetcher, subscription.NewPostgresRepository(o.DB), checker, logger)

	factory := o.Factory
	if factory == nil {
		factory = providers.NewFactory()
	}
	provider, missing, err := buildProvider(ctx, factory, cfg.Provider, logger)
	if err != nil {
		return nil, err
	}

	ledger := usage.NewLedger(o.DB, cfg.Provider)
	svc, err := completion.NewService(completion.Options{
		Quota:             quotaStore,
		Subscriptions:     checker,
		Provider:          provider,
		ProviderName:      cfg.Provider.Kind,
		Model:             cfg.Provider.Model,
		MissingCredential: missing,
		Usage:             ledger,
		Metrics:           obsProvider,
		Logger:            logger,
		Timeout:           cfg.Server.ProviderTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init completion service: %w", err)
	}

	return &Container{
		Config:        cfg,
		Redis:         redisClient,
		Logger:        logger,
		Observability: obsProvider,
		Identity:      resolver,
		Quota:         quotaStore,
		Subscriptions: checker,
		Webhooks:      webhooks,
		Usage:         ledger,
		Completion:    svc,
	}, nil
}

// buildProvider returns the configured provider or, when its credential is absent, the
// credential name the completion route reports on each request.
func buildProvider(ctx context.Context, factory *providers.Factory, cfg config.ProviderConfig, logger *slog.Logger) (providers.ModelProvider, string, error) {
	provider, err := factory.Build(ctx, cfg)
	if err != nil {
		if errors.Is(err, providers.ErrNotConfigured) {
			logger.Warn("provider credential missing; completions will fail until configured",
				slog.String("provider", cfg.Kind),
				slog.String("credential", cfg.CredentialName()),
			)
			return nil, cfg.CredentialName(), nil
		}
		return nil, "", fmt.Errorf("init provider: %w", err)
	}
	return provider, "", nil
}

// Shutdown flushes telemetry.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.Observability.Shutdown(ctx)
}
