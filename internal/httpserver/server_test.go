package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/codegen_gateway/internal/app"
	"github.com/ncecere/codegen_gateway/internal/completion"
	"github.com/ncecere/codegen_gateway/internal/config"
	"github.com/ncecere/codegen_gateway/internal/identity"
	"github.com/ncecere/codegen_gateway/internal/models"
	"github.com/ncecere/codegen_gateway/internal/providers"
)

type noRowsQuerier struct{}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

func (noRowsQuerier) QueryRow(context.Context, string, ...any) pgx.Row { return noRow{} }

func (noRowsQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

type scriptedProvider struct {
	mu       sync.Mutex
	received  [][]models.ChatMessage
	err       error
	panicWith string
}

func (p *scriptedProvider) Complete(_ context.Context, messages []models.ChatMessage) (models.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, messages)
	if p.panicWith != "" {
		panic(p.panicWith)
	}
	if p.err != nil {
		return models.Completion{}, p.err
	}
	return models.Completion{
		Message: models.ChatMessage{Role: "assistant", Content: "```go\nfmt.Println(\"hi\")\n```"},
		Model:   "gpt-3.5-turbo",
		Usage:   models.Usage{PromptTokens: 12, CompletionTokens: 9, TotalTokens: 21},
	}, nil
}

type testEnv struct {
	server   *Server
	redis    *miniredis.Miniredis
	provider *scriptedProvider
	tokens   *identity.SessionVerifier
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{BodyLimitMB: 4, ProviderTimeout: time.Minute},
		Log:    config.LogConfig{Level: "error"},
		Identity: config.IdentityConfig{
			Mode:       config.IdentityModeSession,
			JWTSecret:  "test-secret",
			CookieName: "__session",
		},
		Provider: config.ProviderConfig{
			Kind:      config.ProviderOpenAI,
			Model:     "gpt-3.5-turbo",
			OpenAIKey: "sk-test",
		},
		Quota:        config.QuotaConfig{Backend: config.QuotaBackendRedis, MaxFreeCounts: 2},
		Subscription: config.SubscriptionConfig{GracePeriod: 24 * time.Hour, CacheTTL: time.Minute},
		Stripe:       config.StripeConfig{WebhookSecret: "whsec_test"},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	provider := &scriptedProvider{}
	factory := providers.NewFactory()
	factory.Register(config.ProviderOpenAI, func(context.Context, config.ProviderConfig) (providers.ModelProvider, error) {
		return provider, nil
	})

	container, err := app.Assemble(context.Background(), cfg, client, app.Overrides{
		DB:      noRowsQuerier{},
		Factory: factory,
	})
	require.NoError(t, err)

	srv, err := New(container)
	require.NoError(t, err)

	tokens, err := identity.NewSessionVerifier("test-secret", "")
	require.NoError(t, err)
	return &testEnv{server: srv, redis: mr, provider: provider, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, user string) string {
	t.Helper()
	token, err := e.tokens.Issue(user, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

const codeBody = `{"messages":[{"role":"user","content":"print hi in go"}]}`

func TestCodeRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/api/code", "", codeBody)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Unauthorized", body)

	status, body = env.do(t, http.MethodPost, "/api/code", "garbage.token.value", codeBody)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Unauthorized", body)
	require.Empty(t, env.provider.received)
}

func TestCodeMissingCredential(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Provider.OpenAIKey = "" })

	status, body := env.do(t, http.MethodPost, "/api/code", "", codeBody)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Unauthorized", body)

	// Checked before the body is parsed.
	status, body = env.do(t, http.MethodPost, "/api/code", env.token(t, "user_1"), "not even json")
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "OpenAI API Key not configured.", body)
	require.Empty(t, env.provider.received)
}

func TestCodeBodyValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, "user_1")

	status, body := env.do(t, http.MethodPost, "/api/code", token, `{"messages":`)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Internal Error", body)

	status, body = env.do(t, http.MethodPost, "/api/code", token, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Messages are required", body)

	status, body = env.do(t, http.MethodPost, "/api/code", token, `{"messages":null}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Messages are required", body)
	require.Empty(t, env.provider.received)
}

func TestCodeFreeTierLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, "user_1")

	for i := 0; i < 2; i++ {
		status, body := env.do(t, http.MethodPost, "/api/code", token, codeBody)
		require.Equal(t, http.StatusOK, status, body)
		var reply models.ChatMessage
		require.NoError(t, json.Unmarshal([]byte(body), &reply))
		require.Equal(t, "assistant", reply.Role)
		require.Contains(t, reply.Content, "fmt.Println")
	}
	count, err := env.redis.Get("codegen:apilimit:user_1")
	require.NoError(t, err)
	require.Equal(t, "2", count)

	status, body := env.do(t, http.MethodPost, "/api/code", token, codeBody)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Free trial has expired. Please upgrade to pro.", body)
	require.Len(t, env.provider.received, 2)

	first := env.provider.received[0]
	require.Equal(t, models.ChatMessage{Role: "system", Content: completion.SystemInstruction}, first[0])
	require.Equal(t, models.ChatMessage{Role: "user", Content: "print hi in go"}, first[1])
}

func TestCodeSessionCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/code", strings.NewReader(codeBody))
	req.AddCookie(&http.Cookie{Name: "__session", Value: env.token(t, "user_cookie")})
	resp, err := env.server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCodeProSkipsQuota(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, "user_pro")
	require.NoError(t, env.redis.Set("codegen:apilimit:user_pro", "2"))
	require.NoError(t, env.redis.Set("codegen:substatus:user_pro", "1"))

	status, body := env.do(t, http.MethodPost, "/api/code", token, codeBody)
	require.Equal(t, http.StatusOK, status, body)

	count, err := env.redis.Get("codegen:apilimit:user_pro")
	require.NoError(t, err)
	require.Equal(t, "2", count)
}

func TestCodeProviderFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.err = errors.New("upstream exploded")
	token := env.token(t, "user_1")

	status, body := env.do(t, http.MethodPost, "/api/code", token, codeBody)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Internal Error", body)
	require.False(t, env.redis.Exists("codegen:apilimit:user_1"))
}

func TestCodeProviderPanicIsHidden(t *testing.T) {
	env := newTestEnv(t, nil)
	var logs bytes.Buffer
	env.server.container.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	env.provider.panicWith = "sdk blew up"
	token := env.token(t, "user_1")

	status, body := env.do(t, http.MethodPost, "/api/code", token, codeBody)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Internal Error", body)
	require.Contains(t, logs.String(), "[CODE_ERROR]")
	require.Contains(t, logs.String(), "sdk blew up")
	require.False(t, env.redis.Exists("codegen:apilimit:user_1"))
}

func TestErrorHandlerKeepsClientStatuses(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodGet, "/api/nope", "", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Cannot GET /api/nope", body)

	bare := fiber.New(fiber.Config{ErrorHandler: errorHandler(nil)})
	bare.Post("/upload", func(*fiber.Ctx) error { return fiber.ErrRequestEntityTooLarge })
	resp, err := bare.Test(httptest.NewRequest(http.MethodPost, "/upload", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Equal(t, "Request Entity Too Large", string(data))
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

func TestUsageRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/api/usage", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Unauthorized", body)

	require.NoError(t, env.redis.Set("codegen:apilimit:user_1", "1"))
	status, body = env.do(t, http.MethodGet, "/api/usage", env.token(t, "user_1"), "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"count":1,"max":2,"remaining":1,"isPro":false}`, body)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	resp, err := env.server.App().Test(req, -1)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.True(t, strings.HasPrefix(string(data), "Webhook Error: "), string(data))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.Equal(t, "ok", payload["status"])
}
