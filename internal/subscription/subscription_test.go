package subscription

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
)

type memoryRepo struct {
	records map[string]Record
	gets    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: map[string]Record{}}
}

func (m *memoryRepo) Get(_ context.Context, userID string) (Record, bool, error) {
	m.gets++
	rec, ok := m.records[userID]
	return rec, ok, nil
}

func (m *memoryRepo) Upsert(_ context.Context, rec Record) error {
	m.records[rec.UserID] = rec
	return nil
}

func (m *memoryRepo) UpdateBySubscriptionID(_ context.Context, subscriptionID, priceID string, periodEnd time.Time) (string, error) {
	for id, rec := range m.records {
		if rec.SubscriptionID == subscriptionID {
			rec.PriceID = priceID
			rec.CurrentPeriodEnd = periodEnd
			m.records[id] = rec
			return id, nil
		}
	}
	return "", ErrNotFound
}

func newTestCache(t *testing.T, ttl time.Duration) *StatusCache {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewStatusCache(client, ttl, nil)
}

func TestStatusCacheLogsWriteFailures(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cache := NewStatusCache(client, time.Minute, logger)
	ctx := context.Background()

	cache.Invalidate(ctx, "user_1")
	require.Contains(t, buf.String(), "subscription cache invalidate failed")
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "user_id=user_1")

	buf.Reset()
	cache.Set(ctx, "user_1", true)
	require.Contains(t, buf.String(), "subscription cache write failed")

	_, ok := cache.Get(ctx, "user_1")
	require.False(t, ok)
}

func TestRecordActive(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	grace := 24 * time.Hour

	require.False(t, Record{}.Active(now, grace))
	require.False(t, Record{PriceID: "price_1"}.Active(now, grace))
	require.False(t, Record{CurrentPeriodEnd: now.Add(time.Hour)}.Active(now, grace))
	require.True(t, Record{PriceID: "price_1", CurrentPeriodEnd: now.Add(time.Hour)}.Active(now, grace))
	// Within the grace day after the period ended.
	require.True(t, Record{PriceID: "price_1", CurrentPeriodEnd: now.Add(-23 * time.Hour)}.Active(now, grace))
	require.False(t, Record{PriceID: "price_1", CurrentPeriodEnd: now.Add(-25 * time.Hour)}.Active(now, grace))
}

func TestCheckerUsesCache(t *testing.T) {
	repo := newMemoryRepo()
	repo.records["user_1"] = Record{UserID: "user_1", PriceID: "price_1", CurrentPeriodEnd: time.Now().Add(time.Hour)}
	checker := NewChecker(repo, newTestCache(t, time.Minute), 24*time.Hour)
	ctx := context.Background()

	active, err := checker.IsActive(ctx, "user_1")
	require.NoError(t, err)
	require.True(t, active)

	active, err = checker.IsActive(ctx, "user_1")
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, 1, repo.gets)

	delete(repo.records, "user_1")
	checker.Invalidate(ctx, "user_1")
	active, err = checker.IsActive(ctx, "user_1")
	require.NoError(t, err)
	require.False(t, active)
	require.Equal(t, 2, repo.gets)
}

func TestCheckerWithoutCache(t *testing.T) {
	repo := newMemoryRepo()
	checker := NewChecker(repo, NewStatusCache(nil, 0, nil), 24*time.Hour)

	active, err := checker.IsActive(context.Background(), "user_1")
	require.NoError(t, err)
	require.False(t, active)
	_, err = checker.IsActive(context.Background(), "user_1")
	require.NoError(t, err)
	require.Equal(t, 2, repo.gets)
}

type fakeFetcher struct {
	subs map[string]*stripe.Subscription
}

func (f *fakeFetcher) Get(id string, _ *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

const testWebhookSecret = "whsec_test"

func signPayload(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripe.APIVersion, eventType, object))
}

func newTestSyncer(t *testing.T, periodEnd int64) (*Syncer, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	fetcher := &fakeFetcher{subs: map[string]*stripe.Subscription{
		"sub_1": {
			ID:               "sub_1",
			Customer:         &stripe.Customer{ID: "cus_1"},
			CurrentPeriodEnd: periodEnd,
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_pro"}}},
			},
		},
	}}
	checker := NewChecker(repo, newTestCache(t, time.Minute), 24*time.Hour)
	return NewSyncer(testWebhookSecret, fetcher, repo, checker, nil), repo
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	end := time.Now().Add(30 * 24 * time.Hour).Unix()
	syncer, repo := newTestSyncer(t, end)
	ctx := context.Background()

	// Cache a stale "not pro" answer first to prove the webhook invalidates it.
	active, err := syncer.checker.IsActive(ctx, "user_1")
	require.NoError(t, err)
	require.False(t, active)

	payload := eventPayload("checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","metadata":{"userId":"user_1"},"subscription":"sub_1","customer":"cus_1"}`)
	require.NoError(t, syncer.HandleWebhook(ctx, payload, signPayload(payload)))

	rec := repo.records["user_1"]
	require.Equal(t, "sub_1", rec.SubscriptionID)
	require.Equal(t, "cus_1", rec.CustomerID)
	require.Equal(t, "price_pro", rec.PriceID)
	require.Equal(t, end, rec.CurrentPeriodEnd.Unix())

	active, err = syncer.checker.IsActive(ctx, "user_1")
	require.NoError(t, err)
	require.True(t, active)
}

func TestWebhookCheckoutRequiresUser(t *testing.T) {
	syncer, _ := newTestSyncer(t, time.Now().Unix())
	payload := eventPayload("checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","metadata":{},"subscription":"sub_1"}`)

	err := syncer.HandleWebhook(context.Background(), payload, signPayload(payload))
	var whErr *WebhookError
	require.True(t, errors.As(err, &whErr))
	require.Equal(t, "User id is required", whErr.Msg)
}

func TestWebhookInvoicePaid(t *testing.T) {
	end := time.Now().Add(60 * 24 * time.Hour).Unix()
	syncer, repo := newTestSyncer(t, end)
	repo.records["user_1"] = Record{UserID: "user_1", SubscriptionID: "sub_1", PriceID: "price_old"}

	payload := eventPayload("invoice.payment_succeeded",
		`{"id":"in_1","object":"invoice","subscription":"sub_1"}`)
	require.NoError(t, syncer.HandleWebhook(context.Background(), payload, signPayload(payload)))

	rec := repo.records["user_1"]
	require.Equal(t, "price_pro", rec.PriceID)
	require.Equal(t, end, rec.CurrentPeriodEnd.Unix())
}

func TestWebhookBadSignature(t *testing.T) {
	syncer, _ := newTestSyncer(t, time.Now().Unix())
	payload := eventPayload("checkout.session.completed", `{"id":"cs_1","object":"checkout.session"}`)

	err := syncer.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	var whErr *WebhookError
	require.True(t, errors.As(err, &whErr))
	require.Contains(t, whErr.Msg, "Webhook Error: ")
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	syncer, repo := newTestSyncer(t, time.Now().Unix())
	payload := eventPayload("customer.created", `{"id":"cus_1","object":"customer"}`)

	require.NoError(t, syncer.HandleWebhook(context.Background(), payload, signPayload(payload)))
	require.Empty(t, repo.records)
}
