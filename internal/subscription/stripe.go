package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
)

const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventInvoicePaid       = "invoice.payment_succeeded"
)

// WebhookError is a client-side webhook failure answered with 400.
type WebhookError struct {
	Msg string
}

func (e *WebhookError) Error() string { return e.Msg }

// SubscriptionFetcher loads a subscription from Stripe. *sub.Client satisfies it.
type SubscriptionFetcher interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// NewStripeFetcher returns the Stripe subscriptions client for apiKey.
func NewStripeFetcher(apiKey string) (SubscriptionFetcher, error) {
	if apiKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return sc.Subscriptions, nil
}

// Syncer applies Stripe webhook events to the local subscription rows.
type Syncer struct {
	secret  string
	fetcher SubscriptionFetcher
	repo    Repository
	checker *Checker
	logger  *slog.Logger
}

func NewSyncer(secret string, fetcher SubscriptionFetcher, repo Repository, checker *Checker, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{secret: secret, fetcher: fetcher, repo: repo, checker: checker, logger: logger}
}

// HandleWebhook verifies the signature and applies the event. Unhandled event types
// are acknowledged without side effects.
func (s *Syncer) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.secret == "" {
		return errors.New("stripe webhook secret not configured")
	}
	event, err := webhook.ConstructEvent(payload, signature, s.secret)
	if err != nil {
		return &WebhookError{Msg: "Webhook Error: " + err.Error()}
	}
	if event.Data == nil {
		return &WebhookError{Msg: "Webhook Error: missing event data"}
	}

	switch event.Type {
	case eventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return &WebhookError{Msg: "Webhook Error: " + err.Error()}
		}
		return s.checkoutCompleted(ctx, &session)
	case eventInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return &WebhookError{Msg: "Webhook Error: " + err.Error()}
		}
		return s.invoicePaid(ctx, &invoice)
	default:
		s.logger.Debug("stripe event ignored", slog.String("type", event.Type), slog.String("id", event.ID))
		return nil
	}
}

func (s *Syncer) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	userID := session.Metadata["userId"]
	if userID == "" {
		return &WebhookError{Msg: "User id is required"}
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return &WebhookError{Msg: "Webhook Error: checkout session has no subscription"}
	}
	if s.fetcher == nil {
		return errors.New("stripe API key not configured")
	}
	sub, err := s.fetcher.Get(session.Subscription.ID, nil)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", session.Subscription.ID, err)
	}
	rec := Record{
		UserID:           userID,
		SubscriptionID:   sub.ID,
		PriceID:          priceID(sub),
		CurrentPeriodEnd: periodEnd(sub),
	}
	if sub.Customer != nil {
		rec.CustomerID = sub.Customer.ID
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return err
	}
	s.checker.Invalidate(ctx, userID)
	s.logger.Info("subscription created",
		slog.String("user_id", userID),
		slog.String("subscription_id", rec.SubscriptionID),
		slog.String("price_id", rec.PriceID),
	)
	return nil
}

func (s *Syncer) invoicePaid(ctx context.Context, invoice *stripe.Invoice) error {
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		return nil
	}
	if s.fetcher == nil {
		return errors.New("stripe API key not configured")
	}
	sub, err := s.fetcher.Get(invoice.Subscription.ID, nil)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", invoice.Subscription.ID, err)
	}
	userID, err := s.repo.UpdateBySubscriptionID(ctx, sub.ID, priceID(sub), periodEnd(sub))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("invoice for unknown subscription", slog.String("subscription_id", sub.ID))
			return nil
		}
		return err
	}
	s.checker.Invalidate(ctx, userID)
	s.logger.Info("subscription renewed",
		slog.String("user_id", userID),
		slog.String("subscription_id", sub.ID),
	)
	return nil
}

func priceID(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func periodEnd(sub *stripe.Subscription) time.Time {
	if sub.CurrentPeriodEnd == 0 {
		return time.Time{}
	}
	return time.Unix(sub.CurrentPeriodEnd, 0).UTC()
}
