// Package subscription answers whether a user currently holds an active paid plan and
// keeps the local subscription rows in sync with Stripe.
package subscription

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("subscription not found")

// Record mirrors a user_subscriptions row.
type Record struct {
	UserID           string
	CustomerID       string
	SubscriptionID   string
	PriceID          string
	CurrentPeriodEnd time.Time
}

// Active reports whether the plan has a price and its period, extended by grace, has
// not yet elapsed.
func (r Record) Active(now time.Time, grace time.Duration) bool {
	if r.PriceID == "" || r.CurrentPeriodEnd.IsZero() {
		return false
	}
	return r.CurrentPeriodEnd.Add(grace).After(now)
}

// Repository persists subscription records.
type Repository interface {
	Get(ctx context.Context, userID string) (Record, bool, error)
	Upsert(ctx context.Context, rec Record) error
	// UpdateBySubscriptionID refreshes price and period for an existing row and returns
	// the owning user id.
	UpdateBySubscriptionID(ctx context.Context, subscriptionID, priceID string, periodEnd time.Time) (string, error)
}
