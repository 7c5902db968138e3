package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ncecere/codegen_gateway/internal/database"
)

const (
	selectSubscriptionSQL = `SELECT stripe_customer_id, stripe_subscription_id, stripe_price_id, stripe_current_period_end
FROM user_subscriptions WHERE user_id = $1`
	upsertSubscriptionSQL = `INSERT INTO user_subscriptions
    (user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id, stripe_current_period_end)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
    stripe_customer_id = EXCLUDED.stripe_customer_id,
    stripe_subscription_id = EXCLUDED.stripe_subscription_id,
    stripe_price_id = EXCLUDED.stripe_price_id,
    stripe_current_period_end = EXCLUDED.stripe_current_period_end,
    updated_at = NOW()`
	updateBySubscriptionSQL = `UPDATE user_subscriptions
SET stripe_price_id = $2, stripe_current_period_end = $3, updated_at = NOW()
WHERE stripe_subscription_id = $1
RETURNING user_id`
)

// PostgresRepository stores subscriptions in user_subscriptions.
type PostgresRepository struct {
	db database.Querier
}

func NewPostgresRepository(db database.Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (Record, bool, error) {
	var (
		customerID, subscriptionID, priceID *string
		periodEnd                           *time.Time
	)
	err := r.db.QueryRow(ctx, selectSubscriptionSQL, userID).Scan(&customerID, &subscriptionID, &priceID, &periodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read subscription: %w", err)
	}
	rec := Record{
		UserID:         userID,
		CustomerID:     deref(customerID),
		SubscriptionID: deref(subscriptionID),
		PriceID:        deref(priceID),
	}
	if periodEnd != nil {
		rec.CurrentPeriodEnd = *periodEnd
	}
	return rec, true, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec Record) error {
	if rec.UserID == "" {
		return errors.New("subscription user id required")
	}
	_, err := r.db.Exec(ctx, upsertSubscriptionSQL,
		rec.UserID,
		nullable(rec.CustomerID),
		nullable(rec.SubscriptionID),
		nullable(rec.PriceID),
		nullableTime(rec.CurrentPeriodEnd),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateBySubscriptionID(ctx context.Context, subscriptionID, priceID string, periodEnd time.Time) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, updateBySubscriptionSQL, subscriptionID, nullable(priceID), nullableTime(periodEnd)).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("update subscription: %w", err)
	}
	return userID, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
