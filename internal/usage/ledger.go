// Package usage records per-completion token usage and cost in usage_events.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/codegen_gateway/internal/config"
	"github.com/ncecere/codegen_gateway/internal/database"
	"github.com/ncecere/codegen_gateway/internal/models"
)

const insertEventSQL = `INSERT INTO usage_events
    (id, user_id, provider, model, prompt_tokens, completion_tokens, cost_usd, pro, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`

var ErrLedgerUnavailable = errors.New("usage ledger unavailable")

// Event captures a successful completion.
type Event struct {
	UserID    string
	Provider  string
	Model     string
	Usage     models.Usage
	Pro       bool
	Timestamp time.Time
}

// Ledger prices usage with the configured per-1K token rates and persists it.
type Ledger struct {
	db     database.Querier
	input  decimal.Decimal
	output decimal.Decimal
}

func NewLedger(db database.Querier, cfg config.ProviderConfig) *Ledger {
	return &Ledger{
		db:     db,
		input:  decimal.NewFromFloat(cfg.PriceInputPer1K),
		output: decimal.NewFromFloat(cfg.PriceOutputPer1K),
	}
}

// Cost returns the USD cost of usage. Negative results clamp to zero.
func (l *Ledger) Cost(usage models.Usage) decimal.Decimal {
	if l.input.IsZero() && l.output.IsZero() {
		return decimal.Zero
	}
	thousand := decimal.NewFromInt(1000)
	prompt := decimal.NewFromInt(int64(usage.PromptTokens))
	completion := decimal.NewFromInt(int64(usage.CompletionTokens))

	total := l.input.Mul(prompt).Div(thousand).Add(l.output.Mul(completion).Div(thousand))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

func (l *Ledger) Record(ctx context.Context, ev Event) error {
	if l == nil || l.db == nil {
		return ErrLedgerUnavailable
	}
	if ev.UserID == "" {
		return errors.New("usage user id required")
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := l.db.Exec(ctx, insertEventSQL,
		uuid.New(),
		ev.UserID,
		ev.Provider,
		ev.Model,
		ev.Usage.PromptTokens,
		ev.Usage.CompletionTokens,
		l.Cost(ev.Usage).StringFixed(8),
		ev.Pro,
		ts,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}
