package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ncecere/codegen_gateway/internal/database"
)

const (
	selectCountSQL = `SELECT count FROM user_api_limits WHERE user_id = $1`
	consumeSQL     = `INSERT INTO user_api_limits (user_id, count) VALUES ($1, 1)
ON CONFLICT (user_id) DO UPDATE SET count = user_api_limits.count + 1, updated_at = NOW()`
)

// PostgresStore keeps one counter row per user in user_api_limits.
type PostgresStore struct {
	db  database.Querier
	max int
}

func NewPostgresStore(db database.Querier, maxFree int) *PostgresStore {
	return &PostgresStore{db: db, max: maxFree}
}

func (s *PostgresStore) Max() int { return s.max }

func (s *PostgresStore) Count(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUserRequired
	}
	var count int32
	if err := s.db.QueryRow(ctx, selectCountSQL, userID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read api limit: %w", err)
	}
	return int(count), nil
}

func (s *PostgresStore) HasRemaining(ctx context.Context, userID string) (bool, error) {
	return hasRemaining(ctx, s, userID)
}

func (s *PostgresStore) Consume(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	if _, err := s.db.Exec(ctx, consumeSQL, userID); err != nil {
		return fmt.Errorf("increment api limit: %w", err)
	}
	return nil
}
