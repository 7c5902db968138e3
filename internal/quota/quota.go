// Package quota meters the free tier: a fixed number of completions per user.
//
// HasRemaining and Consume are separate calls so that a unit is only debited after the
// provider call succeeds. Concurrent requests for the same user may all observe
// remaining quota before any of them consumes, so the tier can be exceeded by the number
// of requests in flight. Consume itself is an atomic increment.
package quota

import (
	"context"
	"errors"
)

var ErrUserRequired = errors.New("quota: user id required")

// Store is the free-tier counter for a user.
type Store interface {
	HasRemaining(ctx context.Context, userID string) (bool, error)
	Consume(ctx context.Context, userID string) error
	Count(ctx context.Context, userID string) (int, error)
	Max() int
}

func hasRemaining(ctx context.Context, s Store, userID string) (bool, error) {
	count, err := s.Count(ctx, userID)
	if err != nil {
		return false, err
	}
	return count < s.Max(), nil
}
