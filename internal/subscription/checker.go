package subscription

import (
	"context"
	"errors"
	"time"
)

// Checker decides whether a user is on the paid plan.
type Checker struct {
	repo  Repository
	cache *StatusCache
	grace time.Duration
	now   func() time.Time
}

func NewChecker(repo Repository, cache *StatusCache, grace time.Duration) *Checker {
	return &Checker{repo: repo, cache: cache, grace: grace, now: time.Now}
}

func (c *Checker) IsActive(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, errors.New("subscription user id required")
	}
	if active, ok := c.cache.Get(ctx, userID); ok {
		return active, nil
	}
	rec, found, err := c.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	active := found && rec.Active(c.now(), c.grace)
	c.cache.Set(ctx, userID, active)
	return active, nil
}

// Invalidate drops the cached flag after the stored record changes.
func (c *Checker) Invalidate(ctx context.Context, userID string) {
	c.cache.Invalidate(ctx, userID)
}
