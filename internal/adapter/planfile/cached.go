package planfile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/phasegate/internal/domain/plan"
	"github.com/Strob0t/phasegate/internal/port/cache"
	"github.com/Strob0t/phasegate/internal/port/planprovider"
)

// Cached memoizes another provider's plans in a cache. Misses, including
// ErrPlanNotFound, are never cached.
type Cached struct {
	next  planprovider.Provider
	cache cache.Cache
	ttl   time.Duration
}

// NewCached wraps next with c.
func NewCached(next planprovider.Provider, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

func cacheKey(storyID string) string { return "plan." + storyID }

// GetPlan implements planprovider.Provider.
func (c *Cached) GetPlan(ctx context.Context, storyID string) (*plan.Document, error) {
	key := cacheKey(storyID)
	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var doc plan.Document
		if err := json.Unmarshal(data, &doc); err == nil {
			return &doc, nil
		}
		slog.Warn("discarding undecodable cached plan", "story_id", storyID)
	}

	doc, err := c.next.GetPlan(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(doc); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			slog.Warn("plan cache set failed", "story_id", storyID, "error", err)
		}
	}
	return doc, nil
}

// Invalidate drops the cached plan for storyID.
func (c *Cached) Invalidate(ctx context.Context, storyID string) error {
	return c.cache.Delete(ctx, cacheKey(storyID))
}
