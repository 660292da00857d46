package admission

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// noPlan is cached for users without a plan so they do not hit the API on every connect.
const noPlan = "none"

type Checker interface {
	Allowed(ctx context.Context, userID string) (bool, error)
}

// AllowAll admits everyone, with or without a user id. Used when admission
// is disabled.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, string) (bool, error) { return true, nil }

// CachedChecker fronts a PlanSource with a Redis cache-aside. Concurrent
// misses for the same user share one upstream call.
type CachedChecker struct {
	source PlanSource
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	group  singleflight.Group

	Now func() time.Time
}

// NewCachedChecker builds the checker. rdb may be nil to skip caching.
func NewCachedChecker(source PlanSource, rdb redis.Cmdable, prefix string, ttl time.Duration) *CachedChecker {
	return &CachedChecker{
		source: source,
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		Now:    time.Now,
	}
}

func (c *CachedChecker) Allowed(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}
	plan, err := c.plan(ctx, userID)
	if err != nil {
		return false, err
	}
	return plan.Active(c.Now()), nil
}

func (c *CachedChecker) plan(ctx context.Context, userID string) (*Plan, error) {
	if plan, ok := c.cached(ctx, userID); ok {
		return plan, nil
	}

	// The shared call outlives whichever caller started it; the plan
	// client's own timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do(userID, func() (any, error) {
		plan, err := c.source.FetchPlan(fetchCtx, userID)
		if err != nil {
			return nil, err
		}
		c.store(fetchCtx, userID, plan)
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("module", "admission").Str("user", userID).Bool("shared", shared).Msg("plan fetched")
	plan, _ := v.(*Plan)
	return plan, nil
}

func (c *CachedChecker) key(userID string) string { return c.prefix + userID }

func (c *CachedChecker) cached(ctx context.Context, userID string) (*Plan, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "admission").Str("user", userID).Msg("cache read")
		return nil, false
	}
	if string(raw) == noPlan {
		return nil, true
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		log.Warn().Err(err).Str("module", "admission").Str("user", userID).Msg("cache entry corrupt")
		return nil, false
	}
	return &plan, true
}

func (c *CachedChecker) store(ctx context.Context, userID string, plan *Plan) {
	if c.rdb == nil {
		return
	}
	var value any = noPlan
	if plan != nil {
		data, err := json.Marshal(plan)
		if err != nil {
			return
		}
		value = data
	}
	if err := c.rdb.Set(ctx, c.key(userID), value, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("module", "admission").Str("user", userID).Msg("cache write")
	}
}
