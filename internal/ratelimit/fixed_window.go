package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/policy"
)

// Outcome of one rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds, set when denied
	ResetAt    time.Time
}

// Fixed-window limiter over an atomic counter store. The counter's TTL
// equals the window duration and is set on the first increment; the
// window resets by expiry, never by explicit clearing.
type Limiter struct {
	store CounterStore
}

func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// Check increments the counter for the request's key and compares the
// post-increment value against the effective limit. Denied attempts
// consume the window too, so probing past the limit cannot be used to
// sneak extra requests in.
func (l *Limiter) Check(ctx context.Context, eff policy.Effective, userID, tenantID string) (Result, error) {
	if eff.Unlimited {
		return Result{Allowed: true, Limit: models.NoLimit, Remaining: models.NoLimit}, nil
	}

	endpoint := eff.Endpoint
	if endpoint == "" {
		endpoint = "general"
	}
	key := fmt.Sprintf("ratelimit:%s:%s:%s:%s", eff.Tier, endpoint, userID, tenantID)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit increment: %w", err)
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, eff.Window); err != nil {
			return Result{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	res := Result{
		Allowed:   count <= int64(eff.RequestsPerWindow),
		Limit:     eff.RequestsPerWindow,
		Remaining: eff.RequestsPerWindow - int(count),
		ResetAt:   time.Now().Add(eff.Window),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = int(math.Ceil(eff.Window.Seconds()))
	}

	return res, nil
}
