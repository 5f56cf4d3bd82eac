package quota

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-engine/internal/policy"
	log "github.com/sirupsen/logrus"
)

// Outcome of one quota check. Allowed is false only when a ceiling was
// actually hit; store failures fail open.
type Result struct {
	Allowed bool
	Reason  string // "daily" or "monthly"
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// Daily/monthly usage against the tier's quotas, for analytics display.
type Snapshot struct {
	DailyUsed    int64 `json:"daily_used"`
	DailyLimit   int   `json:"daily_limit"`
	MonthlyUsed  int64 `json:"monthly_used"`
	MonthlyLimit int   `json:"monthly_limit"`
}

// UsageCounter is the slice of the usage log store the tracker reads.
type UsageCounter interface {
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// Enforces daily and monthly request ceilings by counting usage
// records. Calendar boundaries are computed in UTC.
type Tracker struct {
	usage   UsageCounter
	breaker *circuitbreaker.Breaker
	now     func() time.Time
}

func NewTracker(usage UsageCounter) *Tracker {
	return &Tracker{
		usage:   usage,
		breaker: circuitbreaker.New(circuitbreaker.Config{}),
		now:     time.Now,
	}
}

// Check enforces the daily ceiling, then the monthly one. The unlimited
// tier and anonymous callers always pass. A degraded usage log store
// fails open: quota enforcement must never take the whole API down.
func (t *Tracker) Check(ctx context.Context, userID string, eff policy.Effective) Result {
	if eff.Unlimited || userID == "" {
		return Result{Allowed: true}
	}

	now := t.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	dailyUsed, err := t.count(ctx, userID, startOfDay)
	if err != nil {
		log.Errorf("quota check failed open (user=%s): %v", userID, err)
		return Result{Allowed: true}
	}

	if eff.DailyQuota > 0 && dailyUsed >= int64(eff.DailyQuota) {
		return Result{
			Reason:  "daily",
			Used:    dailyUsed,
			Limit:   int64(eff.DailyQuota),
			ResetAt: startOfDay.AddDate(0, 0, 1),
		}
	}

	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	monthlyUsed, err := t.count(ctx, userID, startOfMonth)
	if err != nil {
		log.Errorf("quota check failed open (user=%s): %v", userID, err)
		return Result{Allowed: true}
	}

	if eff.MonthlyQuota > 0 && monthlyUsed >= int64(eff.MonthlyQuota) {
		return Result{
			Reason:  "monthly",
			Used:    monthlyUsed,
			Limit:   int64(eff.MonthlyQuota),
			ResetAt: startOfMonth.AddDate(0, 1, 0),
		}
	}

	return Result{Allowed: true}
}

// Usage returns the current daily/monthly counts for display. Unlike
// Check, a store error here is surfaced to the caller.
func (t *Tracker) Usage(ctx context.Context, userID string, eff policy.Effective) (Snapshot, error) {
	now := t.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	dailyUsed, err := t.count(ctx, userID, startOfDay)
	if err != nil {
		return Snapshot{}, err
	}

	monthlyUsed, err := t.count(ctx, userID, startOfMonth)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		DailyUsed:    dailyUsed,
		DailyLimit:   eff.DailyQuota,
		MonthlyUsed:  monthlyUsed,
		MonthlyLimit: eff.MonthlyQuota,
	}, nil
}

// count runs the store read through the breaker so a degraded store is
// not hammered on every request; an open breaker fails fast.
func (t *Tracker) count(ctx context.Context, userID string, since time.Time) (int64, error) {
	var used int64

	err := t.breaker.Call(func() error {
		var countErr error
		used, countErr = t.usage.CountByUserSince(ctx, userID, since)
		return countErr
	})

	return used, err
}
