package admission

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/burst"
	"github.com/aman-churiwal/admission-engine/internal/conntrack"
	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/policy"
	"github.com/aman-churiwal/admission-engine/internal/quota"
	"github.com/aman-churiwal/admission-engine/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// Machine-readable denial reasons.
type Code string

const (
	CodeQuotaExceeded       Code = "QUOTA_EXCEEDED"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeConcurrencyExceeded Code = "CONCURRENCY_EXCEEDED"
	CodeBurstExceeded       Code = "BURST_EXCEEDED"
)

// One inbound call, as resolved by the upstream identity layer. UserID
// is empty for anonymous callers; ClientIP then keys the per-caller
// checks so anonymous traffic does not share one bucket.
type Request struct {
	UserID   string
	TenantID string
	Tier     string
	Path     string
	Method   string
	ClientIP string
}

// subject is the key the rate, concurrency and burst checks count by.
func (r Request) subject() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.ClientIP
}

// Structured denial returned to the caller as a 429 body.
type Denial struct {
	Code       Code       `json:"error_code"`
	Message    string     `json:"message"`
	Tier       string     `json:"tier"`
	Endpoint   string     `json:"endpoint"`
	RetryAfter int        `json:"retry_after_seconds,omitempty"`
	Used       int64      `json:"used,omitempty"`
	Limit      int64      `json:"limit,omitempty"`
	ResetAt    *time.Time `json:"reset_date,omitempty"`
}

// Outcome of one admission call. Rate carries the window counters for
// the X-RateLimit-* headers whether or not the request was admitted.
type Decision struct {
	Allowed bool
	Denial  *Denial
	Rate    ratelimit.Result
	Ticket  *Ticket
}

// UsageSink receives one record per admitted or rejected request.
type UsageSink interface {
	Record(rec models.UsageRecord)
}

// ConnectionTracker counts in-flight requests per subject. The default
// implementation is process-local; a deployment needing a cluster-wide
// cap can substitute one backed by a shared counter store.
type ConnectionTracker interface {
	Acquire(subject string, eff policy.Effective) conntrack.Result
	Release(subject string)
	Active() int
}

// BurstGuard counts requests in a short trailing window per subject.
type BurstGuard interface {
	Check(subject string, eff policy.Effective) burst.Result
}

// Listener receives every decision, synchronously, at decision time.
type Listener func(Decision)

// Orchestrates the admission pipeline: quota, then rate, then
// concurrency, then burst. The order is fixed; quota violations imply
// sustained abuse and are caught before the per-window checks.
type Engine struct {
	registry *policy.Registry
	rates    *ratelimit.Limiter
	quotas   *quota.Tracker
	conns    ConnectionTracker
	bursts   BurstGuard
	sink     UsageSink
	failOpen bool

	listeners []Listener
}

func NewEngine(
	registry *policy.Registry,
	rates *ratelimit.Limiter,
	quotas *quota.Tracker,
	conns ConnectionTracker,
	bursts BurstGuard,
	sink UsageSink,
	failOpen bool,
) *Engine {
	return &Engine{
		registry: registry,
		rates:    rates,
		quotas:   quotas,
		conns:    conns,
		bursts:   bursts,
		sink:     sink,
		failOpen: failOpen,
	}
}

// OnDecision registers an observer. Must be called before the engine
// starts serving; listeners are not synchronized.
func (e *Engine) OnDecision(fn Listener) {
	e.listeners = append(e.listeners, fn)
}

// Admit runs the pipeline for one request. A nil error and
// Decision.Allowed=false carries the denial; a non-nil error means the
// atomic counter store failed and the engine is configured fail-closed,
// which the transport layer surfaces as 503.
func (e *Engine) Admit(ctx context.Context, req Request) (Decision, error) {
	endpoint := policy.NormalizePath(req.Path)
	eff := e.registry.Resolve(req.Tier, endpoint)

	if res := e.quotas.Check(ctx, req.UserID, eff); !res.Allowed {
		resetAt := res.ResetAt
		return e.deny(req, eff, Denial{
			Code:     CodeQuotaExceeded,
			Message:  fmt.Sprintf("%s quota exceeded", res.Reason),
			Tier:     eff.Tier,
			Endpoint: endpoint,
			Used:     res.Used,
			Limit:    res.Limit,
			ResetAt:  &resetAt,
		}), nil
	}

	rate, err := e.rates.Check(ctx, eff, req.subject(), req.TenantID)
	if err != nil {
		if !e.failOpen {
			return Decision{}, fmt.Errorf("admission rate check: %w", err)
		}
		log.Errorf("rate limit check failed open (user=%s tier=%s): %v", req.UserID, eff.Tier, err)
		rate = ratelimit.Result{Allowed: true, Limit: eff.RequestsPerWindow, Remaining: eff.RequestsPerWindow}
	}
	if !rate.Allowed {
		resetAt := rate.ResetAt
		dec := e.deny(req, eff, Denial{
			Code:       CodeRateLimitExceeded,
			Message:    "rate limit exceeded",
			Tier:       eff.Tier,
			Endpoint:   endpoint,
			RetryAfter: rate.RetryAfter,
			Limit:      int64(rate.Limit),
			ResetAt:    &resetAt,
		})
		dec.Rate = rate
		return dec, nil
	}

	if res := e.conns.Acquire(req.subject(), eff); !res.Allowed {
		dec := e.deny(req, eff, Denial{
			Code:     CodeConcurrencyExceeded,
			Message:  fmt.Sprintf("too many concurrent requests (%d in flight, max %d)", res.Current, res.Max),
			Tier:     eff.Tier,
			Endpoint: endpoint,
			Used:     int64(res.Current),
			Limit:    int64(res.Max),
		})
		dec.Rate = rate
		return dec, nil
	}

	if res := e.bursts.Check(req.subject(), eff); !res.Allowed {
		// the slot acquired above must not leak on this path
		e.conns.Release(req.subject())

		dec := e.deny(req, eff, Denial{
			Code:       CodeBurstExceeded,
			Message:    fmt.Sprintf("burst limit exceeded (%d requests in the last minute, max %d)", res.Current, res.Limit),
			Tier:       eff.Tier,
			Endpoint:   endpoint,
			RetryAfter: res.RetryAfter,
			Used:       int64(res.Current),
			Limit:      int64(res.Limit),
		})
		dec.Rate = rate
		return dec, nil
	}

	dec := Decision{
		Allowed: true,
		Rate:    rate,
		Ticket: &Ticket{
			engine:  e,
			req:     req,
			eff:     eff,
			started: time.Now(),
		},
	}
	e.notify(dec)
	return dec, nil
}

// deny records the rejected attempt so denied traffic stays visible in
// analytics, then notifies listeners.
func (e *Engine) deny(req Request, eff policy.Effective, d Denial) Decision {
	e.sink.Record(models.UsageRecord{
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		Endpoint:     req.Path,
		Method:       req.Method,
		Timestamp:    time.Now().UTC(),
		StatusCode:   http.StatusTooManyRequests,
		RateLimitHit: true,
		Cost:         eff.Cost,
		Tier:         eff.Tier,
	})

	dec := Decision{Denial: &d}
	e.notify(dec)
	return dec
}

func (e *Engine) notify(dec Decision) {
	for _, fn := range e.listeners {
		fn(dec)
	}
}

// ActiveConnections reports in-flight requests, for health and metrics.
func (e *Engine) ActiveConnections() int {
	return e.conns.Active()
}

// Handed to the caller on admission; Finish must run exactly once when
// the request completes, on success and failure alike.
type Ticket struct {
	engine   *Engine
	req      Request
	eff      policy.Effective
	started  time.Time
	finished atomic.Bool
}

// Finish releases the concurrency slot and records the outcome. Repeat
// calls are ignored.
func (t *Ticket) Finish(statusCode int) {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}

	t.engine.conns.Release(t.req.subject())

	t.engine.sink.Record(models.UsageRecord{
		UserID:         t.req.UserID,
		TenantID:       t.req.TenantID,
		Endpoint:       t.req.Path,
		Method:         t.req.Method,
		Timestamp:      t.started.UTC(),
		ResponseTimeMs: int(time.Since(t.started).Milliseconds()),
		StatusCode:     statusCode,
		Cost:           t.eff.Cost,
		Tier:           t.eff.Tier,
	})
}
