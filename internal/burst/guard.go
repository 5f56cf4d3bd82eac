package burst

import (
	"sync"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/policy"
)

// Trailing window the guard counts over, independent of the rate
// limiter's coarser window.
const Window = 60 * time.Second

// Outcome of one burst check.
type Result struct {
	Allowed    bool
	Current    int
	Limit      int
	RetryAfter int // seconds, set when denied
}

// In-process short-window request counter per user. Catches bursts that
// a one-hour rate window would not stop quickly enough.
type Guard struct {
	mu       sync.Mutex
	windows  map[string][]int64 // unix millis, oldest first
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func New() *Guard {
	return &Guard{
		windows:  make(map[string][]int64),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Check lazily prunes timestamps older than the trailing window, denies
// when the remainder is at the burst limit, and otherwise records the
// request. The unlimited tier passes without recording.
func (g *Guard) Check(userID string, eff policy.Effective) Result {
	if eff.Unlimited {
		return Result{Allowed: true, Limit: models.NoLimit}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-Window).UnixMilli()

	stamps := g.windows[userID]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= eff.BurstLimit {
		g.windows[userID] = kept
		return Result{
			Current:    len(kept),
			Limit:      eff.BurstLimit,
			RetryAfter: int(Window.Seconds()),
		}
	}

	g.windows[userID] = append(kept, now.UnixMilli())
	return Result{Allowed: true, Current: len(kept) + 1, Limit: eff.BurstLimit}
}

// StartSweep runs a background loop dropping users whose whole window
// has aged out, bounding memory for users that went quiet.
func (g *Guard) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.sweep()
			case <-g.stopChan:
				return
			}
		}
	}()
}

func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-Window).UnixMilli()
	for userID, stamps := range g.windows {
		if len(stamps) == 0 || stamps[len(stamps)-1] <= cutoff {
			delete(g.windows, userID)
		}
	}
}

func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopChan)
	})
}
