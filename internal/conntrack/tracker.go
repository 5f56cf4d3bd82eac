package conntrack

import (
	"sync"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/policy"
)

// Outcome of one acquire attempt.
type Result struct {
	Allowed bool
	Current int
	Max     int
}

// In-process concurrent-request counter per user. State is local to
// this instance; in a horizontally scaled deployment each instance
// enforces its cap independently.
type Tracker struct {
	mu       sync.Mutex
	active   map[string]int
	stopChan chan struct{}
	stopOnce sync.Once
}

func New() *Tracker {
	return &Tracker{
		active:   make(map[string]int),
		stopChan: make(chan struct{}),
	}
}

// Acquire admits the request when the user is under their concurrency
// cap. Every allowed Acquire must be paired with exactly one Release,
// on all exit paths. The unlimited tier still increments so the active
// connection gauge stays meaningful, but it is never denied.
func (t *Tracker) Acquire(userID string, eff policy.Effective) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.active[userID]
	if !eff.Unlimited && current >= eff.MaxConcurrent {
		return Result{Current: current, Max: eff.MaxConcurrent}
	}

	t.active[userID] = current + 1
	return Result{Allowed: true, Current: current + 1, Max: eff.MaxConcurrent}
}

// Release decrements the user's count and evicts the entry once it
// reaches zero, so idle users do not accumulate map entries.
func (t *Tracker) Release(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.active[userID]
	if !ok {
		return
	}

	if current <= 1 {
		delete(t.active, userID)
		return
	}

	t.active[userID] = current - 1
}

// Active reports in-flight requests across all users.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, n := range t.active {
		total += n
	}
	return total
}

// StartSweep runs a background loop evicting zero-valued entries. The
// sweep does not affect correctness, only memory bounds; Release
// already evicts on the normal path.
func (t *Tracker) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-t.stopChan:
				return
			}
		}
	}()
}

func (t *Tracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID, n := range t.active {
		if n <= 0 {
			delete(t.active, userID)
		}
	}
}

func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
}
