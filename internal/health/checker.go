package health

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pinger is satisfied by both store wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Holds health checker configuration
type Config struct {
	Interval time.Duration // How often to check (default: 10s)
	Timeout  time.Duration // Per-ping timeout (default: 5s)
}

// Periodically pings the counter and usage log stores and caches their
// reachability for the health endpoint, so health requests never block
// on a hanging store.
type Checker struct {
	mu           sync.RWMutex
	counterStore Pinger
	usageStore   Pinger
	counterOK    bool
	usageOK      bool

	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewChecker(counterStore, usageStore Pinger, cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Checker{
		counterStore: counterStore,
		usageStore:   usageStore,
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		stopChan:     make(chan struct{}),
	}
}

// Start runs an immediate check, then keeps checking on the interval
// until Stop.
func (c *Checker) Start() {
	c.checkAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) checkAll() {
	counterOK := c.ping(c.counterStore)
	usageOK := c.ping(c.usageStore)

	c.mu.Lock()
	changed := counterOK != c.counterOK || usageOK != c.usageOK
	c.counterOK = counterOK
	c.usageOK = usageOK
	c.mu.Unlock()

	if changed {
		log.Warnf("store health changed: counter_store=%v usage_store=%v", counterOK, usageOK)
	}
}

func (c *Checker) ping(p Pinger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	return p.Ping(ctx) == nil
}

// Status reports the last observed reachability of both stores.
func (c *Checker) Status() (counterOK, usageOK bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counterOK, c.usageOK
}

func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}
