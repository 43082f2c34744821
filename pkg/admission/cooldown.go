package admission

import (
	"sync"
	"time"
)

// Cooldown enforces a per-event-type minimum inter-arrival time. The
// last-admitted timestamp is recorded at the moment an event passes the
// gate, so a later event observes the admitting one even while it is
// still mid-pipeline.
type Cooldown struct {
	mu    sync.Mutex
	last  map[string]int64 // event_type -> last admitted wall-clock ms
	clock func() time.Time
}

// NewCooldown creates an empty cooldown manager.
func NewCooldown() *Cooldown {
	return &Cooldown{
		last:  make(map[string]int64),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Cooldown) WithClock(clock func() time.Time) *Cooldown {
	c.clock = clock
	return c
}

// Admit attempts admission for eventType under cooldownMs. When blocked
// it returns ok=false and the remaining wait; when admitted it records
// the admission time. cooldownMs <= 0 always admits.
func (c *Cooldown) Admit(eventType string, cooldownMs int64) (ok bool, retryAfterMs int64) {
	now := c.clock().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cooldownMs > 0 {
		if prev, seen := c.last[eventType]; seen {
			if elapsed := now - prev; elapsed < cooldownMs {
				return false, cooldownMs - elapsed
			}
		}
	}
	c.last[eventType] = now
	return true, 0
}

// LastAdmitted returns the last admitted wall-clock ms for eventType,
// or false when the type has never been admitted.
func (c *Cooldown) LastAdmitted(eventType string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.last[eventType]
	return ts, ok
}
