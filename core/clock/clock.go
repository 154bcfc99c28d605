// Package clock provides the process-wide virtual time source. Every
// component reads "now" through it so that scheduling decisions are
// reproducible when the clock is pinned to a simulated instant.
package clock

import (
	"sync"
	"time"
)

// Clock exposes the current instant and reports whether it is simulated.
type Clock interface {
	Now() time.Time
	IsSimulated() bool
}

// VirtualClock is the default Clock. It serves wall-clock time until a
// simulation-control operation pins it to a fixed instant. Reads are safe
// from any number of goroutines; mutations are serialized.
type VirtualClock struct {
	mu        sync.RWMutex
	simulated bool
	simTime   time.Time
}

// New creates a VirtualClock in real mode.
func New() *VirtualClock { return &VirtualClock{} }

// Now returns the current instant: the pinned simulated time, or the wall
// clock in real mode.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.simulated {
		return c.simTime
	}
	return time.Now()
}

// IsSimulated reports whether the clock is pinned.
func (c *VirtualClock) IsSimulated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.simulated
}

// SetSimulated pins the clock to the given instant.
func (c *VirtualClock) SetSimulated(t time.Time) {
	c.mu.Lock()
	c.simulated = true
	c.simTime = t
	c.mu.Unlock()
}

// SetSpecific pins the clock to the given time of day, keeping the current
// date (simulated date if already pinned, today otherwise).
func (c *VirtualClock) SetSpecific(hour, minute, second int) {
	c.mu.Lock()
	base := c.simTime
	if !c.simulated {
		base = time.Now()
	}
	y, m, d := base.Date()
	c.simTime = time.Date(y, m, d, hour, minute, second, 0, base.Location())
	c.simulated = true
	c.mu.Unlock()
}

// Advance moves the simulated instant forward by the given number of
// minutes. In real mode the clock is first pinned at the current wall
// instant, then advanced.
func (c *VirtualClock) Advance(minutes int) {
	c.shift(time.Duration(minutes) * time.Minute)
}

// Rewind moves the simulated instant backward by the given number of
// minutes, pinning the clock first when in real mode.
func (c *VirtualClock) Rewind(minutes int) {
	c.shift(-time.Duration(minutes) * time.Minute)
}

func (c *VirtualClock) shift(d time.Duration) {
	c.mu.Lock()
	if !c.simulated {
		c.simTime = time.Now()
		c.simulated = true
	}
	c.simTime = c.simTime.Add(d)
	c.mu.Unlock()
}

// Reset returns the clock to real mode.
func (c *VirtualClock) Reset() {
	c.mu.Lock()
	c.simulated = false
	c.simTime = time.Time{}
	c.mu.Unlock()
}
