package vprog

import (
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/asyncgas/engine/internal/scheduler"
)

// GatherCache is the per-vid optional accumulator store (spec.md §3's gather
// cache): readable only when HasCache(v) is true, writable only through
// Set (by the GAS executor at the end of gather) and Add/Clear (by the Context operations a vertex program
// gets during scatter). Guarded by its own mutex even though the scheduler's
// neighbourhood exclusion already serializes writers per vid, because Go map
// writes to distinct keys from different goroutines are still a data race at
// the runtime level.
type GatherCache[G Monoid[G]] struct {
	mu       sync.Mutex
	values   map[int]G
	hasCache map[int]bool
}

// NewGatherCache creates an empty cache.
func NewGatherCache[G Monoid[G]]() *GatherCache[G] {
	return &GatherCache[G]{
		values:   make(map[int]G),
		hasCache: make(map[int]bool),
	}
}

// Get returns the cached accumulator for v and whether it is valid.
func (c *GatherCache[G]) Get(v int) (G, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasCache[v] {
		var zero G
		return zero, false
	}
	return c.values[v], true
}

// Set is called by the GAS executor at the end of a cache-miss gather to
// record the accumulator it just computed as the new cached value.
func (c *GatherCache[G]) Set(v int, val G) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[v] = val
	c.hasCache[v] = true
}

// Add folds d into v's cached accumulator via Monoid.Add, if and only if a
// cached value already exists — this is post_delta from spec.md §4.4.
func (c *GatherCache[G]) Add(v int, d G) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasCache[v] {
		return
	}
	c.values[v] = c.values[v].Add(d)
}

// Clear invalidates v's cached accumulator. This performs an assignment, not
// a comparison — the original's `==` typo (spec.md §9) is not reproduced.
func (c *GatherCache[G]) Clear(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasCache[v] = false
}

// Context is what a vertex program's Apply and Scatter receive: the signal
// and gather-cache operations of spec.md §4.4, plus a clock-backed time
// source so a program that wants to simulate delay (spec.md §8 scenario 3)
// can be driven deterministically in tests instead of calling time.Sleep.
type Context[VD, ED any, G Monoid[G]] struct {
	sched     *scheduler.Scheduler
	cache     *GatherCache[G]
	cachingOn bool
	clk       clock.Clock
}

// NewContext wires a Context to the scheduler and gather cache an Engine
// owns. cachingOn mirrors engine.Config.EnableCaching: when false, PostDelta
// and ClearGatherCache are no-ops, matching "if caching enabled" in spec.md
// §4.4.
func NewContext[VD, ED any, G Monoid[G]](sched *scheduler.Scheduler, cache *GatherCache[G], cachingOn bool, clk clock.Clock) *Context[VD, ED, G] {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Context[VD, ED, G]{sched: sched, cache: cache, cachingOn: cachingOn, clk: clk}
}

// Signal schedules v for (re-)execution.
func (c *Context[VD, ED, G]) Signal(v int) { c.sched.InternalSignal(v) }

// PostDelta folds d into v's cached accumulator, if caching is enabled and v
// currently has one.
func (c *Context[VD, ED, G]) PostDelta(v int, d G) {
	if !c.cachingOn {
		return
	}
	c.cache.Add(v, d)
}

// ClearGatherCache invalidates v's cached accumulator, if caching is enabled.
func (c *Context[VD, ED, G]) ClearGatherCache(v int) {
	if !c.cachingOn {
		return
	}
	c.cache.Clear(v)
}

// Now returns the injected clock's current time.
func (c *Context[VD, ED, G]) Now() time.Time { return c.clk.Now() }

// After returns a channel that fires once d has elapsed on the injected
// clock, letting a vertex program simulate delay without calling time.Sleep
// directly.
func (c *Context[VD, ED, G]) After(d time.Duration) <-chan time.Time { return c.clk.After(d) }
