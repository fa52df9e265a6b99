// Package playback drives an index over an interpolated route at a
// wall-clock rate derived from a speed multiplier. The clock is an
// explicit Idle/Playing state machine with deterministic cancellation:
// Stop waits for the loop goroutine, so no orphaned callback keeps
// mutating state after teardown.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/fleetwatch/fleetwatch/libs/geotrack"
)

const (
	// baseWindow is how long a full route takes at multiplier 1.
	baseWindow = 60 * time.Second

	// defaultFrame is the frame granularity; index commits are
	// throttled on top of it.
	defaultFrame = 16 * time.Millisecond
)

// Clock replays an interpolated route.
type Clock struct {
	mu         sync.Mutex
	raw        []geotrack.Sample
	route      []geotrack.Sample
	multiplier float64
	idx        int
	playing    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// frame and window are overridable in tests to keep them fast.
	frame  time.Duration
	window time.Duration

	onAdvance func(index int, s geotrack.Sample)
}

// NewClock builds a clock over the given raw samples. The route is
// interpolated immediately at the given multiplier.
func NewClock(samples []geotrack.Sample, multiplier float64) *Clock {
	if multiplier <= 0 {
		multiplier = 1
	}
	return &Clock{
		raw:        append([]geotrack.Sample(nil), samples...),
		route:      geotrack.BuildRoute(samples, multiplier),
		multiplier: multiplier,
		frame:      defaultFrame,
		window:     baseWindow,
	}
}

// OnAdvance registers the callback fired on every committed index. Set
// it before Play; it runs on the loop goroutine.
func (c *Clock) OnAdvance(fn func(index int, s geotrack.Sample)) {
	c.mu.Lock()
	c.onAdvance = fn
	c.mu.Unlock()
}

// Play starts the loop from the current index. Playing an empty route
// or an already playing clock is a no-op.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing || len(c.route) < 2 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.playing = true
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop cancels the loop and resets the index to the start. Safe to
// call repeatedly and from teardown paths.
func (c *Clock) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.playing = false
	c.idx = 0
	c.mu.Unlock()

	c.wg.Wait()
}

// Seek jumps to an index, clamped into the route bounds. The playing
// state is untouched.
func (c *Clock) Seek(index int) {
	c.mu.Lock()
	c.idx = clamp(index, len(c.route))
	c.mu.Unlock()
}

// SetMultiplier regenerates the route at a new step count and keeps the
// fractional position best-effort. A playing clock is restarted on the
// new route.
func (c *Clock) SetMultiplier(multiplier float64) {
	if multiplier <= 0 {
		multiplier = 1
	}

	c.mu.Lock()
	frac := c.fractionLocked()
	c.multiplier = multiplier
	c.route = geotrack.BuildRoute(c.raw, multiplier)
	c.idx = clamp(int(frac*float64(len(c.route)-1)), len(c.route))

	wasPlaying := c.playing
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.playing = false
	c.mu.Unlock()

	c.wg.Wait()
	if wasPlaying {
		c.Play()
	}
}

// SetRoute replaces the underlying samples, e.g. after a data reload
// mid-playback. The index is clamped; an empty route stops the clock.
func (c *Clock) SetRoute(samples []geotrack.Sample) {
	c.mu.Lock()
	c.raw = append([]geotrack.Sample(nil), samples...)
	c.route = geotrack.BuildRoute(samples, c.multiplier)
	c.idx = clamp(c.idx, len(c.route))

	stop := len(c.route) < 2 && c.playing
	if stop && c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.playing = false
	}
	c.mu.Unlock()

	if stop {
		c.wg.Wait()
	}
}

// Playing reports whether the loop is running.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Index returns the current committed index.
func (c *Clock) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx
}

// Progress returns the fractional position in [0, 1].
func (c *Clock) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fractionLocked()
}

// Current returns the sample under the cursor.
func (c *Clock) Current() (geotrack.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.route) == 0 {
		return geotrack.Sample{}, false
	}
	return c.route[c.idx], true
}

// Route exposes the interpolated route for rendering.
func (c *Clock) Route() []geotrack.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]geotrack.Sample(nil), c.route...)
}

func (c *Clock) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.frame)
	defer ticker.Stop()

	lastCommit := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			if !c.playing {
				c.mu.Unlock()
				return
			}
			if now.Sub(lastCommit) < c.tickLocked() {
				c.mu.Unlock()
				continue
			}
			lastCommit = now

			c.idx++
			if c.idx >= len(c.route) {
				c.idx = len(c.route) - 1
			}
			idx := c.idx
			sample := c.route[idx]
			cb := c.onAdvance
			done := idx == len(c.route)-1
			if done {
				// Reaching the tail auto-stops and rewinds.
				c.idx = 0
				c.playing = false
				if c.cancel != nil {
					c.cancel()
					c.cancel = nil
				}
			}
			c.mu.Unlock()

			if cb != nil {
				cb(idx, sample)
			}
			if done {
				return
			}
		}
	}
}

// tickLocked derives the commit interval: longer routes and higher
// multipliers mean shorter ticks, bounded below by the frame duration.
func (c *Clock) tickLocked() time.Duration {
	n := len(c.route)
	if n < 2 {
		return c.frame
	}
	d := time.Duration(float64(c.window) / (float64(n-1) * c.multiplier))
	if d < c.frame {
		d = c.frame
	}
	return d
}

func (c *Clock) fractionLocked() float64 {
	if len(c.route) < 2 {
		return 0
	}
	return float64(c.idx) / float64(len(c.route)-1)
}

func clamp(i, n int) int {
	if n == 0 {
		return 0
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
