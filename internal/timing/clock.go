// Package timing provides the rational tick clock that paces the playout
// engine. All frame-index to time conversions use exact integer arithmetic;
// nothing in this package accumulates floating point error.
package timing

import (
	"fmt"
	"time"
)

// Rational is an exact frame rate expressed as Num/Den frames per second,
// e.g. 30000/1001 for NTSC 29.97.
type Rational struct {
	Num int64
	Den int64
}

// Validate checks that the rational is well-formed.
func (r Rational) Validate() error {
	if r.Num <= 0 || r.Den <= 0 {
		return fmt.Errorf("frame rate must be positive, got %d/%d", r.Num, r.Den)
	}
	return nil
}

// FPS returns the frame rate as a float. For display only; never used in
// scheduling arithmetic.
func (r Rational) FPS() float64 {
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// FramesForMillis returns the number of whole output ticks needed to cover
// durationMs of content at rate r, rounding up. This is the seam-frame
// formula: ceil(ms * num / (den * 1000)).
func FramesForMillis(durationMs int64, r Rational) int64 {
	if durationMs <= 0 {
		return 0
	}
	return ceilDiv(durationMs*r.Num, r.Den*1000)
}

// WaitStrategy abstracts how the tick loop reaches a deadline. Production
// sleeps to the absolute deadline; tests advance instantly so the scheduler
// logic runs identically in both modes.
type WaitStrategy interface {
	// WaitUntil blocks until the deadline has been reached.
	WaitUntil(deadline time.Time)
}

// SleepWait is the production wait strategy: sleep to the absolute deadline.
type SleepWait struct{}

// WaitUntil sleeps until deadline. A deadline already in the past returns
// immediately.
func (SleepWait) WaitUntil(deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}

// InstantWait is the deterministic test strategy: every deadline is
// considered already reached.
type InstantWait struct{}

// WaitUntil returns immediately.
func (InstantWait) WaitUntil(time.Time) {}

// TickClock converts a monotonically increasing frame index into a
// presentation timestamp and an absolute wall-clock deadline.
//
// The PTS timescale is Num ticks per second, so one frame period is exactly
// Den timescale units for any rational rate. Deadlines are computed from the
// start instant every call; there is no accumulated addition to drift.
type TickClock struct {
	fps     Rational
	wait    WaitStrategy
	t0      time.Time
	started bool
}

// NewTickClock creates a clock for the given rate. A nil wait strategy
// defaults to SleepWait.
func NewTickClock(fps Rational, wait WaitStrategy) (*TickClock, error) {
	if err := fps.Validate(); err != nil {
		return nil, err
	}
	if wait == nil {
		wait = SleepWait{}
	}
	return &TickClock{fps: fps, wait: wait}, nil
}

// Start anchors the clock at the current instant. It must be called exactly
// once, before any deadline or wait query.
func (c *TickClock) Start() {
	if c.started {
		panic("timing: TickClock.Start called twice")
	}
	c.t0 = time.Now()
	c.started = true
}

// Started reports whether Start has been called.
func (c *TickClock) Started() bool {
	return c.started
}

// FPS returns the clock's frame rate.
func (c *TickClock) FPS() Rational {
	return c.fps
}

// Timescale returns the number of PTS units per second.
func (c *TickClock) Timescale() int64 {
	return c.fps.Num
}

// FrameDuration returns the duration of one frame in PTS units. This is
// exact: PTS(n+1)-PTS(n) equals this value for every n.
func (c *TickClock) FrameDuration() int64 {
	return c.fps.Den
}

// PTS returns the presentation timestamp of frame n in the clock's
// timescale.
func (c *TickClock) PTS(n int64) int64 {
	return n * c.fps.Den
}

// Deadline returns the absolute wall-clock instant at which frame n is due.
// Computed directly from the start instant with integer arithmetic.
func (c *TickClock) Deadline(n int64) time.Time {
	if !c.started {
		panic("timing: TickClock.Deadline before Start")
	}
	// n*Den seconds divided by Num, split into whole seconds and a
	// sub-second remainder so the intermediate products stay in range.
	num := n * c.fps.Den
	secs := num / c.fps.Num
	rem := num % c.fps.Num
	return c.t0.Add(time.Duration(secs)*time.Second + time.Duration(rem*int64(time.Second)/c.fps.Num))
}

// WaitForTick blocks until frame n's deadline using the configured wait
// strategy.
func (c *TickClock) WaitForTick(n int64) {
	if !c.started {
		panic("timing: TickClock.WaitForTick before Start")
	}
	c.wait.WaitUntil(c.Deadline(n))
}

// SamplesThrough returns the cumulative number of audio samples that belong
// to frames [0, n) at the given sample rate: floor(n * rate * Den / Num).
// Per-tick sample counts derived from consecutive calls distribute rounding
// evenly and never drift from the video timeline.
func (c *TickClock) SamplesThrough(n int64, sampleRate int64) int64 {
	return n * sampleRate * c.fps.Den / c.fps.Num
}
