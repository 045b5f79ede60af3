package engine

import "sync/atomic"

// Clock issues the producer-monotonic sequence_time for locally
// produced capsules.
//
// Logical, not wall time: strictly increasing values give deterministic
// ordering within this producer's stream and survive wall-clock jumps.
// Safe for concurrent reads, but the engine's single-writer loop is the
// only caller of Next in practice.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a known position, so a
// restarted node never re-issues a sequence_time at or below its tip's.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Advance moves the clock forward to at least seq. Used when an
// accepted remote capsule carries a later sequence_time than the local
// clock, keeping local production ahead of the tip.
func (c *Clock) Advance(seq int64) {
	for {
		cur := c.seq.Load()
		if cur >= seq || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
