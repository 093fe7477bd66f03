// Package testutil holds deterministic stand-ins for the host runtime's
// sequence and ID sources.
package testutil

import "sync/atomic"

// DeterministicClock is a host.SeqSource that starts at 0 and can be rewound,
// so a rerun of the same steps sees the same seq values. Safe for concurrent
// use.
type DeterministicClock struct {
	seq atomic.Int64
}

// NewDeterministicClock returns a clock whose first Next is 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock and returns the new value.
func (c *DeterministicClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out, or 0.
func (c *DeterministicClock) Current() int64 {
	return c.seq.Load()
}

// Reset rewinds the clock to 0.
func (c *DeterministicClock) Reset() {
	c.seq.Store(0)
}
