package host

import "sync/atomic"

// SeqSource stamps runtime events with a strictly increasing sequence number.
// Implemented by Clock and by testutil.DeterministicClock.
type SeqSource interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock. Event order is defined by seq, never by
// wall time.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, e.g. when appending to an
// existing journal.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock's position without advancing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
