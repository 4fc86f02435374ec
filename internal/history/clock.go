package history

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing timestamps at microsecond resolution,
// matching what a Postgres timestamptz column stores.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a Clock reading the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns max(wall clock, previous+1µs) in UTC.
func (c *Clock) Now() time.Time {
	for {
		prev := c.last.Load()
		next := c.now().UnixMicro()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return time.UnixMicro(next).UTC()
		}
	}
}
