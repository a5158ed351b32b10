// Package clock provides a clock service as an alternative to calling the
// standard time package directly, so that time-driven logic (the client's
// flush timer) can be tested without real sleeps.  Production code uses SystemClock; tests use SteppingClock.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current time.  In production Now() returns the system
// time; in test it can return a chosen sequence of values.
type Clock interface {
	Now() time.Time
}

// SystemClock satisfies Clock by calling time.Now().
type SystemClock struct{}

// NewSystemClock creates a system clock and returns it as a Clock.
func NewSystemClock() Clock {
	return SystemClock{}
}

// Now returns the system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// SteppingClock returns a given series of time values, one at a time.
// Once it has returned all the values, further calls return the last one.
// Useful for driving a test through a sequence of flush-timer checks
// without sleeping.
type SteppingClock struct {
	mu       sync.Mutex
	times    []time.Time
	nextTime int
}

var _ Clock = (*SteppingClock)(nil)

// NewSteppingClock creates a SteppingClock that will return the given
// times in order.
func NewSteppingClock(times []time.Time) *SteppingClock {
	return &SteppingClock{times: times}
}

// SetTimes replaces the sequence of times to return and resets the cursor.
func (c *SteppingClock) SetTimes(times []time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times = times
	c.nextTime = 0
}

// Now returns the next time value in the sequence.  If the sequence is
// empty it returns the Unix epoch; if exhausted it repeats the last value.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.times) == 0 {
		return time.Unix(0, 0).UTC()
	}
	if c.nextTime >= len(c.times) {
		return c.times[len(c.times)-1]
	}
	t := c.times[c.nextTime]
	c.nextTime++
	return t
}
