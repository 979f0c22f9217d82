package fabric

import "time"

// Clock exposes ms-resolution monotonic time and drift-free periodic
// wake-ups. Producers use SleepUntil with a rolling absolute deadline
// (next += period) rather than time.Sleep(period), so processing jitter
// in one tick never accumulates into the next.
type Clock struct {
	start time.Time
}

// NewClock starts a monotonic clock at "now".
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// NowMs returns milliseconds elapsed since the clock was created.
func (c *Clock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// SleepUntil blocks until the absolute instant deadline, returning
// immediately if it has already passed (a late tick is not made up for;
// the next deadline is still computed from the un-shifted period by the
// caller).
func (c *Clock) SleepUntil(deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}
