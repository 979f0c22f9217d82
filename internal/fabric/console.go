package fabric

import "io"

// Console is the shared diagnostic output channel: an acquire/format/
// release discipline, backed by the same priority-inheriting mutex
// primitive as the rest of the fabric, so that concurrent diagnostic
// lines from several tasks never interleave mid-line and a low-priority
// task holding the console cannot indefinitely block a high-priority one.
// The gateway's zerolog logger writes through Console.Write (at the
// lowest priority) so the two concerns compose: zerolog formats the line,
// Console guarantees it lands atomically.
type Console struct {
	mu  *PIMutex
	out io.Writer
}

// NewConsole wraps out with the serialising mutex.
func NewConsole(out io.Writer) *Console {
	return &Console{mu: NewPIMutex(), out: out}
}

// Write implements io.Writer at a default (lowest) priority, making
// *Console itself usable directly as a zerolog output target for tasks
// that don't otherwise care about console contention ordering.
func (c *Console) Write(p []byte) (int, error) {
	return c.WriteAt(0, p)
}

// WriteAt writes p while holding the console lock at the given caller
// priority, so a high-priority task's diagnostic line is never starved
// behind a low-priority one already queued for the console.
func (c *Console) WriteAt(priority int, p []byte) (int, error) {
	c.mu.Lock(priority)
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// WithLock runs fn while holding the console lock at priority, for output
// (e.g. the monitor's multi-line ANSI dashboard) that must not be split
// across writes the way a single zerolog line already isn't.
func (c *Console) WithLock(priority int, fn func(io.Writer)) {
	c.mu.Lock(priority)
	defer c.mu.Unlock()
	fn(c.out)
}
