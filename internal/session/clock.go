package session

import (
	"sync/atomic"
	"time"
)

// seqClock hands out outgoing sequence numbers. One counter is shared by
// every outgoing message and every pending-event token in a session, so a
// number identifies exactly one prior send. The first value is 1.
type seqClock struct {
	seq atomic.Uint64
}

// Next returns the next sequence number.
func (c *seqClock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *seqClock) Current() uint64 {
	return c.seq.Load()
}

// Clock is the monotonic time source for engine time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. time.Now carries a monotonic reading,
// so elapsed times computed with Sub are immune to wall-clock jumps.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}
