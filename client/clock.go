package client

import (
	"math"
	"time"
)

// MaxDrift is how many ticks the predicted clock may stray from its target
// before it is reset.
const MaxDrift = 8

// ClockSync keeps the client's tick ahead of the server's by enough that
// inputs reach the server before it simulates them.
type ClockSync struct {
	Step       time.Duration
	InputDelay int64
}

// Target is the tick the client should be on when a message stamped
// serverTick arrives.
func (c ClockSync) Target(serverTick int64, rtt time.Duration) int64 {
	lead := int64(math.Ceil(float64(rtt) / float64(c.Step)))
	return serverTick + lead + c.InputDelay + 2
}

// Drifted reports whether local is too far from the target for serverTick.
func (c ClockSync) Drifted(local, serverTick int64, rtt time.Duration) bool {
	d := local - c.Target(serverTick, rtt)
	return d > MaxDrift || d < -MaxDrift
}
