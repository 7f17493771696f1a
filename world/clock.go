package world

const NilTick int64 = -1

// Clock is the fixed-rate tick counter. During a rollback replay Current
// reports the tick being re-simulated instead of the live one.
type Clock struct {
	tick     int64
	rollback int64
}

func NewClock(start int64) *Clock {
	return &Clock{tick: start, rollback: NilTick}
}

func (c *Clock) Tick() int64 {
	return c.tick
}

func (c *Clock) Current() int64 {
	if c.rollback != NilTick {
		return c.rollback
	}
	return c.tick
}

func (c *Clock) Advance() int64 {
	c.tick++
	return c.tick
}

// Set jumps the live tick, used when the client resynchronizes with the
// server.
func (c *Clock) Set(tick int64) {
	c.tick = tick
}

func (c *Clock) BeginRollback(tick int64) {
	c.rollback = tick
}

func (c *Clock) EndRollback() {
	c.rollback = NilTick
}
