package client

import (
	"math"

	"duel/protocol"
	"duel/world"
)

type correction struct {
	from    map[protocol.ComponentKind]protocol.Component
	elapsed int64
	total   int64
}

// Corrector hides the jump a rollback causes. A corrected entity is drawn
// starting from where it was drawn before the rollback and blends into the
// new prediction over round(factor * rolled ticks) ticks.
type Corrector struct {
	factor float32
	active map[world.Key]*correction
}

func NewCorrector(factor float32) *Corrector {
	return &Corrector{factor: factor, active: make(map[world.Key]*correction)}
}

// Start begins correcting key from the values it was drawn with.
func (c *Corrector) Start(key world.Key, from []protocol.Component, rolled int64) {
	total := int64(math.Round(float64(c.factor) * float64(rolled)))
	if total <= 0 {
		delete(c.active, key)
		return
	}
	corr := &correction{from: make(map[protocol.ComponentKind]protocol.Component, len(from)), total: total}
	for _, comp := range from {
		if info, ok := protocol.LookupComponent(comp.Kind()); ok && info.Correct != nil {
			corr.from[comp.Kind()] = comp
		}
	}
	if len(corr.from) == 0 {
		delete(c.active, key)
		return
	}
	c.active[key] = corr
}

// Tick advances every correction by one tick.
func (c *Corrector) Tick() {
	for key, corr := range c.active {
		corr.elapsed++
		if corr.elapsed >= corr.total {
			delete(c.active, key)
		}
	}
}

// Visual is what to draw for key given its simulated value.
func (c *Corrector) Visual(key world.Key, current protocol.Component) protocol.Component {
	corr, ok := c.active[key]
	if !ok {
		return current
	}
	from, ok := corr.from[current.Kind()]
	if !ok {
		return current
	}
	info, _ := protocol.LookupComponent(current.Kind())
	return info.Correct(from, current, float32(corr.elapsed)/float32(corr.total))
}

func (c *Corrector) Forget(key world.Key) {
	delete(c.active, key)
}
