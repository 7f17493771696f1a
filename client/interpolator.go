package client

import "duel/protocol"

// InterpolationDelay is how many ticks behind the newest confirmed state
// remote entities are drawn.
const InterpolationDelay = 2

const interpolationSamples = 8

type sample struct {
	tick  int64
	value protocol.Component
}

// Interpolator keeps recent confirmed values of remote entities so they can
// be drawn between two confirmed ticks instead of jumping.
type Interpolator struct {
	samples map[uint64]map[protocol.ComponentKind][]sample
	latest  int64
}

func NewInterpolator() *Interpolator {
	return &Interpolator{
		samples: make(map[uint64]map[protocol.ComponentKind][]sample),
		latest:  -1,
	}
}

// Record stores the confirmed values of entity at tick. Components without
// an interpolation function are ignored.
func (in *Interpolator) Record(entity uint64, tick int64, components []protocol.Component) {
	kinds, ok := in.samples[entity]
	if !ok {
		kinds = make(map[protocol.ComponentKind][]sample)
		in.samples[entity] = kinds
	}
	for _, comp := range components {
		info, ok := protocol.LookupComponent(comp.Kind())
		if !ok || info.Interpolate == nil {
			continue
		}
		list := kinds[comp.Kind()]
		if n := len(list); n > 0 && list[n-1].tick >= tick {
			// Replication groups arrive in order; a repeat tick replaces.
			if list[n-1].tick == tick {
				list[n-1].value = comp
			}
			continue
		}
		list = append(list, sample{tick: tick, value: comp})
		if len(list) > interpolationSamples {
			list = list[len(list)-interpolationSamples:]
		}
		kinds[comp.Kind()] = list
	}
	if tick > in.latest {
		in.latest = tick
	}
}

// RenderTick is the tick remote entities are drawn at; overstep is the
// fraction of a tick since the last fixed step.
func (in *Interpolator) RenderTick(overstep float32) float32 {
	return float32(in.latest-InterpolationDelay) + overstep
}

// Sample returns kind of entity at the fractional tick at, clamped to the
// recorded range.
func (in *Interpolator) Sample(entity uint64, kind protocol.ComponentKind, at float32) (protocol.Component, bool) {
	list := in.samples[entity][kind]
	if len(list) == 0 {
		return nil, false
	}
	if at <= float32(list[0].tick) {
		return list[0].value, true
	}
	for i := 1; i < len(list); i++ {
		a, b := list[i-1], list[i]
		if at > float32(b.tick) {
			continue
		}
		info, _ := protocol.LookupComponent(kind)
		t := (at - float32(a.tick)) / float32(b.tick-a.tick)
		return info.Interpolate(a.value, b.value, t), true
	}
	return list[len(list)-1].value, true
}

func (in *Interpolator) Forget(entity uint64) {
	delete(in.samples, entity)
}
