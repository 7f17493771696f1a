package world

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"
	"github.com/yohamta/donburi/query"

	"duel/protocol"
)

type Layer uint8

const (
	LayerPlayer Layer = 1 << iota
	LayerGround
	LayerBullet
	LayerWall
)

type ShapeKind uint8

const (
	// ShapeCapsule is upright: a segment of length Height capped by
	// hemispheres of Radius.
	ShapeCapsule ShapeKind = iota
	// ShapeCylinder is upright.
	ShapeCylinder
	ShapeCuboid
)

type Shape struct {
	Kind        ShapeKind
	Radius      float32
	Height      float32
	HalfExtents mgl32.Vec3
}

// bounds is the half size of the shape's axis aligned box.
func (s Shape) bounds() mgl32.Vec3 {
	switch s.Kind {
	case ShapeCapsule:
		return mgl32.Vec3{s.Radius, s.Height/2 + s.Radius, s.Radius}
	case ShapeCylinder:
		return mgl32.Vec3{s.Radius, s.Height / 2, s.Radius}
	}
	return s.HalfExtents
}

type RigidBody struct {
	Key          Key
	Shape        Shape
	Layer        Layer
	Mask         Layer
	Static       bool
	Mass         float32
	GravityScale float32
	// Ignore is never collided with; bullets ignore their owner.
	Ignore Key
}

func (b *RigidBody) interacts(o *RigidBody) bool {
	if b.Ignore == o.Key || o.Ignore == b.Key {
		return false
	}
	return b.Mask&o.Layer != 0 && o.Mask&b.Layer != 0
}

// ExternalForces accumulate during the input stage and are cleared by the
// physics step.
type ExternalForces struct {
	Force   mgl32.Vec3
	Impulse mgl32.Vec3
}

// Contact is a collision observed by a physics step; the hit stage of the
// following tick consumes it.
type Contact struct {
	A, B  Key
	Point mgl32.Vec3
}

type body struct {
	entry  *donburi.Entry
	rb     *RigidBody
	pos    *protocol.Position
	vel    *protocol.LinearVelocity
	forces *ExternalForces
	start  mgl32.Vec3
}

func (b *body) position() mgl32.Vec3 {
	return mgl32.Vec3(*b.pos)
}

var bodies = query.NewQuery(filter.Contains(Body, Position))

// gatherBodies lists every body sorted by key, split into statics and
// dynamics.
func gatherBodies(w donburi.World) (statics, dynamics []*body) {
	bodies.Each(w, func(e *donburi.Entry) {
		b := &body{entry: e, rb: Body.Get(e), pos: Position.Get(e)}
		if e.HasComponent(LinearVelocity) {
			b.vel = LinearVelocity.Get(e)
		}
		if e.HasComponent(Forces) {
			b.forces = Forces.Get(e)
		}
		b.start = b.position()
		if b.rb.Static || b.vel == nil {
			statics = append(statics, b)
		} else {
			dynamics = append(dynamics, b)
		}
	})
	byKey := func(list []*body) {
		sort.Slice(list, func(i, j int) bool { return list[i].rb.Key.Less(list[j].rb.Key) })
	}
	byKey(statics)
	byKey(dynamics)
	return statics, dynamics
}

// stepPhysics integrates every dynamic body by dt with semi-implicit Euler,
// resolves player contacts and sweeps bullets. Bodies are processed in key
// order so two endpoints with equal state produce equal results.
func stepPhysics(w donburi.World, p *Params, dt float32) []Contact {
	statics, dynamics := gatherBodies(w)

	for _, b := range dynamics {
		v := mgl32.Vec3(*b.vel)
		accel := p.Gravity.Mul(b.rb.GravityScale)
		if b.forces != nil {
			if b.rb.Mass > 0 {
				accel = accel.Add(b.forces.Force.Mul(1 / b.rb.Mass))
				v = v.Add(b.forces.Impulse.Mul(1 / b.rb.Mass))
			}
			*b.forces = ExternalForces{}
		}
		v = v.Add(accel.Mul(dt))
		*b.vel = protocol.LinearVelocity(v)
		*b.pos = protocol.Position(b.position().Add(v.Mul(dt)))
	}

	var players, bullets []*body
	for _, b := range dynamics {
		switch b.rb.Layer {
		case LayerPlayer:
			players = append(players, b)
		case LayerBullet:
			bullets = append(bullets, b)
		}
	}

	for _, pl := range players {
		for _, s := range statics {
			if pl.rb.interacts(s.rb) {
				resolveStatic(pl, s)
			}
		}
	}
	for i := 0; i < len(players); i++ {
		for j := i + 1; j < len(players); j++ {
			if players[i].rb.interacts(players[j].rb) {
				separate(players[i], players[j])
			}
		}
	}

	var contacts []Contact
	for _, b := range bullets {
		if c, ok := sweepBullet(b, statics, players); ok {
			contacts = append(contacts, c)
		}
	}
	for i := 0; i < len(bullets); i++ {
		for j := i + 1; j < len(bullets); j++ {
			if c, ok := bulletsMeet(bullets[i], bullets[j]); ok {
				contacts = append(contacts, c)
			}
		}
	}
	return contacts
}

// resolveStatic pushes a dynamic box out of a static box along the axis of
// least penetration and cancels velocity into the surface.
func resolveStatic(d, s *body) {
	dh, sh := d.rb.Shape.bounds(), s.rb.Shape.bounds()
	delta := d.position().Sub(s.position())
	best, depth := -1, float32(math.MaxFloat32)
	for _, axis := range [3]int{1, 0, 2} {
		overlap := dh[axis] + sh[axis] - abs32(delta[axis])
		if overlap <= 0 {
			return
		}
		if overlap < depth {
			best, depth = axis, overlap
		}
	}
	dir := sign32(delta[best])
	pos := d.position()
	pos[best] += dir * depth
	*d.pos = protocol.Position(pos)
	v := mgl32.Vec3(*d.vel)
	if v[best]*dir < 0 {
		v[best] = 0
		*d.vel = protocol.LinearVelocity(v)
	}
}

// separate pushes two upright bodies apart on the ground plane.
func separate(a, b *body) {
	ah, bh := a.rb.Shape.bounds(), b.rb.Shape.bounds()
	delta := b.position().Sub(a.position())
	if abs32(delta[1]) >= ah[1]+bh[1] {
		return
	}
	flat := horizontal(delta)
	dist := flat.Len()
	reach := a.rb.Shape.Radius + b.rb.Shape.Radius
	if dist >= reach {
		return
	}
	normal := mgl32.Vec3{1, 0, 0}
	if dist > 0 {
		normal = flat.Mul(1 / dist)
	}
	push := normal.Mul((reach - dist) / 2)
	*a.pos = protocol.Position(a.position().Sub(push))
	*b.pos = protocol.Position(b.position().Add(push))
}

const maxSweepSteps = 64

// sweepBullet walks the bullet's path this step in increments no longer than
// its radius and reports the first body it touches.
func sweepBullet(b *body, statics, players []*body) (Contact, bool) {
	from, to := b.start, b.position()
	travel := to.Sub(from)
	steps := 1
	if r := b.rb.Shape.Radius; r > 0 {
		steps = int(math.Ceil(float64(travel.Len() / r)))
	}
	if steps < 1 {
		steps = 1
	}
	if steps > maxSweepSteps {
		steps = maxSweepSteps
	}
	bh := b.rb.Shape.bounds()
	for k := 1; k <= steps; k++ {
		p := from.Add(travel.Mul(float32(k) / float32(steps)))
		for _, pl := range players {
			if !b.rb.interacts(pl.rb) {
				continue
			}
			ph := pl.rb.Shape.bounds()
			d := pl.position().Sub(p)
			if horizontal(d).Len() < b.rb.Shape.Radius+pl.rb.Shape.Radius && abs32(d[1]) < bh[1]+ph[1] {
				return Contact{A: b.rb.Key, B: pl.rb.Key, Point: p}, true
			}
		}
		for _, s := range statics {
			if !b.rb.interacts(s.rb) {
				continue
			}
			sh := s.rb.Shape.bounds()
			d := s.position().Sub(p)
			if abs32(d[0]) < sh[0]+bh[0] && abs32(d[1]) < sh[1]+bh[1] && abs32(d[2]) < sh[2]+bh[2] {
				return Contact{A: b.rb.Key, B: s.rb.Key, Point: p}, true
			}
		}
	}
	return Contact{}, false
}

// bulletsMeet tests the closest approach of two bullets over this step.
func bulletsMeet(a, b *body) (Contact, bool) {
	if !a.rb.interacts(b.rb) {
		return Contact{}, false
	}
	rel := a.start.Sub(b.start)
	relv := a.position().Sub(a.start).Sub(b.position().Sub(b.start))
	t := float32(0)
	if vv := relv.Dot(relv); vv > 0 {
		t = -rel.Dot(relv) / vv
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	closest := rel.Add(relv.Mul(t))
	if closest.Len() >= a.rb.Shape.Radius+b.rb.Shape.Radius {
		return Contact{}, false
	}
	point := a.start.Add(a.position().Sub(a.start).Mul(t))
	return Contact{A: a.rb.Key, B: b.rb.Key, Point: point}, true
}

// RayDown casts a ray straight down from origin and returns the distance to
// the nearest ground surface within maxDist.
func RayDown(w donburi.World, origin mgl32.Vec3, maxDist float32, ignore Key) (float32, bool) {
	statics, _ := gatherBodies(w)
	best, hit := maxDist, false
	for _, s := range statics {
		if s.rb.Key == ignore || s.rb.Layer&(LayerGround|LayerWall) == 0 {
			continue
		}
		sh := s.rb.Shape.bounds()
		c := s.position()
		if abs32(origin[0]-c[0]) > sh[0] || abs32(origin[2]-c[2]) > sh[2] {
			continue
		}
		top := c[1] + sh[1]
		dist := origin[1] - top
		if dist < -sh[1] || dist > best {
			continue
		}
		if dist < 0 {
			dist = 0
		}
		best, hit = dist, true
	}
	return best, hit
}
