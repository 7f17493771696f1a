package world

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"

	"duel/protocol"
	"duel/utils"
)

// BodyState is the rollback state of one dynamic body.
type BodyState struct {
	Key             Key
	Body            RigidBody
	Position        mgl32.Vec3
	Rotation        mgl32.Quat
	LinearVelocity  mgl32.Vec3
	AngularVelocity mgl32.Vec3

	Weapon    protocol.Weapon
	HasWeapon bool
	Status    PlayerStatus
	HasStatus bool
	Action    protocol.PlayerAction
	HasAction bool
	Bullet    protocol.Bullet
	HasBullet bool
}

// Snapshot is everything needed to resume simulation from the end of Tick.
type Snapshot struct {
	Tick     int64
	Bodies   []BodyState
	Contacts []Contact
}

// Body finds the state stored for key.
func (s *Snapshot) Body(key Key) (*BodyState, bool) {
	i := sort.Search(len(s.Bodies), func(i int) bool { return !s.Bodies[i].Key.Less(key) })
	if i < len(s.Bodies) && s.Bodies[i].Key == key {
		return &s.Bodies[i], true
	}
	return nil, false
}

// Tolerance bounds how far a prediction may drift from the authoritative
// state before it is rolled back.
type Tolerance struct {
	Position float32
	Rotation float32
	Velocity float32
}

var DefaultTolerance = Tolerance{Position: 0.01, Rotation: 0.001, Velocity: 0.01}

// Diverges reports whether a and b differ beyond t.
func (t Tolerance) Diverges(a, b *BodyState) bool {
	switch {
	case !utils.AlmostEqual32(a.Position.Sub(b.Position).Len(), 0, t.Position):
		return true
	case !utils.AlmostEqual32(a.LinearVelocity.Sub(b.LinearVelocity).Len(), 0, t.Velocity):
		return true
	}
	// q and -q are the same rotation.
	return !utils.AlmostEqual32(abs32(a.Rotation.Dot(b.Rotation)), 1, t.Rotation)
}

// Capture records every dynamic body and the pending contacts. Static
// geometry is built identically on both ends and never changes, so it is
// left out.
func (s *Simulation) Capture() Snapshot {
	snap := Snapshot{Tick: s.Clock.Current()}
	bodies.Each(s.World, func(e *donburi.Entry) {
		rb := Body.Get(e)
		if rb.Static || !e.HasComponent(LinearVelocity) {
			return
		}
		b := BodyState{
			Key:            rb.Key,
			Body:           *rb,
			Position:       mgl32.Vec3(*Position.Get(e)),
			Rotation:       mgl32.QuatIdent(),
			LinearVelocity: mgl32.Vec3(*LinearVelocity.Get(e)),
		}
		if e.HasComponent(Rotation) {
			b.Rotation = mgl32.Quat(*Rotation.Get(e))
		}
		if e.HasComponent(AngularVelocity) {
			b.AngularVelocity = mgl32.Vec3(*AngularVelocity.Get(e))
		}
		if e.HasComponent(Weapon) {
			b.Weapon, b.HasWeapon = *Weapon.Get(e), true
		}
		if e.HasComponent(Status) {
			b.Status, b.HasStatus = *Status.Get(e), true
		}
		if e.HasComponent(Action) {
			b.Action, b.HasAction = *Action.Get(e), true
		}
		if e.HasComponent(Bullet) {
			b.Bullet, b.HasBullet = *Bullet.Get(e), true
		}
		snap.Bodies = append(snap.Bodies, b)
	})
	sort.Slice(snap.Bodies, func(i, j int) bool { return snap.Bodies[i].Key.Less(snap.Bodies[j].Key) })
	snap.Contacts = append([]Contact(nil), s.contacts...)
	return snap
}

// Restore puts the world back to snap. Bullets missing from snap are
// despawned and bullets only in snap are recreated. Players missing from
// snap are left alone; their lifecycle is owned by replication.
func (s *Simulation) Restore(snap *Snapshot) {
	var stale []*donburi.Entry
	bulletQuery.Each(s.World, func(e *donburi.Entry) {
		if _, ok := snap.Body(Body.Get(e).Key); !ok {
			stale = append(stale, e)
		}
	})
	for _, e := range stale {
		s.Despawn(e)
	}

	for i := range snap.Bodies {
		b := &snap.Bodies[i]
		e, ok := s.Lookup(b.Key)
		if !ok {
			if !b.HasBullet {
				continue
			}
			e = s.SpawnBullet(b.Bullet, b.Position, b.Rotation, b.LinearVelocity)
		}
		s.restoreBody(e, b)
	}
	s.contacts = append(s.contacts[:0], snap.Contacts...)
}

func (s *Simulation) restoreBody(e *donburi.Entry, b *BodyState) {
	set(e, Body, b.Body)
	set(e, Position, protocol.Position(b.Position))
	set(e, Rotation, protocol.Rotation(b.Rotation))
	set(e, LinearVelocity, protocol.LinearVelocity(b.LinearVelocity))
	set(e, AngularVelocity, protocol.AngularVelocity(b.AngularVelocity))
	set(e, Forces, ExternalForces{})
	if b.HasWeapon {
		set(e, Weapon, b.Weapon)
	}
	if b.HasStatus {
		set(e, Status, b.Status)
	}
	if b.HasAction {
		set(e, Action, b.Action)
	}
	if b.HasBullet {
		set(e, Bullet, b.Bullet)
	}
	s.index[b.Key] = e.Entity()
}

// Divergent lists the confirmed keys whose predicted state differs beyond
// t or was never predicted. Bodies only in predicted are not compared.
func Divergent(predicted, confirmed *Snapshot, t Tolerance) []Key {
	var keys []Key
	for i := range confirmed.Bodies {
		c := &confirmed.Bodies[i]
		p, ok := predicted.Body(c.Key)
		if !ok || t.Diverges(p, c) {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Replay restores snap and re-simulates every tick after it up to through,
// reporting each replayed tick on the clock's rollback tick. When record is
// set it receives the state captured after every replayed tick.
func (s *Simulation) Replay(snap *Snapshot, through int64, record func(Snapshot)) {
	s.Restore(snap)
	for tick := snap.Tick + 1; tick <= through; tick++ {
		s.Clock.BeginRollback(tick)
		s.Step()
		if record != nil {
			record(s.Capture())
		}
	}
	s.Clock.EndRollback()
}
