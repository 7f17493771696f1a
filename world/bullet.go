package world

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"

	"duel/protocol"
)

// PrespawnToken identifies the bullet owner fires at tick. Client and server
// compute it independently, so the server's bullet replaces the predicted
// one instead of appearing twice.
func PrespawnToken(tick int64, owner protocol.ClientID) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(tick))
	binary.LittleEndian.PutUint64(buf[8:], uint64(owner))
	h := fnv.New64a()
	h.Write([]byte("bullet"))
	h.Write(buf[:])
	return h.Sum64()
}

func NewWeapon(p *Params) protocol.Weapon {
	return protocol.Weapon{
		BulletSpeed:   p.BulletSpeed,
		CooldownTicks: p.CooldownTicks,
		LastFireTick:  NilTick,
	}
}

// CanFire applies the cooldown forward only: a fire is rejected for the
// cooldown window after the last one, including the same tick.
func CanFire(w protocol.Weapon, tick int64) bool {
	if w.LastFireTick == NilTick {
		return true
	}
	since := tick - w.LastFireTick
	return since < 0 || since > w.CooldownTicks
}

// fire spawns a bullet for the player in e if its weapon allows it.
func (s *Simulation) fire(e *donburi.Entry, tick int64) bool {
	weapon := Weapon.Get(e)
	if !CanFire(*weapon, tick) {
		return false
	}
	weapon.LastFireTick = tick

	owner := protocol.ClientID(*PlayerID.Get(e))
	rot := mgl32.Quat(*Rotation.Get(e))
	dir := rot.Rotate(forward)
	pos := mgl32.Vec3(*Position.Get(e)).Add(dir.Mul(s.Params.BulletSpawnAhead))
	vel := dir.Mul(weapon.BulletSpeed).Add(mgl32.Vec3(*LinearVelocity.Get(e)))

	s.SpawnBullet(protocol.Bullet{
		Owner:     owner,
		SpawnTick: tick,
		Lifetime:  s.Params.BulletLifetime,
		Token:     PrespawnToken(tick, owner),
	}, pos, rot, vel)
	return true
}

// SpawnBullet creates a bullet body. A bullet with the same token that
// already exists is reused.
func (s *Simulation) SpawnBullet(b protocol.Bullet, pos mgl32.Vec3, rot mgl32.Quat, vel mgl32.Vec3) *donburi.Entry {
	key := BulletKey(b.Token)
	if e, ok := s.Lookup(key); ok {
		return e
	}
	e := s.World.Entry(s.World.Create(Bullet, Position, Rotation, LinearVelocity, AngularVelocity, Body, Forces, Transform))
	*Bullet.Get(e) = b
	*Position.Get(e) = protocol.Position(pos)
	*Rotation.Get(e) = protocol.Rotation(rot)
	*LinearVelocity.Get(e) = protocol.LinearVelocity(vel)
	*Body.Get(e) = BulletBody(&s.Params, b)
	s.index[key] = e.Entity()
	return e
}

// BulletBody is the rigid body every bullet gets.
func BulletBody(p *Params, b protocol.Bullet) RigidBody {
	return RigidBody{
		Key:    BulletKey(b.Token),
		Shape:  Shape{Kind: ShapeCylinder, Radius: p.BulletRadius, Height: p.BulletHeight},
		Layer:  LayerBullet,
		Mask:   LayerPlayer | LayerWall | LayerBullet,
		Mass:   p.BulletMass,
		Ignore: PlayerKey(b.Owner),
	}
}

// expireBullets despawns bullets older than their lifetime.
func (s *Simulation) expireBullets(tick int64) {
	var expired []*donburi.Entry
	bulletQuery.Each(s.World, func(e *donburi.Entry) {
		b := Bullet.Get(e)
		if tick-b.SpawnTick > b.Lifetime {
			expired = append(expired, e)
		}
	})
	for _, e := range expired {
		s.Despawn(e)
	}
}

// despawnBulletsOf removes every live bullet owned by owner.
func (s *Simulation) despawnBulletsOf(owner protocol.ClientID) {
	var owned []*donburi.Entry
	bulletQuery.Each(s.World, func(e *donburi.Entry) {
		if Bullet.Get(e).Owner == owner {
			owned = append(owned, e)
		}
	})
	for _, e := range owned {
		s.Despawn(e)
	}
}
