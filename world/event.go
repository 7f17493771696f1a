package world

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"

	"duel/protocol"
)

// HitEvent reports a bullet striking a player other than its owner.
type HitEvent struct {
	Tick     int64
	Owner    protocol.ClientID
	Victim   protocol.ClientID
	Position mgl32.Vec3
}

// resolveContacts applies the contacts left by the previous physics step.
// A contact may list either body first, so both orders are tried.
func (s *Simulation) resolveContacts(tick int64) {
	contacts := s.contacts
	s.contacts = nil
	for _, c := range contacts {
		if !s.resolveContact(tick, c.A, c.B, c.Point) {
			s.resolveContact(tick, c.B, c.A, c.Point)
		}
	}
}

func (s *Simulation) resolveContact(tick int64, bulletKey, otherKey Key, point mgl32.Vec3) bool {
	if bulletKey.Kind != KeyBullet {
		return false
	}
	be, ok := s.Lookup(bulletKey)
	if !ok {
		// Already consumed by an earlier contact this tick.
		return true
	}
	bullet := *Bullet.Get(be)
	other, ok := s.Lookup(otherKey)
	if !ok {
		return true
	}
	switch Body.Get(other).Layer {
	case LayerPlayer:
		victim := protocol.ClientID(*PlayerID.Get(other))
		if victim == bullet.Owner {
			return true
		}
		s.hits = append(s.hits, HitEvent{Tick: tick, Owner: bullet.Owner, Victim: victim, Position: point})
		s.log.Debugw("bullet hit", "tick", tick, "owner", bullet.Owner, "victim", victim)
		s.Despawn(be)
	case LayerWall:
		if owner, ok := s.Lookup(PlayerKey(bullet.Owner)); ok && owner.HasComponent(Status) {
			Status.Get(owner).Bounce()
		}
		s.Despawn(be)
	case LayerBullet:
		s.Despawn(be)
		s.Despawn(other)
	default:
		return false
	}
	return true
}

// DrainHits returns and clears the hits recorded since the last call.
func (s *Simulation) DrainHits() []HitEvent {
	hits := s.hits
	s.hits = nil
	return hits
}

func (s *Simulation) despawnEntry(e *donburi.Entry) {
	if e.HasComponent(Body) {
		delete(s.index, Body.Get(e).Key)
	}
	s.World.Remove(e.Entity())
}
