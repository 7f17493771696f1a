package world

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/component"

	"duel/protocol"
)

// Replicated components. Their value types live in the protocol registry so
// that both endpoints agree on layout.
var (
	PlayerID        = donburi.NewComponentType[protocol.PlayerID]()
	Name            = donburi.NewComponentType[protocol.Name]()
	Position        = donburi.NewComponentType[protocol.Position]()
	Rotation        = donburi.NewComponentType[protocol.Rotation]()
	LinearVelocity  = donburi.NewComponentType[protocol.LinearVelocity]()
	AngularVelocity = donburi.NewComponentType[protocol.AngularVelocity]()
	Weapon          = donburi.NewComponentType[protocol.Weapon]()
	Visuals         = donburi.NewComponentType[protocol.PlayerVisuals]()
	Action          = donburi.NewComponentType[protocol.PlayerAction]()
	Connection      = donburi.NewComponentType[protocol.ConnectionState]()
	Bullet          = donburi.NewComponentType[protocol.Bullet]()
	FloorMarker     = donburi.NewTag()
	SunMarker       = donburi.NewTag()
)

// Local components. They never appear on the wire.
var (
	Body      = donburi.NewComponentType[RigidBody]()
	Forces    = donburi.NewComponentType[ExternalForces]()
	Status    = donburi.NewComponentType[PlayerStatus]()
	Transform = donburi.NewComponentType[mgl32.Mat4]()
)

// set adds ct to e when missing and stores v.
func set[T any](e *donburi.Entry, ct *donburi.ComponentType[T], v T) {
	if !e.HasComponent(ct) {
		e.AddComponent(ct)
	}
	*ct.Get(e) = v
}

// Apply writes one replicated component value onto e.
func Apply(e *donburi.Entry, c protocol.Component) {
	switch v := c.(type) {
	case protocol.PlayerID:
		set(e, PlayerID, v)
	case protocol.Name:
		set(e, Name, v)
	case protocol.Position:
		set(e, Position, v)
	case protocol.Rotation:
		set(e, Rotation, v)
	case protocol.LinearVelocity:
		set(e, LinearVelocity, v)
	case protocol.AngularVelocity:
		set(e, AngularVelocity, v)
	case protocol.Weapon:
		set(e, Weapon, v)
	case protocol.PlayerVisuals:
		set(e, Visuals, v)
	case protocol.PlayerAction:
		set(e, Action, v)
	case protocol.ConnectionState:
		set(e, Connection, v)
	case protocol.Bullet:
		set(e, Bullet, v)
	case protocol.FloorMarker:
		if !e.HasComponent(FloorMarker) {
			e.AddComponent(FloorMarker)
		}
	case protocol.SunMarker:
		if !e.HasComponent(SunMarker) {
			e.AddComponent(SunMarker)
		}
	}
}

func componentType(c protocol.Component) component.IComponentType {
	switch c.(type) {
	case protocol.PlayerID:
		return PlayerID
	case protocol.Name:
		return Name
	case protocol.Position:
		return Position
	case protocol.Rotation:
		return Rotation
	case protocol.LinearVelocity:
		return LinearVelocity
	case protocol.AngularVelocity:
		return AngularVelocity
	case protocol.Weapon:
		return Weapon
	case protocol.PlayerVisuals:
		return Visuals
	case protocol.PlayerAction:
		return Action
	case protocol.ConnectionState:
		return Connection
	case protocol.Bullet:
		return Bullet
	case protocol.FloorMarker:
		return FloorMarker
	case protocol.SunMarker:
		return SunMarker
	}
	return nil
}

// Spawn creates an entity from replicated component values.
func Spawn(w donburi.World, components []protocol.Component) *donburi.Entry {
	types := make([]component.IComponentType, 0, len(components))
	for _, c := range components {
		if ct := componentType(c); ct != nil {
			types = append(types, ct)
		}
	}
	if len(types) == 0 {
		types = append(types, Transform)
	}
	e := w.Entry(w.Create(types...))
	for _, c := range components {
		Apply(e, c)
	}
	return e
}

// Gather returns every replicated component present on e in registry order.
func Gather(e *donburi.Entry) []protocol.Component {
	var cs []protocol.Component
	if e.HasComponent(PlayerID) {
		cs = append(cs, *PlayerID.Get(e))
	}
	if e.HasComponent(FloorMarker) {
		cs = append(cs, protocol.FloorMarker{})
	}
	if e.HasComponent(SunMarker) {
		cs = append(cs, protocol.SunMarker{})
	}
	if e.HasComponent(Name) {
		cs = append(cs, *Name.Get(e))
	}
	if e.HasComponent(Position) {
		cs = append(cs, *Position.Get(e))
	}
	if e.HasComponent(Rotation) {
		cs = append(cs, *Rotation.Get(e))
	}
	if e.HasComponent(LinearVelocity) {
		cs = append(cs, *LinearVelocity.Get(e))
	}
	if e.HasComponent(AngularVelocity) {
		cs = append(cs, *AngularVelocity.Get(e))
	}
	if e.HasComponent(Weapon) {
		cs = append(cs, *Weapon.Get(e))
	}
	if e.HasComponent(Visuals) {
		cs = append(cs, *Visuals.Get(e))
	}
	if e.HasComponent(Action) {
		cs = append(cs, *Action.Get(e))
	}
	if e.HasComponent(Connection) {
		cs = append(cs, *Connection.Get(e))
	}
	if e.HasComponent(Bullet) {
		cs = append(cs, *Bullet.Get(e))
	}
	return cs
}

// EntityID converts a local entity to the id carried on the wire.
func EntityID(e donburi.Entity) uint64 {
	return uint64(e)
}
