package world

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/component"
	"github.com/yohamta/donburi/filter"
	"github.com/yohamta/donburi/query"

	"duel/protocol"
)

// Input is the action applied to one player for one tick.
type Input struct {
	Action protocol.ActionState
	Inputs protocol.Inputs
	// Synthesized marks a repeat of the last known input standing in for
	// one that never arrived.
	Synthesized bool
}

// ActionSource supplies buffered input. ok is false when the source has
// nothing for the player, in which case the player's last replicated action
// is reused.
type ActionSource interface {
	ActionFor(client protocol.ClientID, tick int64) (in Input, ok bool)
}

var (
	players     = query.NewQuery(filter.Contains(PlayerID, Body, Status))
	bulletQuery = query.NewQuery(filter.Contains(Bullet, Body))
)

// SpawnPlayer creates the bare player entity the server keeps for every
// connected client. Physics is attached later by AttachPhysics.
func (s *Simulation) SpawnPlayer(id protocol.ClientID, visuals protocol.PlayerVisuals) *donburi.Entry {
	e := s.World.Entry(s.World.Create(PlayerID, Name, Visuals, Connection, Position, Rotation))
	*PlayerID.Get(e) = protocol.PlayerID(id)
	*Name.Get(e) = protocol.Name(id.String())
	*Visuals.Get(e) = visuals
	*Connection.Get(e) = protocol.ConnectionState{Online: true}
	*Rotation.Get(e) = protocol.Rotation(mgl32.QuatIdent())
	return e
}

// AttachPhysics gives a player entity its rigid body, weapon, status and a
// default action, placing it at spawn.
func (s *Simulation) AttachPhysics(e *donburi.Entry, spawn mgl32.Vec3) {
	id := protocol.ClientID(*PlayerID.Get(e))
	key := PlayerKey(id)
	set(e, Position, protocol.Position(spawn))
	set(e, Rotation, protocol.Rotation(mgl32.QuatIdent()))
	set(e, LinearVelocity, protocol.LinearVelocity{})
	set(e, AngularVelocity, protocol.AngularVelocity{})
	set(e, Forces, ExternalForces{})
	set(e, Weapon, NewWeapon(&s.Params))
	set(e, Action, protocol.PlayerAction{})
	set(e, Status, NewPlayerStatus())
	set(e, Transform, mgl32.Ident4())
	set(e, Body, PlayerBody(&s.Params, id))
	s.index[key] = e.Entity()
}

// PlayerBody is the capsule every player in play gets.
func PlayerBody(p *Params, id protocol.ClientID) RigidBody {
	return RigidBody{
		Key:          PlayerKey(id),
		Shape:        Shape{Kind: ShapeCapsule, Radius: p.PlayerRadius, Height: p.PlayerHeight},
		Layer:        LayerPlayer,
		Mask:         LayerGround | LayerWall | LayerPlayer | LayerBullet,
		Mass:         p.PlayerMass,
		GravityScale: 1,
	}
}

// DetachPhysics strips the simulation components, leaving the bare player.
func (s *Simulation) DetachPhysics(e *donburi.Entry) {
	if e.HasComponent(Body) {
		delete(s.index, Body.Get(e).Key)
	}
	for _, ct := range []component.IComponentType{LinearVelocity, AngularVelocity, Forces, Weapon, Action, Status, Transform, Body} {
		if e.HasComponent(ct) {
			e.RemoveComponent(ct)
		}
	}
}

// Respawn puts a simulated player back at pos at rest.
func (s *Simulation) Respawn(e *donburi.Entry, pos mgl32.Vec3) {
	*Position.Get(e) = protocol.Position(pos)
	*LinearVelocity.Get(e) = protocol.LinearVelocity{}
	*Forces.Get(e) = ExternalForces{}
	*Status.Get(e) = NewPlayerStatus()
}

func (s *Simulation) sortedPlayers() []*donburi.Entry {
	var list []*donburi.Entry
	players.Each(s.World, func(e *donburi.Entry) {
		list = append(list, e)
	})
	sortByKey(list)
	return list
}

// applyInputs turns each player's action for tick into forces, impulses,
// facing and status requests.
func (s *Simulation) applyInputs(tick int64) {
	dt := s.Params.Dt()
	for _, e := range s.sortedPlayers() {
		id := protocol.ClientID(*PlayerID.Get(e))
		in := Input{Action: protocol.ActionState(*Action.Get(e)).Repeat()}
		if s.Inputs != nil {
			if got, ok := s.Inputs.ActionFor(id, tick); ok {
				in = got
			}
		}
		// Keyboard input is folded into Move so the replicated action alone
		// reproduces the motion on other clients.
		if isZero2(in.Action.Move) && in.Inputs.Kind == protocol.InputDirection {
			in.Action.Move = in.Inputs.Direction.Vec()
		}
		*Action.Get(e) = protocol.PlayerAction(in.Action)

		switch in.Inputs.Kind {
		case protocol.InputSpawn:
			if s.SpawnPoint != nil {
				s.Respawn(e, s.SpawnPoint(id))
			}
			continue
		case protocol.InputDelete:
			s.despawnBulletsOf(id)
		}

		status := Status.Get(e)
		forces := Forces.Get(e)
		if status.BlocksInput() {
			continue
		}

		move := clampDisc(in.Action.Move)
		if status.BlocksMovement() {
			move = mgl32.Vec2{}
		}
		speed, accel := s.Params.MaxSpeed, s.Params.MaxAcceleration
		if status.Kind == StatusDashing {
			speed *= s.Params.DashSpeedFactor
			accel *= s.Params.DashAccelFactor
		}
		target := mgl32.Vec3{move[0], 0, move[1]}.Mul(speed)
		current := horizontal(mgl32.Vec3(*LinearVelocity.Get(e)))
		a := clampLen(target.Sub(current).Mul(1/dt), accel)
		forces.Force = forces.Force.Add(a.Mul(s.Params.PlayerMass))

		if look := in.Action.RotateToCamera; !isZero2(look) {
			*Rotation.Get(e) = protocol.Rotation(yaw(look))
		}

		if in.Action.Jump == protocol.JustPressed && !status.BlocksMovement() {
			if s.grounded(e) {
				forces.Impulse = forces.Impulse.Add(s.Params.JumpImpulse)
			} else if status.AirJumps > 0 {
				status.AirJumps--
				forces.Impulse = forces.Impulse.Add(s.Params.JumpImpulse)
			}
		}
		if in.Action.Dash == protocol.JustPressed && status.Kind != StatusDashing {
			status.Request(StatusDashing, s.Params.DashTicks)
		}
	}
}

// fireWeapons handles Shoot for every player.
func (s *Simulation) fireWeapons(tick int64) {
	for _, e := range s.sortedPlayers() {
		status := Status.Get(e)
		if status.BlocksInput() || !e.HasComponent(Weapon) {
			continue
		}
		if Action.Get(e).Shoot != protocol.JustPressed {
			continue
		}
		if s.fire(e, tick) {
			status.Request(StatusAttacking, s.Params.AttackTicks)
		}
	}
}

// grounded casts a ray from the bottom of the player's capsule.
func (s *Simulation) grounded(e *donburi.Entry) bool {
	rb := Body.Get(e)
	origin := mgl32.Vec3(*Position.Get(e))
	origin[1] -= rb.Shape.bounds()[1]
	_, hit := RayDown(s.World, origin, s.Params.GroundThreshold, rb.Key)
	return hit
}

// updateStatus runs after physics so the new status is first observed by the
// next tick's input stage.
func (s *Simulation) updateStatus() {
	for _, e := range s.sortedPlayers() {
		v := horizontal(mgl32.Vec3(*LinearVelocity.Get(e)))
		st := Status.Get(e)
		*st = st.Transition(&s.Params, s.grounded(e), v.Len())
	}
}

// syncTransforms derives the render transform from position and rotation.
func (s *Simulation) syncTransforms() {
	transforms.Each(s.World, func(e *donburi.Entry) {
		pos := mgl32.Vec3(*Position.Get(e))
		rot := mgl32.Quat(*Rotation.Get(e))
		*Transform.Get(e) = mgl32.Translate3D(pos[0], pos[1], pos[2]).Mul4(rot.Mat4())
	})
}

var transforms = query.NewQuery(filter.Contains(Transform, Position, Rotation))
