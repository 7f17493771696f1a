package world

import (
	"sort"

	"github.com/EngoEngine/ecs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/schedule"
)

// Simulation is the deterministic fixed-tick step shared by client and
// server. It owns the entity world and the body index; one goroutine drives
// it.
type Simulation struct {
	World  donburi.World
	Clock  *Clock
	Params Params
	// Inputs feeds per-tick player actions; nil reuses each player's last
	// action.
	Inputs ActionSource
	// SpawnPoint places a player that asks to respawn.
	SpawnPoint func(id protocol.ClientID) mgl32.Vec3
	// OnDespawn runs before an entity leaves the world.
	OnDespawn func(e *donburi.Entry)

	Fixed *schedule.Stage

	log      *zap.SugaredLogger
	index    map[Key]donburi.Entity
	contacts []Contact
	hits     []HitEvent
}

func NewSimulation(params Params, log *zap.SugaredLogger) *Simulation {
	s := &Simulation{
		World:  donburi.NewWorld(),
		Clock:  NewClock(0),
		Params: params,
		log:    log,
		index:  make(map[Key]donburi.Entity),
	}
	s.Fixed = schedule.NewStage("FixedUpdate", s.Systems()...)
	return s
}

// Systems lists the fixed-tick pipeline: the input set (actions, weapons,
// contacts from the previous step, bullet expiry), the physics set (step and
// transform sync) and the status stage.
func (s *Simulation) Systems() []ecs.System {
	return []ecs.System{
		schedule.System("input", 700, func(float32) { s.applyInputs(s.Clock.Current()) }),
		schedule.System("weapons", 600, func(float32) { s.fireWeapons(s.Clock.Current()) }),
		schedule.System("hits", 500, func(float32) { s.resolveContacts(s.Clock.Current()) }),
		schedule.System("bullet-lifetime", 400, func(float32) { s.expireBullets(s.Clock.Current()) }),
		schedule.System("physics", 300, func(float32) { s.contacts = stepPhysics(s.World, &s.Params, s.Params.Dt()) }),
		schedule.System("sync-transform", 200, func(float32) { s.syncTransforms() }),
		schedule.System("status", 100, func(float32) { s.updateStatus() }),
	}
}

// Step simulates the clock's current tick.
func (s *Simulation) Step() {
	s.Fixed.Run(s.Params.Dt())
}

// Advance moves the live clock forward one tick and simulates it.
func (s *Simulation) Advance() int64 {
	tick := s.Clock.Advance()
	s.Step()
	return tick
}

// Lookup finds the entity simulated under key.
func (s *Simulation) Lookup(key Key) (*donburi.Entry, bool) {
	id, ok := s.index[key]
	if !ok || !s.World.Valid(id) {
		return nil, false
	}
	return s.World.Entry(id), true
}

// Despawn removes e from the world, running OnDespawn first.
func (s *Simulation) Despawn(e *donburi.Entry) {
	if !s.World.Valid(e.Entity()) {
		return
	}
	if s.OnDespawn != nil {
		s.OnDespawn(e)
	}
	s.despawnEntry(e)
}

func sortByKey(list []*donburi.Entry) {
	sort.Slice(list, func(i, j int) bool {
		return Body.Get(list[i]).Key.Less(Body.Get(list[j]).Key)
	})
}
