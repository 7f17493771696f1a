package client

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/world"
)

// historyTicks bounds how far back a confirmed state can be compared.
const historyTicks = 128

// physicsOwned components of a simulated entity only change through
// rollback; writing them straight into the live world would mix ticks.
var physicsOwned = map[protocol.ComponentKind]bool{
	protocol.KindPosition:        true,
	protocol.KindRotation:        true,
	protocol.KindLinearVelocity:  true,
	protocol.KindAngularVelocity: true,
	protocol.KindWeapon:          true,
	protocol.KindPlayerAction:    true,
	protocol.KindBullet:          true,
}

// bodyOnly components exist only while a player is in play.
var bodyOnly = []protocol.ComponentKind{
	protocol.KindLinearVelocity,
	protocol.KindAngularVelocity,
	protocol.KindWeapon,
	protocol.KindPlayerAction,
}

// confirmedEntity is the latest server state of one replicated entity.
type confirmedEntity struct {
	remote       uint64
	predicted    bool
	interpolated bool
	components   map[protocol.ComponentKind]protocol.Component
}

func (c *confirmedEntity) merge(components []protocol.Component) {
	for _, comp := range components {
		c.components[comp.Kind()] = comp
	}
}

func (c *confirmedEntity) list() []protocol.Component {
	list := make([]protocol.Component, 0, len(c.components))
	for _, comp := range c.components {
		list = append(list, comp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Kind() < list[j].Kind() })
	return list
}

func (c *confirmedEntity) player() (protocol.ClientID, bool) {
	id, ok := c.components[protocol.KindPlayerID].(protocol.PlayerID)
	return protocol.ClientID(id), ok
}

func (c *confirmedEntity) bullet() (protocol.Bullet, bool) {
	b, ok := c.components[protocol.KindBullet].(protocol.Bullet)
	return b, ok
}

func (c *confirmedEntity) key() (world.Key, bool) {
	if id, ok := c.player(); ok {
		return world.PlayerKey(id), true
	}
	if b, ok := c.bullet(); ok {
		return world.BulletKey(b.Token), true
	}
	return world.Key{}, false
}

func (c *confirmedEntity) inGame() bool {
	if _, ok := c.bullet(); ok {
		return true
	}
	conn, _ := c.components[protocol.KindConnectionState].(protocol.ConnectionState)
	return conn.InGame
}

// simulated reports whether the server has a body for the entity.
func (c *confirmedEntity) simulated() bool {
	_, ok := c.components[protocol.KindLinearVelocity]
	return ok && c.inGame()
}

// Predictor runs the local simulation ahead of the server and rolls it back
// whenever the confirmed state disagrees with what was predicted for the
// same tick.
type Predictor struct {
	Sim       *world.Simulation
	Arena     *world.Arena
	Inputs    *world.InputBuffer
	History   *world.History
	Tolerance world.Tolerance
	// Positions mirrors the replicated lobby positions for respawns.
	Positions protocol.LobbyPositionMap

	self      protocol.ClientID
	entities  *protocol.EntityMap
	confirmed map[uint64]*confirmedEntity
	players   map[protocol.ClientID]uint64
	corrector *Corrector
	interp    *Interpolator

	confirmedTick int64
	dirty         bool
	rollbacks     int
	log           *zap.SugaredLogger
}

func NewPredictor(params world.Params, self protocol.ClientID, correctionFactor float32, log *zap.SugaredLogger) *Predictor {
	p := &Predictor{
		Sim:           world.NewSimulation(params, log),
		Inputs:        world.NewInputBuffer(self),
		History:       world.NewHistory(historyTicks),
		Tolerance:     world.DefaultTolerance,
		Positions:     protocol.LobbyPositionMap{},
		self:          self,
		entities:      protocol.NewEntityMap(),
		confirmed:     make(map[uint64]*confirmedEntity),
		players:       make(map[protocol.ClientID]uint64),
		corrector:     NewCorrector(correctionFactor),
		interp:        NewInterpolator(),
		confirmedTick: world.NilTick,
		log:           log,
	}
	p.Arena = p.Sim.BuildArena(world.DefaultMap())
	p.Sim.Inputs = p.Inputs
	p.Sim.SpawnPoint = func(id protocol.ClientID) mgl32.Vec3 {
		return p.Arena.Spawn(p.Positions[id])
	}
	return p
}

func (p *Predictor) Rollbacks() int {
	return p.rollbacks
}

func (p *Predictor) ConfirmedTick() int64 {
	return p.confirmedTick
}

// Step simulates the clock's current tick and records the prediction.
func (p *Predictor) Step() {
	p.Sim.Step()
	p.Sim.DrainHits()
	p.History.Add(p.Sim.Capture())
	p.corrector.Tick()
}

// Resync jumps the live clock to tick. Predictions made on the old clock
// are useless against the new one.
func (p *Predictor) Resync(tick int64) {
	p.log.Infow("clock resync", "from", p.Sim.Clock.Tick(), "to", tick)
	p.Sim.Clock.Set(tick)
	p.History.Clear()
	p.dirty = true
}

// Apply folds one replication group into the confirmed state. The live
// world only sees components that rollback does not own; Reconcile handles
// the rest.
func (p *Predictor) Apply(r *protocol.Replication) {
	for _, s := range r.Spawns {
		p.spawn(s)
	}
	for _, u := range r.Updates {
		c, ok := p.confirmed[u.Entity]
		if !ok {
			p.log.Debugw("update for unknown entity", "entity", u.Entity, "tick", r.Tick)
			continue
		}
		c.merge(u.Components)
		if e, ok := p.local(c); ok {
			p.sync(c, e)
		}
	}
	for _, remote := range r.Despawns {
		p.despawn(remote)
	}

	// Remote players are always drawn interpolated.
	for remote, c := range p.confirmed {
		if id, ok := c.player(); c.interpolated || ok && id != p.self {
			p.interp.Record(remote, r.Tick, c.list())
		}
	}
	if r.Tick > p.confirmedTick {
		p.confirmedTick = r.Tick
	}
	p.dirty = true
}

func (p *Predictor) spawn(s protocol.EntitySpawn) {
	if _, ok := p.confirmed[s.Entity]; ok {
		p.log.Debugw("duplicate spawn", "entity", s.Entity)
		p.despawn(s.Entity)
	}
	c := &confirmedEntity{
		remote:       s.Entity,
		predicted:    s.Predicted,
		interpolated: s.Interpolated,
		components:   make(map[protocol.ComponentKind]protocol.Component, len(s.Components)),
	}
	c.merge(s.Components)
	p.confirmed[s.Entity] = c

	if _, ok := c.components[protocol.KindFloorMarker]; ok {
		// The floor is built locally with the arena.
		p.entities.Insert(s.Entity, world.EntityID(p.Arena.Floor.Entity()))
		return
	}
	if _, ok := c.bullet(); ok {
		// Either a prespawned bullet picks it up or the next rollback
		// creates it at its confirmed state.
		p.local(c)
		return
	}
	if id, ok := c.player(); ok {
		p.players[id] = s.Entity
	}
	var comps []protocol.Component
	for _, comp := range c.list() {
		if !physicsOwned[comp.Kind()] || comp.Kind() == protocol.KindPosition || comp.Kind() == protocol.KindRotation {
			comps = append(comps, comp)
		}
	}
	e := world.Spawn(p.Sim.World, comps)
	p.entities.Insert(s.Entity, world.EntityID(e.Entity()))
	p.sync(c, e)
}

func (p *Predictor) despawn(remote uint64) {
	c, ok := p.confirmed[remote]
	if !ok {
		p.log.Debugw("despawn for unknown entity", "entity", remote)
		return
	}
	if e, ok := p.local(c); ok && e.Entity() != p.Arena.Floor.Entity() {
		if key, ok := c.key(); ok {
			p.corrector.Forget(key)
		}
		p.Sim.Despawn(e)
	}
	if id, ok := c.player(); ok && p.players[id] == remote {
		delete(p.players, id)
	}
	delete(p.confirmed, remote)
	p.entities.Remove(remote)
	p.interp.Forget(remote)
}

// local finds the live entity standing in for c. Bullets are found by their
// prespawn key since a rollback may recreate them.
func (p *Predictor) local(c *confirmedEntity) (*donburi.Entry, bool) {
	if b, ok := c.bullet(); ok {
		e, ok := p.Sim.Lookup(world.BulletKey(b.Token))
		if ok {
			p.entities.Insert(c.remote, world.EntityID(e.Entity()))
		}
		return e, ok
	}
	id, ok := p.entities.Local(c.remote)
	if !ok {
		return nil, false
	}
	ent := donburi.Entity(id)
	if !p.Sim.World.Valid(ent) {
		return nil, false
	}
	return p.Sim.World.Entry(ent), true
}

// sync brings a player's local entity in line with its confirmed state:
// physics comes and goes with play, and components rollback does not own
// are copied over.
func (p *Predictor) sync(c *confirmedEntity, e *donburi.Entry) {
	if _, ok := c.player(); ok {
		switch has := e.HasComponent(world.Body); {
		case c.simulated() && !has:
			pos, _ := c.components[protocol.KindPosition].(protocol.Position)
			p.Sim.AttachPhysics(e, mgl32.Vec3(pos))
		case !c.simulated() && has:
			p.Sim.DetachPhysics(e)
			for _, kind := range bodyOnly {
				delete(c.components, kind)
			}
		}
	}
	simulated := e.HasComponent(world.Body)
	for _, comp := range c.components {
		if simulated && physicsOwned[comp.Kind()] {
			continue
		}
		world.Apply(e, comp)
	}
}

// Reconcile compares the newest confirmed state with the prediction for the
// same tick and rolls back when they disagree. It reports whether a
// rollback happened.
func (p *Predictor) Reconcile() bool {
	if !p.dirty {
		return false
	}
	p.dirty = false
	tick, current := p.confirmedTick, p.Sim.Clock.Tick()
	if tick == world.NilTick || tick > current {
		return false
	}
	predicted, ok := p.History.At(tick)
	if !ok {
		predicted = nil
	}
	confirmed := p.confirmedSnapshot(tick, predicted)
	if predicted != nil {
		diverged := append(world.Divergent(predicted, &confirmed, p.Tolerance), phantoms(predicted, &confirmed)...)
		if len(diverged) == 0 {
			return false
		}
		p.log.Debugw("misprediction", "tick", tick, "current", current, "bodies", diverged)
	}
	p.rollback(&confirmed, current)
	return true
}

// phantoms lists bullets predicted to exist at the snapshot tick that the
// server never confirmed.
func phantoms(predicted, confirmed *world.Snapshot) []world.Key {
	var keys []world.Key
	for i := range predicted.Bodies {
		b := &predicted.Bodies[i]
		if !b.HasBullet || b.Bullet.SpawnTick > predicted.Tick {
			continue
		}
		if _, ok := confirmed.Body(b.Key); !ok {
			keys = append(keys, b.Key)
		}
	}
	return keys
}

// confirmedSnapshot assembles the server's state at tick in snapshot form.
// Local-only state the server does not replicate is taken from the
// prediction for that tick when there is one.
func (p *Predictor) confirmedSnapshot(tick int64, predicted *world.Snapshot) world.Snapshot {
	snap := world.Snapshot{Tick: tick}
	for _, c := range p.confirmed {
		if !c.predicted || !c.simulated() {
			continue
		}
		key, ok := c.key()
		if !ok {
			continue
		}
		b := world.BodyState{Key: key, Rotation: mgl32.QuatIdent()}
		var prev *world.BodyState
		if predicted != nil {
			prev, _ = predicted.Body(key)
		}
		switch e, live := p.local(c); {
		case prev != nil:
			b.Body, b.Status, b.HasStatus = prev.Body, prev.Status, prev.HasStatus
		case live && e.HasComponent(world.Body):
			b.Body = *world.Body.Get(e)
			if e.HasComponent(world.Status) {
				b.Status, b.HasStatus = *world.Status.Get(e), true
			}
		case key.Kind == world.KeyBullet:
			bullet, _ := c.bullet()
			b.Body = world.BulletBody(&p.Sim.Params, bullet)
		default:
			id, _ := c.player()
			b.Body = world.PlayerBody(&p.Sim.Params, id)
			b.Status, b.HasStatus = world.NewPlayerStatus(), true
		}
		for _, comp := range c.components {
			switch v := comp.(type) {
			case protocol.Position:
				b.Position = mgl32.Vec3(v)
			case protocol.Rotation:
				b.Rotation = mgl32.Quat(v)
			case protocol.LinearVelocity:
				b.LinearVelocity = mgl32.Vec3(v)
			case protocol.AngularVelocity:
				b.AngularVelocity = mgl32.Vec3(v)
			case protocol.Weapon:
				b.Weapon, b.HasWeapon = v, true
			case protocol.PlayerAction:
				b.Action, b.HasAction = v, true
			case protocol.Bullet:
				b.Bullet, b.HasBullet = v, true
			}
		}
		snap.Bodies = append(snap.Bodies, b)
	}
	sort.Slice(snap.Bodies, func(i, j int) bool { return snap.Bodies[i].Key.Less(snap.Bodies[j].Key) })
	if predicted != nil {
		snap.Contacts = append(snap.Contacts, predicted.Contacts...)
	}
	return snap
}

// rollback resets the world to confirmed and re-simulates up to current,
// replacing the recorded predictions. Entities that moved get a visual
// correction.
func (p *Predictor) rollback(confirmed *world.Snapshot, current int64) {
	before := make(map[world.Key][]protocol.Component)
	for _, e := range p.bodies() {
		key := world.Body.Get(e).Key
		before[key] = []protocol.Component{
			p.corrector.Visual(key, *world.Position.Get(e)),
			p.corrector.Visual(key, *world.Rotation.Get(e)),
		}
	}

	p.History.Add(*confirmed)
	p.Sim.Replay(confirmed, current, p.History.Add)
	p.Sim.DrainHits()
	p.rollbacks++

	rolled := current - confirmed.Tick
	for _, e := range p.bodies() {
		key := world.Body.Get(e).Key
		from, ok := before[key]
		if !ok {
			continue
		}
		if from[0] == protocol.Component(*world.Position.Get(e)) && from[1] == protocol.Component(*world.Rotation.Get(e)) {
			continue
		}
		p.corrector.Start(key, from, rolled)
	}
	p.log.Debugw("rollback", "from", confirmed.Tick, "to", current, "bodies", len(confirmed.Bodies))
}

// bodies lists the live dynamic bodies.
func (p *Predictor) bodies() []*donburi.Entry {
	var list []*donburi.Entry
	for _, c := range p.confirmed {
		if e, ok := p.local(c); ok && e.HasComponent(world.Body) && !world.Body.Get(e).Static {
			list = append(list, e)
		}
	}
	return list
}

// Player returns the local entity of client id.
func (p *Predictor) Player(id protocol.ClientID) (*donburi.Entry, bool) {
	remote, ok := p.players[id]
	if !ok {
		return nil, false
	}
	c, ok := p.confirmed[remote]
	if !ok {
		return nil, false
	}
	return p.local(c)
}

// Players lists the clients with a replicated player, in id order.
func (p *Predictor) Players() []protocol.ClientID {
	ids := make([]protocol.ClientID, 0, len(p.players))
	for id := range p.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Visual is where to draw client id's player. Remote players are drawn
// interpolated between confirmed ticks, the local one at its corrected
// prediction.
func (p *Predictor) Visual(id protocol.ClientID, overstep float32) (mgl32.Vec3, bool) {
	if id != p.self {
		if remote, ok := p.players[id]; ok {
			if v, ok := p.interp.Sample(remote, protocol.KindPosition, p.interp.RenderTick(overstep)); ok {
				return mgl32.Vec3(v.(protocol.Position)), true
			}
		}
	}
	e, ok := p.Player(id)
	if !ok || !e.HasComponent(world.Position) {
		return mgl32.Vec3{}, false
	}
	pos := *world.Position.Get(e)
	if e.HasComponent(world.Body) {
		pos = p.corrector.Visual(world.Body.Get(e).Key, pos).(protocol.Position)
	}
	return mgl32.Vec3(pos), true
}
