package server

import (
	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/world"
)

// Lifecycle ties each connected client to its Player entity and its
// persisted profile. Profiles outlive connections; entities do not.
type Lifecycle struct {
	sim     *world.Simulation
	store   *FileStore
	bundles protocol.PlayerBundleMap
	players map[protocol.ClientID]donburi.Entity
	metrics *Metrics
	log     *zap.SugaredLogger

	// Changed is set whenever the bundle map changes and cleared by the
	// server after replicating it.
	Changed bool
}

func NewLifecycle(sim *world.Simulation, store *FileStore, bundles protocol.PlayerBundleMap, metrics *Metrics, log *zap.SugaredLogger) *Lifecycle {
	if bundles == nil {
		bundles = protocol.PlayerBundleMap{}
	}
	return &Lifecycle{
		sim:     sim,
		store:   store,
		bundles: bundles,
		players: make(map[protocol.ClientID]donburi.Entity),
		metrics: metrics,
		log:     log,
		Changed: true,
	}
}

// Connect resolves c's profile, creating and persisting a default one on
// first sight, and spawns its Player entity.
func (l *Lifecycle) Connect(c protocol.ClientID) (*donburi.Entry, protocol.PlayerBundle) {
	bundle, ok := l.bundles[c]
	if !ok {
		bundle = protocol.NewPlayerBundle(c)
		l.bundles[c] = bundle
		l.Changed = true
		l.persist()
		l.log.Infow("created profile", "client", c)
	}
	if e, ok := l.Player(c); ok {
		return e, bundle
	}
	e := l.sim.SpawnPlayer(c, bundle.Visuals)
	l.players[c] = e.Entity()
	return e, bundle
}

// Disconnect despawns c's entity. The profile is kept.
func (l *Lifecycle) Disconnect(c protocol.ClientID) {
	if e, ok := l.Player(c); ok {
		l.sim.Despawn(e)
	}
	delete(l.players, c)
}

func (l *Lifecycle) Player(c protocol.ClientID) (*donburi.Entry, bool) {
	id, ok := l.players[c]
	if !ok || !l.sim.World.Valid(id) {
		return nil, false
	}
	return l.sim.World.Entry(id), true
}

// Profile returns the stored profile of c.
func (l *Lifecycle) Profile(c protocol.ClientID) (protocol.PlayerBundle, bool) {
	b, ok := l.bundles[c]
	return b, ok
}

// SaveVisual overwrites c's visuals in the profile and on its entity, then
// persists.
func (l *Lifecycle) SaveVisual(c protocol.ClientID, v protocol.PlayerVisuals) {
	bundle, ok := l.bundles[c]
	if !ok {
		bundle = protocol.NewPlayerBundle(c)
	}
	bundle.Visuals = v
	l.bundles[c] = bundle
	l.Changed = true
	if e, ok := l.Player(c); ok {
		*world.Visuals.Get(e) = v
	}
	l.persist()
}

// SavePlayer persists c's current profile.
func (l *Lifecycle) SavePlayer(c protocol.ClientID) {
	if _, ok := l.bundles[c]; !ok {
		l.log.Warnw("save for unknown profile", "client", c)
		return
	}
	l.persist()
}

// ChangeChar swaps one visual part on c's entity and profile and reports
// whether anything changed. It is persisted by the next SavePlayer.
func (l *Lifecycle) ChangeChar(c protocol.ClientID, oldPart, newPart string) bool {
	bundle, ok := l.bundles[c]
	if !ok || !bundle.Visuals.Replace(oldPart, newPart) {
		return false
	}
	l.bundles[c] = bundle
	l.Changed = true
	if e, ok := l.Player(c); ok {
		*world.Visuals.Get(e) = bundle.Visuals
	}
	return true
}

// SetConnection updates the session flags on c's entity.
func (l *Lifecycle) SetConnection(c protocol.ClientID, update func(*protocol.ConnectionState)) {
	if e, ok := l.Player(c); ok {
		update(world.Connection.Get(e))
	}
}

func (l *Lifecycle) Bundles() protocol.PlayerBundleMap {
	return l.bundles.Clone()
}

func (l *Lifecycle) persist() {
	if l.store == nil {
		return
	}
	if err := l.store.Save(l.bundles); err != nil {
		l.metrics.Inc(&l.metrics.StoreFailures)
		l.log.Errorw("persisting profiles", "err", err)
	}
}

// Flush retries a failed write. The server calls it once a second.
func (l *Lifecycle) Flush() {
	if l.store == nil || !l.store.Dirty() {
		return
	}
	if err := l.store.Flush(); err != nil {
		l.metrics.Inc(&l.metrics.StoreFailures)
		l.log.Errorw("flushing profiles", "err", err)
		return
	}
	l.log.Infow("profiles flushed")
}
