package server

import (
	"sort"

	"github.com/yohamta/donburi"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/world"
)

// Target selects the clients an entity is replicated to.
type Target struct {
	all  bool
	only map[protocol.ClientID]bool
}

func All() Target {
	return Target{all: true}
}

func Only(ids ...protocol.ClientID) Target {
	t := Target{only: make(map[protocol.ClientID]bool, len(ids))}
	for _, id := range ids {
		t.only[id] = true
	}
	return t
}

func (t Target) Has(c protocol.ClientID) bool {
	return t.all || t.only[c]
}

type replicated struct {
	entity      donburi.Entity
	to          Target
	predict     Target
	interpolate Target
	removed     bool
	// sent holds the last values each client has, by component kind.
	sent map[protocol.ClientID]map[protocol.ComponentKind]protocol.Component
}

// Replicator turns the server world into per-client replication groups.
// Entities are sent whole when they become visible to a client, after that
// only their changed Full components, and a despawn when they stop being
// visible.
type Replicator struct {
	world    donburi.World
	entities map[donburi.Entity]*replicated
	log      *zap.SugaredLogger
}

func NewReplicator(w donburi.World, log *zap.SugaredLogger) *Replicator {
	return &Replicator{
		world:    w,
		entities: make(map[donburi.Entity]*replicated),
		log:      log,
	}
}

// Replicate starts sending e to the clients in to.
func (r *Replicator) Replicate(e donburi.Entity, to, predict, interpolate Target) {
	if rep, ok := r.entities[e]; ok {
		rep.to, rep.predict, rep.interpolate = to, predict, interpolate
		rep.removed = false
		return
	}
	r.entities[e] = &replicated{
		entity:      e,
		to:          to,
		predict:     predict,
		interpolate: interpolate,
		sent:        make(map[protocol.ClientID]map[protocol.ComponentKind]protocol.Component),
	}
}

// Retarget changes who sees e. Clients that lose sight of it get a despawn
// on the next Collect.
func (r *Replicator) Retarget(e donburi.Entity, to, predict Target) {
	if rep, ok := r.entities[e]; ok {
		rep.to, rep.predict = to, predict
	}
}

func (r *Replicator) Replicated(e donburi.Entity) bool {
	rep, ok := r.entities[e]
	return ok && !rep.removed
}

// Forget marks e as gone; every client that has it receives a despawn.
func (r *Replicator) Forget(e donburi.Entity) {
	if rep, ok := r.entities[e]; ok {
		rep.removed = true
	}
}

// Drop clears everything recorded for a disconnected client.
func (r *Replicator) Drop(c protocol.ClientID) {
	for _, rep := range r.entities {
		delete(rep.sent, c)
	}
}

func (r *Replicator) sortedEntities() []*replicated {
	list := make([]*replicated, 0, len(r.entities))
	for _, rep := range r.entities {
		list = append(list, rep)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].entity < list[j].entity })
	return list
}

// Collect builds this tick's replication group for each client. Clients
// with nothing to receive are left out.
func (r *Replicator) Collect(tick int64, clients []protocol.ClientID) map[protocol.ClientID]*protocol.Replication {
	out := make(map[protocol.ClientID]*protocol.Replication, len(clients))
	group := func(c protocol.ClientID) *protocol.Replication {
		g, ok := out[c]
		if !ok {
			g = &protocol.Replication{Tick: tick}
			out[c] = g
		}
		return g
	}

	for _, rep := range r.sortedEntities() {
		id := world.EntityID(rep.entity)
		alive := !rep.removed && r.world.Valid(rep.entity)
		var components []protocol.Component
		if alive {
			components = world.Gather(r.world.Entry(rep.entity))
		}

		for _, c := range clients {
			last, has := rep.sent[c]
			switch {
			case alive && rep.to.Has(c) && !has:
				group(c).Spawns = append(group(c).Spawns, protocol.EntitySpawn{
					Entity:       id,
					Predicted:    rep.predict.Has(c),
					Interpolated: rep.interpolate.Has(c),
					Components:   components,
				})
				rep.sent[c] = record(components)
			case alive && rep.to.Has(c):
				if changed := diff(last, components); len(changed) > 0 {
					group(c).Updates = append(group(c).Updates, protocol.EntityUpdate{Entity: id, Components: changed})
				}
			case has:
				group(c).Despawns = append(group(c).Despawns, id)
				delete(rep.sent, c)
			}
		}
		if !alive && len(rep.sent) == 0 {
			delete(r.entities, rep.entity)
		}
	}

	for c, g := range out {
		if g.Empty() {
			delete(out, c)
		}
	}
	return out
}

func record(components []protocol.Component) map[protocol.ComponentKind]protocol.Component {
	m := make(map[protocol.ComponentKind]protocol.Component, len(components))
	for _, comp := range components {
		m[comp.Kind()] = comp
	}
	return m
}

// diff returns the Full components that differ from what the client has,
// updating last. Components added after spawn are always sent, including
// ones that were removed and added back since.
func diff(last map[protocol.ComponentKind]protocol.Component, components []protocol.Component) []protocol.Component {
	var changed []protocol.Component
	present := make(map[protocol.ComponentKind]bool, len(components))
	for _, comp := range components {
		present[comp.Kind()] = true
		prev, ok := last[comp.Kind()]
		if ok {
			if info, _ := protocol.LookupComponent(comp.Kind()); info.Sync == protocol.SyncOnce || prev == comp {
				continue
			}
		}
		last[comp.Kind()] = comp
		changed = append(changed, comp)
	}
	for kind := range last {
		if !present[kind] {
			delete(last, kind)
		}
	}
	return changed
}
