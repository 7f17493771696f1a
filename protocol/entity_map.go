package protocol

// EntityMap translates server entity ids to ids in the local world. Every
// entity reference in an inbound replication group goes through it.
type EntityMap struct {
	toLocal map[uint64]uint64
}

func NewEntityMap() *EntityMap {
	return &EntityMap{toLocal: make(map[uint64]uint64)}
}

func (m *EntityMap) Insert(remote, local uint64) {
	m.toLocal[remote] = local
}

func (m *EntityMap) Local(remote uint64) (uint64, bool) {
	local, ok := m.toLocal[remote]
	return local, ok
}

// Remove forgets remote and returns the local id it mapped to.
func (m *EntityMap) Remove(remote uint64) (uint64, bool) {
	local, ok := m.toLocal[remote]
	if !ok {
		return 0, false
	}
	delete(m.toLocal, remote)
	return local, true
}
