package world

// History is a ring of per-tick snapshots. Empty slots carry NilTick.
type History struct {
	states      []Snapshot
	index       int
	currentTick int64
}

func newRing(capacity int) []Snapshot {
	states := make([]Snapshot, capacity)
	for i := range states {
		states[i].Tick = NilTick
	}
	return states
}

func NewHistory(capacity int) *History {
	return &History{
		states:      newRing(capacity),
		currentTick: NilTick,
	}
}

func (h *History) CurrentTick() int64 {
	return h.currentTick
}

// Add stores snap, replacing the oldest slot. Adding a tick not after the
// current one discards every newer snapshot first.
func (h *History) Add(snap Snapshot) {
	if h.currentTick != NilTick && snap.Tick <= h.currentTick {
		h.truncate(snap.Tick)
	}
	index := (h.index + 1) % len(h.states)
	if h.states[h.index].Tick == NilTick {
		index = h.index
	}
	h.index = index
	h.states[index] = snap
	h.currentTick = snap.Tick
}

// truncate drops snapshots at or after tick.
func (h *History) truncate(tick int64) {
	for h.currentTick != NilTick && h.currentTick >= tick {
		h.states[h.index].Tick = NilTick
		h.states[h.index].Bodies = nil
		h.states[h.index].Contacts = nil
		h.index = (h.index - 1 + len(h.states)) % len(h.states)
		h.currentTick = h.states[h.index].Tick
	}
	if h.currentTick == NilTick {
		h.index = 0
	}
}

// At returns the snapshot taken at tick, if it is still held.
func (h *History) At(tick int64) (*Snapshot, bool) {
	if tick == NilTick || tick > h.currentTick {
		return nil, false
	}
	back := h.currentTick - tick
	if back >= int64(len(h.states)) {
		return nil, false
	}
	i := (h.index - int(back) + len(h.states)) % len(h.states)
	if h.states[i].Tick != tick {
		return nil, false
	}
	return &h.states[i], true
}

// Oldest is the earliest tick still held.
func (h *History) Oldest() int64 {
	oldest := NilTick
	for i := range h.states {
		if t := h.states[i].Tick; t != NilTick && (oldest == NilTick || t < oldest) {
			oldest = t
		}
	}
	return oldest
}

func (h *History) Clear() {
	h.states = newRing(len(h.states))
	h.index = 0
	h.currentTick = NilTick
}
