package world

import (
	"sort"

	"duel/protocol"
)

// MaxInputLead is how far past the server tick an input may be scheduled.
// Clients run a few ticks ahead; anything further is dropped.
const MaxInputLead = 8 * InputWindow

type clientInputs struct {
	byTick       map[int64]Input
	last         Input
	lastTick     int64
	disconnected bool
}

// InputQueue stores received inputs per client on the server. A tick
// without a real input reuses the most recent earlier one, with its edges
// settled and flagged as synthesized.
type InputQueue struct {
	clients map[protocol.ClientID]*clientInputs
	// Retain is how many ticks behind the consumed tick are kept.
	Retain int64
	// Lead is how many ticks ahead of now an input is accepted.
	Lead int64

	synthesized uint64
}

func NewInputQueue() *InputQueue {
	return &InputQueue{
		clients: make(map[protocol.ClientID]*clientInputs),
		Retain:  2 * InputWindow,
		Lead:    MaxInputLead,
	}
}

func (q *InputQueue) client(id protocol.ClientID) *clientInputs {
	c, ok := q.clients[id]
	if !ok {
		c = &clientInputs{byTick: make(map[int64]Input), lastTick: NilTick}
		q.clients[id] = c
	}
	return c
}

// Receive stores every entry of msg. Entries for ticks at or before now
// are recorded but never replayed, and entries more than Lead ticks ahead
// of now are dropped. It returns how many entries were new.
func (q *InputQueue) Receive(id protocol.ClientID, msg *protocol.InputMessage, now int64) int {
	c := q.client(id)
	if c.disconnected {
		return 0
	}
	fresh := 0
	start := msg.StartTick()
	for i, action := range msg.Actions {
		tick := start + int64(i)
		if tick < 0 || tick < now-q.Retain || tick > now+q.Lead {
			continue
		}
		in := Input{Action: action}
		if i < len(msg.Inputs) {
			in.Inputs = msg.Inputs[i]
		}
		if existing, ok := c.byTick[tick]; ok && !existing.Synthesized {
			continue
		}
		c.byTick[tick] = in
		fresh++
	}
	return fresh
}

// ActionFor consumes the input for tick.
func (q *InputQueue) ActionFor(id protocol.ClientID, tick int64) (Input, bool) {
	c, ok := q.clients[id]
	if !ok {
		return Input{}, false
	}
	if c.disconnected {
		return Input{Synthesized: true}, true
	}
	in, ok := c.byTick[tick]
	if !ok || in.Synthesized {
		in = Input{Action: c.last.Action.Repeat(), Synthesized: true}
		c.byTick[tick] = in
		q.synthesized++
	}
	if tick >= c.lastTick {
		c.last, c.lastTick = in, tick
	}
	return in, true
}

// Disconnect drops the client's buffered inputs; every later tick gets an
// empty input until Remove.
func (q *InputQueue) Disconnect(id protocol.ClientID) {
	c := q.client(id)
	c.disconnected = true
	c.byTick = make(map[int64]Input)
}

func (q *InputQueue) Remove(id protocol.ClientID) {
	delete(q.clients, id)
}

// Prune forgets inputs older than the retention window behind now.
func (q *InputQueue) Prune(now int64) {
	for _, c := range q.clients {
		for tick := range c.byTick {
			if tick < now-q.Retain {
				delete(c.byTick, tick)
			}
		}
	}
}

// Synthesized reports how many ticks were filled in across all clients.
func (q *InputQueue) Synthesized() uint64 {
	return q.synthesized
}

// Clients lists the clients with a queue, in ascending order.
func (q *InputQueue) Clients() []protocol.ClientID {
	ids := make([]protocol.ClientID, 0, len(q.clients))
	for id := range q.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
