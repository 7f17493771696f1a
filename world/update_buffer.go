package world

import "duel/protocol"

const (
	// InputWindow is how many trailing ticks every input message repeats.
	InputWindow = 16

	inputCapacity = 128
)

type bufferedInput struct {
	tick   int64
	action protocol.ActionState
	inputs protocol.Inputs
}

// InputBuffer holds the local player's recent actions on the client, keyed
// by the tick they apply to.
type InputBuffer struct {
	client protocol.ClientID
	ring   [inputCapacity]bufferedInput
	last   int64
}

func NewInputBuffer(client protocol.ClientID) *InputBuffer {
	b := &InputBuffer{client: client, last: NilTick}
	for i := range b.ring {
		b.ring[i].tick = NilTick
	}
	return b
}

func (b *InputBuffer) slot(tick int64) *bufferedInput {
	return &b.ring[tick%inputCapacity]
}

// Set records the action for tick, overwriting any earlier one.
func (b *InputBuffer) Set(tick int64, action protocol.ActionState, inputs protocol.Inputs) {
	if tick < 0 {
		return
	}
	*b.slot(tick) = bufferedInput{tick: tick, action: action, inputs: inputs}
	if tick > b.last {
		b.last = tick
	}
}

// Get returns the action buffered for tick.
func (b *InputBuffer) Get(tick int64) (protocol.ActionState, protocol.Inputs, bool) {
	if tick < 0 {
		return protocol.ActionState{}, protocol.Inputs{}, false
	}
	s := b.slot(tick)
	if s.tick != tick {
		return protocol.ActionState{}, protocol.Inputs{}, false
	}
	return s.action, s.inputs, true
}

// Window builds the message carrying the last InputWindow ticks up to end.
// Ticks with nothing buffered repeat the previous known action.
func (b *InputBuffer) Window(end int64) *protocol.InputMessage {
	start := end - InputWindow + 1
	if start < 0 {
		start = 0
	}
	msg := &protocol.InputMessage{EndTick: end}
	var prev protocol.ActionState
	for t := start; t <= end; t++ {
		action, inputs, ok := b.Get(t)
		if !ok {
			action, inputs = prev.Repeat(), protocol.Inputs{}
		}
		msg.Actions = append(msg.Actions, action)
		msg.Inputs = append(msg.Inputs, inputs)
		prev = action
	}
	return msg
}

// ActionFor serves the local player's buffered input to the simulation,
// including during rollback replays.
func (b *InputBuffer) ActionFor(client protocol.ClientID, tick int64) (Input, bool) {
	if client != b.client {
		return Input{}, false
	}
	action, inputs, ok := b.Get(tick)
	if !ok {
		return Input{}, false
	}
	return Input{Action: action, Inputs: inputs}, true
}

// Last is the newest tick buffered.
func (b *InputBuffer) Last() int64 {
	return b.last
}
