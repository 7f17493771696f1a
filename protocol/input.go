package protocol

import (
	"github.com/go-gl/mathgl/mgl32"

	"duel/wire"
)

type InputKind uint8

const (
	InputNone InputKind = iota
	InputDirection
	InputDelete
	InputSpawn
)

// Direction is the keyboard form of movement.
type Direction struct {
	Up, Down, Left, Right bool
}

// Vec converts the pressed keys to a move axis where up is +Y.
func (d Direction) Vec() mgl32.Vec2 {
	var v mgl32.Vec2
	if d.Up {
		v[1]++
	}
	if d.Down {
		v[1]--
	}
	if d.Right {
		v[0]++
	}
	if d.Left {
		v[0]--
	}
	return v
}

func (d Direction) IsZero() bool {
	return d == Direction{}
}

// Inputs is the tagged input enum; Direction is only meaningful when Kind is
// InputDirection.
type Inputs struct {
	Kind      InputKind
	Direction Direction
}

func (in Inputs) encode(w *wire.Writer) {
	w.Byte(byte(in.Kind))
	if in.Kind == InputDirection {
		var bits byte
		for i, b := range []bool{in.Direction.Up, in.Direction.Down, in.Direction.Left, in.Direction.Right} {
			if b {
				bits |= 1 << i
			}
		}
		w.Byte(bits)
	}
}

func decodeInputs(r *wire.Reader) Inputs {
	in := Inputs{Kind: InputKind(r.Byte())}
	if in.Kind == InputDirection {
		bits := r.Byte()
		in.Direction = Direction{
			Up:    bits&1 != 0,
			Down:  bits&2 != 0,
			Left:  bits&4 != 0,
			Right: bits&8 != 0,
		}
	}
	return in
}

type ButtonState uint8

const (
	Released ButtonState = iota
	JustPressed
	Pressed
	JustReleased
)

// Next derives this tick's state from the previous one and the raw key.
func (b ButtonState) Next(down bool) ButtonState {
	if down {
		if b == JustPressed || b == Pressed {
			return Pressed
		}
		return JustPressed
	}
	if b == JustPressed || b == Pressed {
		return JustReleased
	}
	return Released
}

// settled drops the edge so a repeated state never re-triggers it.
func (b ButtonState) settled() ButtonState {
	switch b {
	case JustPressed:
		return Pressed
	case JustReleased:
		return Released
	}
	return b
}

// ActionState is the per-tick player action: dual axes for movement and
// facing plus buttons.
type ActionState struct {
	Move           mgl32.Vec2
	RotateToCamera mgl32.Vec2
	Jump           ButtonState
	Shoot          ButtonState
	Dash           ButtonState
}

// Repeat is the state the server synthesizes when the real input for a tick
// is missing.
func (a ActionState) Repeat() ActionState {
	a.Jump = a.Jump.settled()
	a.Shoot = a.Shoot.settled()
	a.Dash = a.Dash.settled()
	return a
}

func (a ActionState) encode(w *wire.Writer) {
	writeVec2(w, a.Move)
	writeVec2(w, a.RotateToCamera)
	w.Byte(byte(a.Jump) | byte(a.Shoot)<<2 | byte(a.Dash)<<4)
}

func decodeActionState(r *wire.Reader) ActionState {
	a := ActionState{
		Move:           readVec2(r),
		RotateToCamera: readVec2(r),
	}
	b := r.Byte()
	a.Jump = ButtonState(b & 3)
	a.Shoot = ButtonState(b >> 2 & 3)
	a.Dash = ButtonState(b >> 4 & 3)
	return a
}
