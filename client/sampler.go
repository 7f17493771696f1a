package client

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"duel/protocol"
)

// InputSource produces the local player's action for a tick.
type InputSource interface {
	Sample(tick int64) (protocol.ActionState, protocol.Inputs)
}

// InputFunc adapts a function into an InputSource.
type InputFunc func(tick int64) (protocol.ActionState, protocol.Inputs)

func (f InputFunc) Sample(tick int64) (protocol.ActionState, protocol.Inputs) {
	return f(tick)
}

// KeyboardSampler reads the keyboard and mouse through ebiten. WASD moves,
// space jumps, the left mouse button shoots, shift dashes, R respawns and X
// clears your bullets. The player faces the cursor.
type KeyboardSampler struct {
	// Width and Height are the screen size, updated from the game layout.
	Width, Height int

	last protocol.ActionState
}

func (k *KeyboardSampler) Sample(int64) (protocol.ActionState, protocol.Inputs) {
	dir := protocol.Direction{
		Up:    ebiten.IsKeyPressed(ebiten.KeyW),
		Down:  ebiten.IsKeyPressed(ebiten.KeyS),
		Left:  ebiten.IsKeyPressed(ebiten.KeyA),
		Right: ebiten.IsKeyPressed(ebiten.KeyD),
	}

	action := protocol.ActionState{
		Move:  dir.Vec(),
		Jump:  k.last.Jump.Next(ebiten.IsKeyPressed(ebiten.KeySpace)),
		Shoot: k.last.Shoot.Next(ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)),
		Dash:  k.last.Dash.Next(ebiten.IsKeyPressed(ebiten.KeyShift)),
	}
	if k.Width > 0 && k.Height > 0 {
		x, y := ebiten.CursorPosition()
		look := mgl32.Vec2{float32(x - k.Width/2), float32(k.Height/2 - y)}
		if look.Len() > 1 {
			action.RotateToCamera = look.Normalize()
		}
	}
	k.last = action

	var inputs protocol.Inputs
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		inputs.Kind = protocol.InputSpawn
	case inpututil.IsKeyJustPressed(ebiten.KeyX):
		inputs.Kind = protocol.InputDelete
	case !dir.IsZero():
		inputs = protocol.Inputs{Kind: protocol.InputDirection, Direction: dir}
	}
	return action, inputs
}
