// Package protocol is the closed registry shared by client and server:
// messages, replicated components, replicated resources and the input model.
package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"duel/wire"
)

// ClientID is assigned by the server during the handshake and is stable for
// the lifetime of a connection.
type ClientID uint64

func (c ClientID) String() string {
	return fmt.Sprintf("%#x", uint64(c))
}

// LobbyID is a monotonic ordinal; the primary lobby is 0.
type LobbyID uint64

// PlayerVisuals lists the asset keys a player's character is assembled from.
type PlayerVisuals struct {
	Character string
	Head      string
	Torso     string
	Legs      string
	Weapon    string
	Skeleton  string
}

func DefaultVisuals() PlayerVisuals {
	return PlayerVisuals{
		Character: "character_mesh.glb",
		Head:      "suit_head.glb",
		Torso:     "scifi_torso.glb",
		Legs:      "witch_legs.glb",
		Weapon:    "katana.glb",
		Skeleton:  "main_skeleton.glb",
	}
}

// Replace swaps every slot holding oldPart for newPart and reports whether
// anything changed.
func (v *PlayerVisuals) Replace(oldPart, newPart string) bool {
	changed := false
	for _, slot := range []*string{&v.Character, &v.Head, &v.Torso, &v.Legs, &v.Weapon, &v.Skeleton} {
		if *slot == oldPart {
			*slot = newPart
			changed = true
		}
	}
	return changed
}

func (v PlayerVisuals) encode(w *wire.Writer) {
	w.String(v.Character)
	w.String(v.Head)
	w.String(v.Torso)
	w.String(v.Legs)
	w.String(v.Weapon)
	w.String(v.Skeleton)
}

func decodeVisuals(r *wire.Reader) PlayerVisuals {
	return PlayerVisuals{
		Character: r.String(),
		Head:      r.String(),
		Torso:     r.String(),
		Legs:      r.String(),
		Weapon:    r.String(),
		Skeleton:  r.String(),
	}
}

// PlayerBundle is the persisted profile of one client.
type PlayerBundle struct {
	PlayerID ClientID
	Visuals  PlayerVisuals
}

func NewPlayerBundle(id ClientID) PlayerBundle {
	return PlayerBundle{PlayerID: id, Visuals: DefaultVisuals()}
}

func (b PlayerBundle) encode(w *wire.Writer) {
	w.Uvarint(uint64(b.PlayerID))
	b.Visuals.encode(w)
}

func decodeBundle(r *wire.Reader) PlayerBundle {
	return PlayerBundle{
		PlayerID: ClientID(r.Uvarint()),
		Visuals:  decodeVisuals(r),
	}
}

func writeVec2(w *wire.Writer, v mgl32.Vec2) {
	w.Float32(v[0])
	w.Float32(v[1])
}

func readVec2(r *wire.Reader) mgl32.Vec2 {
	return mgl32.Vec2{r.Float32(), r.Float32()}
}

func writeVec3(w *wire.Writer, v mgl32.Vec3) {
	w.Float32(v[0])
	w.Float32(v[1])
	w.Float32(v[2])
}

func readVec3(r *wire.Reader) mgl32.Vec3 {
	return mgl32.Vec3{r.Float32(), r.Float32(), r.Float32()}
}

func writeQuat(w *wire.Writer, q mgl32.Quat) {
	w.Float32(q.W)
	writeVec3(w, q.V)
}

func readQuat(r *wire.Reader) mgl32.Quat {
	return mgl32.Quat{W: r.Float32(), V: readVec3(r)}
}
