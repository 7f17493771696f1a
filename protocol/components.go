package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"duel/wire"
)

type ComponentKind uint8

const (
	KindPlayerID ComponentKind = iota + 1
	KindFloorMarker
	KindSunMarker
	KindName
	KindPosition
	KindRotation
	KindLinearVelocity
	KindAngularVelocity
	KindWeapon
	KindPlayerVisuals
	KindPlayerAction
	KindConnectionState
	KindBullet
)

// SyncMode decides how often a component is sent.
type SyncMode uint8

const (
	// SyncOnce components are sent with the entity spawn only.
	SyncOnce SyncMode = iota
	// SyncFull components are resent whenever they change.
	SyncFull
)

// Component is a replicated component value.
type Component interface {
	Kind() ComponentKind
	encode(w *wire.Writer)
}

type PlayerID ClientID
type FloorMarker struct{}
type SunMarker struct{}
type Name string
type Position mgl32.Vec3
type Rotation mgl32.Quat
type LinearVelocity mgl32.Vec3
type AngularVelocity mgl32.Vec3

type Weapon struct {
	BulletSpeed   float32
	CooldownTicks int64
	// LastFireTick is NilTick until the first shot.
	LastFireTick int64
}

type PlayerAction ActionState

// ConnectionState mirrors the server's view of a player's session.
type ConnectionState struct {
	Online    bool
	InGame    bool
	Searching bool
}

// Bullet identifies a projectile; Token is the owner-salted prespawn token.
type Bullet struct {
	Owner     ClientID
	SpawnTick int64
	Lifetime  int64
	Token     uint64
}

func (PlayerID) Kind() ComponentKind        { return KindPlayerID }
func (FloorMarker) Kind() ComponentKind     { return KindFloorMarker }
func (SunMarker) Kind() ComponentKind       { return KindSunMarker }
func (Name) Kind() ComponentKind            { return KindName }
func (Position) Kind() ComponentKind        { return KindPosition }
func (Rotation) Kind() ComponentKind        { return KindRotation }
func (LinearVelocity) Kind() ComponentKind  { return KindLinearVelocity }
func (AngularVelocity) Kind() ComponentKind { return KindAngularVelocity }
func (Weapon) Kind() ComponentKind          { return KindWeapon }
func (PlayerVisuals) Kind() ComponentKind   { return KindPlayerVisuals }
func (PlayerAction) Kind() ComponentKind    { return KindPlayerAction }
func (ConnectionState) Kind() ComponentKind { return KindConnectionState }
func (Bullet) Kind() ComponentKind          { return KindBullet }

func (c PlayerID) encode(w *wire.Writer)        { w.Uvarint(uint64(c)) }
func (FloorMarker) encode(*wire.Writer)         {}
func (SunMarker) encode(*wire.Writer)           {}
func (c Name) encode(w *wire.Writer)            { w.String(string(c)) }
func (c Position) encode(w *wire.Writer)        { writeVec3(w, mgl32.Vec3(c)) }
func (c Rotation) encode(w *wire.Writer)        { writeQuat(w, mgl32.Quat(c)) }
func (c LinearVelocity) encode(w *wire.Writer)  { writeVec3(w, mgl32.Vec3(c)) }
func (c AngularVelocity) encode(w *wire.Writer) { writeVec3(w, mgl32.Vec3(c)) }
func (c PlayerAction) encode(w *wire.Writer)    { ActionState(c).encode(w) }

func (c Weapon) encode(w *wire.Writer) {
	w.Float32(c.BulletSpeed)
	w.Varint(c.CooldownTicks)
	w.Varint(c.LastFireTick)
}

func (c ConnectionState) encode(w *wire.Writer) {
	w.Bool(c.Online)
	w.Bool(c.InGame)
	w.Bool(c.Searching)
}

func (c Bullet) encode(w *wire.Writer) {
	w.Uvarint(uint64(c.Owner))
	w.Varint(c.SpawnTick)
	w.Varint(c.Lifetime)
	w.Uint64(c.Token)
}

// InterpolateFn blends two confirmed values; t is in [0, 1].
type InterpolateFn func(from, to Component, t float32) Component

// ComponentInfo is one declarative registry entry.
type ComponentInfo struct {
	Kind ComponentKind
	Name string
	Sync SyncMode
	// Interpolate renders remote entities between confirmed snapshots.
	Interpolate InterpolateFn
	// Correct smears a rollback snap from the old predicted value toward the
	// new one; nil means snap immediately.
	Correct InterpolateFn
	decode  func(r *wire.Reader) Component
}

func lerpPosition(from, to Component, t float32) Component {
	a, b := mgl32.Vec3(from.(Position)), mgl32.Vec3(to.(Position))
	return Position(a.Add(b.Sub(a).Mul(t)))
}

func lerpRotation(from, to Component, t float32) Component {
	a, b := mgl32.Quat(from.(Rotation)), mgl32.Quat(to.(Rotation))
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return Rotation(mgl32.QuatNlerp(a, b, t))
}

var components = map[ComponentKind]ComponentInfo{
	KindPlayerID: {
		Name: "PlayerId", Sync: SyncOnce,
		decode: func(r *wire.Reader) Component { return PlayerID(r.Uvarint()) },
	},
	KindFloorMarker: {
		Name: "FloorMarker", Sync: SyncOnce,
		decode: func(r *wire.Reader) Component { return FloorMarker{} },
	},
	KindSunMarker: {
		Name: "SunMarker", Sync: SyncOnce,
		decode: func(r *wire.Reader) Component { return SunMarker{} },
	},
	KindName: {
		Name: "Name", Sync: SyncOnce,
		decode: func(r *wire.Reader) Component { return Name(r.String()) },
	},
	KindPosition: {
		Name: "Position", Sync: SyncFull,
		Interpolate: lerpPosition,
		Correct:     lerpPosition,
		decode:      func(r *wire.Reader) Component { return Position(readVec3(r)) },
	},
	KindRotation: {
		Name: "Rotation", Sync: SyncFull,
		Interpolate: lerpRotation,
		Correct:     lerpRotation,
		decode:      func(r *wire.Reader) Component { return Rotation(readQuat(r)) },
	},
	KindLinearVelocity: {
		Name: "LinearVelocity", Sync: SyncFull,
		decode: func(r *wire.Reader) Component { return LinearVelocity(readVec3(r)) },
	},
	KindAngularVelocity: {
		Name: "AngularVelocity", Sync: SyncFull,
		decode: func(r *wire.Reader) Component { return AngularVelocity(readVec3(r)) },
	},
	KindWeapon: {
		Name: "Weapon", Sync: SyncFull,
		decode: func(r *wire.Reader) Component {
			return Weapon{BulletSpeed: r.Float32(), CooldownTicks: r.Varint(), LastFireTick: r.Varint()}
		},
	},
	KindPlayerVisuals: {
		Name: "PlayerVisuals", Sync: SyncFull,
		decode: func(r *wire.Reader) Component { return decodeVisuals(r) },
	},
	KindPlayerAction: {
		Name: "PlayerAction", Sync: SyncFull,
		decode: func(r *wire.Reader) Component { return PlayerAction(decodeActionState(r)) },
	},
	KindConnectionState: {
		Name: "PlayerStateConnection", Sync: SyncFull,
		decode: func(r *wire.Reader) Component {
			return ConnectionState{Online: r.Bool(), InGame: r.Bool(), Searching: r.Bool()}
		},
	},
	KindBullet: {
		Name: "Bullet", Sync: SyncOnce,
		decode: func(r *wire.Reader) Component {
			return Bullet{Owner: ClientID(r.Uvarint()), SpawnTick: r.Varint(), Lifetime: r.Varint(), Token: r.Uint64()}
		},
	},
}

func init() {
	for kind, info := range components {
		info.Kind = kind
		components[kind] = info
	}
}

// LookupComponent returns the registry entry for kind.
func LookupComponent(kind ComponentKind) (ComponentInfo, bool) {
	info, ok := components[kind]
	return info, ok
}

func (k ComponentKind) String() string {
	if info, ok := components[k]; ok {
		return info.Name
	}
	return fmt.Sprintf("component(%d)", uint8(k))
}

func encodeComponents(w *wire.Writer, cs []Component) {
	w.Uvarint(uint64(len(cs)))
	for _, c := range cs {
		w.Byte(byte(c.Kind()))
		c.encode(w)
	}
}

func decodeComponents(r *wire.Reader) ([]Component, error) {
	n := r.Count()
	cs := make([]Component, 0, n)
	for i := 0; i < n; i++ {
		kind := ComponentKind(r.Byte())
		if r.Err() != nil {
			return nil, r.Err()
		}
		info, ok := components[kind]
		if !ok {
			return nil, fmt.Errorf("%w: component %d", ErrUnknownTag, kind)
		}
		cs = append(cs, info.decode(r))
	}
	return cs, r.Err()
}
