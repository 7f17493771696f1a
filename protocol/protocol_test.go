package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/ksuid"

	"duel/wire"
)

func sampleAction() ActionState {
	return ActionState{
		Move:           mgl32.Vec2{0.5, -1},
		RotateToCamera: mgl32.Vec2{0.25, 0.75},
		Jump:           JustPressed,
		Shoot:          Pressed,
		Dash:           JustReleased,
	}
}

func TestMessageRoundTrip(t *testing.T) {
	visuals := DefaultVisuals()
	visuals.Head = "soldier_head.glb"

	var tests = []struct {
		name string
		msg  Message
		side Side
	}{
		{"EnterLobby", EnterLobby{}, ServerSide},
		{"ExitLobby", ExitLobby{}, ServerSide},
		{"SearchMatch", SearchMatch{}, ServerSide},
		{"StopSearch", StopSearch{}, ServerSide},
		{"SavePlayer", SavePlayer{}, ServerSide},
		{"StartGame", StartGame{LobbyID: 3}, ClientSide},
		{"SaveVisual", SaveVisual{Visuals: visuals}, ServerSide},
		{"ChangeChar to server", ChangeChar{OldPart: "suit_head.glb", NewPart: "soldier_head.glb"}, ServerSide},
		{"ChangeChar to client", ChangeChar{OldPart: "katana.glb", NewPart: "axe.glb"}, ClientSide},
		{"SendBundle", SendBundle{Profile: NewPlayerBundle(0x1001)}, ClientSide},
		{"Input", &InputMessage{
			EndTick: 42,
			Actions: []ActionState{sampleAction(), {}},
			Inputs:  []Inputs{{Kind: InputDirection, Direction: Direction{Up: true, Left: true}}, {Kind: InputSpawn}},
		}, ServerSide},
		{"Replication", &Replication{
			Tick: 200,
			Spawns: []EntitySpawn{{
				Entity:    7,
				Predicted: true,
				Components: []Component{
					PlayerID(0x1001),
					Name("c1"),
					Position{1, 2, 3},
					Rotation(mgl32.QuatIdent()),
					LinearVelocity{0, -2, 0},
					AngularVelocity{},
					Weapon{BulletSpeed: 500, CooldownTicks: 12, LastFireTick: -1},
					visuals,
					PlayerAction(sampleAction()),
					ConnectionState{Online: true},
				},
			}},
			Updates:  []EntityUpdate{{Entity: 9, Components: []Component{Position{4, 5, 6}, Bullet{Owner: 2, SpawnTick: 190, Lifetime: 192, Token: 99}}}},
			Despawns: []uint64{11, 12},
		}, ClientSide},
		{"ResourceUpdate lobbies", ResourceUpdate{Resource: Lobbies{Lobbies: []Lobby{{ID: 0, Players: []ClientID{0x1001, 0x1002}}}}}, ClientSide},
		{"ResourceUpdate bundles", ResourceUpdate{Resource: PlayerBundleMap{0x1001: NewPlayerBundle(0x1001)}}, ClientSide},
		{"ResourceUpdate positions", ResourceUpdate{Resource: LobbyPositionMap{0x1001: 0, 0x1002: 1}}, ClientSide},
		{"ResourceUpdate timer", ResourceUpdate{Resource: CycleTimer{Elapsed: 5, Duration: 640, Repeat: true}}, ClientSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage(EncodeMessage(tt.msg), tt.side)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("got %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestComponentsRoundTrip(t *testing.T) {
	cs := []Component{
		PlayerID(5), FloorMarker{}, SunMarker{}, Name("floor"),
		Position{0, -0.25, 0}, Rotation(mgl32.QuatRotate(1, mgl32.Vec3{0, 1, 0})),
		LinearVelocity{1, 0, 0}, AngularVelocity{0, 0, 1},
		Weapon{BulletSpeed: 500, CooldownTicks: 12, LastFireTick: 100},
		DefaultVisuals(), PlayerAction(sampleAction()),
		ConnectionState{Online: true, InGame: true, Searching: true},
		Bullet{Owner: 5, SpawnTick: 10, Lifetime: 192, Token: 1 << 60},
	}
	if len(cs) != len(components) {
		t.Fatalf("test covers %d components, registry has %d", len(cs), len(components))
	}
	w := wire.NewWriter(256)
	encodeComponents(w, cs)
	r := wire.NewReader(w.Data())
	got, err := decodeComponents(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := r.Done(); err != nil {
		t.Fatalf("done: %v", err)
	}
	if !reflect.DeepEqual(got, cs) {
		t.Errorf("got %+v, want %+v", got, cs)
	}
}

func TestDecodeRejectsWrongDirection(t *testing.T) {
	if _, err := DecodeMessage(EncodeMessage(EnterLobby{}), ClientSide); !errors.Is(err, ErrWrongDirection) {
		t.Fatalf("EnterLobby on client: err = %v", err)
	}
	if _, err := DecodeMessage(EncodeMessage(StartGame{}), ServerSide); !errors.Is(err, ErrWrongDirection) {
		t.Fatalf("StartGame on server: err = %v", err)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	if _, err := DecodeMessage([]byte{wire.Version, 200}, ServerSide); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("err = %v", err)
	}
	b := EncodeMessage(&Replication{Tick: 1, Updates: []EntityUpdate{{Entity: 1, Components: []Component{Name("x")}}}})
	// Corrupt the component tag.
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == byte(KindName) {
			b[i] = 250
			break
		}
	}
	if _, err := DecodeMessage(b, ClientSide); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("err = %v", err)
	}
}

func TestBundleMapPersistedForm(t *testing.T) {
	m := PlayerBundleMap{
		0x1001: NewPlayerBundle(0x1001),
		0x1002: {PlayerID: 0x1002, Visuals: PlayerVisuals{Head: "soldier_head.glb"}},
	}
	a, b := EncodeBundleMap(m), EncodeBundleMap(m.Clone())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("encoding is not canonical")
	}
	got, err := DecodeBundleMap(a)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("got %+v, want %+v", got, m)
	}
	if _, err := DecodeBundleMap(a[:len(a)-3]); err == nil {
		t.Errorf("truncated store decoded without error")
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	req := ConnectRequest{ClientID: 0x1001, PrivateKey: "secret"}
	gotReq, err := DecodeConnectRequest(req.Encode())
	if err != nil || gotReq != req {
		t.Fatalf("request: got %+v, %v", gotReq, err)
	}
	acc := ConnectAccept{ClientID: 0x1001, Session: ksuid.New(), ServerTick: 640, TickRate: 64}
	gotAcc, err := DecodeConnectAccept(acc.Encode())
	if err != nil || gotAcc != acc {
		t.Fatalf("accept: got %+v, %v", gotAcc, err)
	}
	den := ConnectDenied{Reason: "bad key"}
	gotDen, err := DecodeConnectDenied(den.Encode())
	if err != nil || gotDen != den {
		t.Fatalf("denied: got %+v, %v", gotDen, err)
	}
}

func TestButtonStateEdges(t *testing.T) {
	var tests = []struct {
		prev ButtonState
		down bool
		want ButtonState
	}{
		{Released, false, Released},
		{Released, true, JustPressed},
		{JustPressed, true, Pressed},
		{Pressed, true, Pressed},
		{Pressed, false, JustReleased},
		{JustReleased, false, Released},
		{JustReleased, true, JustPressed},
	}
	for _, tt := range tests {
		if got := tt.prev.Next(tt.down); got != tt.want {
			t.Errorf("%d.Next(%v) = %d, want %d", tt.prev, tt.down, got, tt.want)
		}
	}

	rep := sampleAction().Repeat()
	if rep.Jump != Pressed || rep.Shoot != Pressed || rep.Dash != Released {
		t.Errorf("Repeat kept an edge: %+v", rep)
	}
}

func TestEntityMapTranslatesReferences(t *testing.T) {
	m := NewEntityMap()
	m.Insert(100, 1)
	m.Insert(101, 2)
	if local, ok := m.Local(100); !ok || local != 1 {
		t.Errorf("Local(100) = %d, %v", local, ok)
	}
	if _, ok := m.Local(555); ok {
		t.Errorf("unknown entity resolved")
	}
	if local, ok := m.Remove(101); !ok || local != 2 {
		t.Errorf("Remove(101) = %d, %v", local, ok)
	}
	if _, ok := m.Local(101); ok {
		t.Errorf("despawned entity still mapped")
	}
	if _, ok := m.Remove(101); ok {
		t.Errorf("second Remove succeeded")
	}

	m.Insert(100, 3)
	if local, ok := m.Local(100); !ok || local != 3 || len(m.toLocal) != 1 {
		t.Errorf("after respawn Local(100) = %d, %v, %d mapped", local, ok, len(m.toLocal))
	}
}

func TestVisualsReplace(t *testing.T) {
	v := DefaultVisuals()
	if !v.Replace("suit_head.glb", "soldier_head.glb") || v.Head != "soldier_head.glb" {
		t.Fatalf("Replace failed: %+v", v)
	}
	if v.Replace("missing.glb", "x.glb") {
		t.Errorf("Replace reported a change for an absent part")
	}
}
