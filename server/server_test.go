package server

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/transport"
	"duel/utils"
	"duel/wire"
	"duel/world"
)

const serverAddr = "server"

// testClient speaks the wire protocol directly so server tests do not
// depend on the client package.
type testClient struct {
	t        *testing.T
	socket   *transport.MemorySocket
	cfg      wire.Config
	conn     *wire.Connection
	id       protocol.ClientID
	denied   string
	dropped  bool
	received []protocol.Message
}

type harness struct {
	t       *testing.T
	cfg     utils.Config
	net     *transport.MemoryNetwork
	server  *Server
	now     time.Time
	clients []*testClient
}

func newHarness(t *testing.T, mode string, store *FileStore, profiles protocol.PlayerBundleMap) *harness {
	t.Helper()
	cfg := utils.DefaultConfig()
	cfg.Common.LobbyMode = mode
	n := transport.NewMemoryNetwork(1)
	sock, err := n.Listen(serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{t: t, cfg: cfg, net: n, now: time.Unix(1000, 0)}
	h.server = NewServer(&h.cfg, sock, store, profiles, zap.NewNop().Sugar())
	return h
}

func (h *harness) step() {
	h.now = h.now.Add(h.server.schedule.Step())
	h.server.Frame(h.now)
	for _, c := range h.clients {
		c.pump(h.now)
	}
}

func (h *harness) steps(n int) {
	for i := 0; i < n; i++ {
		h.step()
	}
}

// connect runs the handshake for a new client asking for id.
func (h *harness) connect(id protocol.ClientID, key string) *testClient {
	h.t.Helper()
	sock, err := h.net.Listen("")
	if err != nil {
		h.t.Fatal(err)
	}
	c := &testClient{t: h.t, socket: sock, cfg: wire.DefaultConfig(h.cfg.Common.ProtocolID)}
	h.clients = append(h.clients, c)
	req := protocol.ConnectRequest{ClientID: id, PrivateKey: key}.Encode()
	c.sendPacket(&wire.Packet{Header: wire.Header{Type: wire.PacketConnectionRequest}, Body: req})
	for i := 0; i < 4 && c.conn == nil && c.denied == ""; i++ {
		h.step()
	}
	return c
}

func (c *testClient) sendPacket(p *wire.Packet) {
	p.ProtocolID = c.cfg.ProtocolID
	if err := c.socket.Send(serverAddr, wire.EncodePacket(p)); err != nil {
		c.t.Fatal(err)
	}
}

func (c *testClient) pump(now time.Time) {
	for _, d := range c.socket.Receive() {
		p, err := wire.DecodePacket(d.Data, c.cfg.ProtocolID)
		if err != nil {
			c.t.Fatalf("client got bad packet: %v", err)
		}
		switch p.Type {
		case wire.PacketConnectionAccept:
			accept, err := protocol.DecodeConnectAccept(p.Body)
			if err != nil {
				c.t.Fatal(err)
			}
			if c.conn == nil {
				c.id = accept.ClientID
				c.conn = wire.NewConnection(c.cfg, now)
			}
		case wire.PacketConnectionDenied:
			denied, err := protocol.DecodeConnectDenied(p.Body)
			if err != nil {
				c.t.Fatal(err)
			}
			c.denied = denied.Reason
		case wire.PacketDisconnect:
			c.dropped = true
		default:
			if c.conn != nil {
				c.conn.Process(p, now)
			}
		}
	}
	if c.conn == nil || c.dropped {
		return
	}
	for _, ch := range []wire.ChannelID{wire.OrderedReliable, wire.UnorderedReliable} {
		for _, b := range c.conn.Receive(ch) {
			msg, err := protocol.DecodeMessage(b, protocol.ClientSide)
			if err != nil {
				c.t.Fatalf("client decode: %v", err)
			}
			c.received = append(c.received, msg)
		}
	}
	packets, err := c.conn.Flush(now)
	if err != nil {
		c.t.Fatalf("client connection: %v", err)
	}
	for _, p := range packets {
		c.sendPacket(p)
	}
}

func (c *testClient) send(msg protocol.Message) {
	if err := c.conn.Send(protocol.ChannelOf(msg), protocol.EncodeMessage(msg)); err != nil {
		c.t.Fatal(err)
	}
}

// take returns and forgets every received message of type T.
func take[T protocol.Message](c *testClient) []T {
	var out []T
	kept := c.received[:0]
	for _, m := range c.received {
		if v, ok := m.(T); ok {
			out = append(out, v)
			continue
		}
		kept = append(kept, m)
	}
	c.received = kept
	return out
}

// latest returns the newest replicated resource of type T.
func latest[T protocol.Resource](c *testClient) (T, bool) {
	var res T
	found := false
	for _, m := range c.received {
		if u, ok := m.(protocol.ResourceUpdate); ok {
			if v, ok := u.Resource.(T); ok {
				res, found = v, true
			}
		}
	}
	return res, found
}

// spawned finds the spawn of the player entity for id in c's replication
// stream.
func spawned(c *testClient, id protocol.ClientID) (protocol.EntitySpawn, bool) {
	for _, m := range c.received {
		r, ok := m.(*protocol.Replication)
		if !ok {
			continue
		}
		for _, s := range r.Spawns {
			for _, comp := range s.Components {
				if p, ok := comp.(protocol.PlayerID); ok && protocol.ClientID(p) == id {
					return s, true
				}
			}
		}
	}
	return protocol.EntitySpawn{}, false
}

func despawned(c *testClient, entity uint64) bool {
	for _, m := range c.received {
		if r, ok := m.(*protocol.Replication); ok {
			for _, d := range r.Despawns {
				if d == entity {
					return true
				}
			}
		}
	}
	return false
}

func TestHandshake(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	key := h.cfg.Common.PrivateKey

	bad := h.connect(0, "wrong")
	if bad.conn != nil || bad.denied == "" {
		t.Fatalf("bad key accepted: denied=%q", bad.denied)
	}

	first := h.connect(0, key)
	if first.conn == nil || first.id != firstClientID {
		t.Fatalf("first client id = %v", first.id)
	}
	asked := h.connect(7, key)
	if asked.id != 7 {
		t.Fatalf("requested id not honored: %v", asked.id)
	}
	taken := h.connect(7, key)
	if taken.id == 7 || taken.id == firstClientID {
		t.Fatalf("duplicate id handed out: %v", taken.id)
	}
	if got := len(h.server.endpoint.Clients()); got != 3 {
		t.Fatalf("%d clients connected", got)
	}
}

func TestConnectCreatesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.bin")
	store, profiles := OpenFileStore(path, zap.NewNop().Sugar())
	h := newHarness(t, utils.LobbyModePrimary, store, profiles)

	c := h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(3)

	bundles := take[protocol.SendBundle](c)
	if len(bundles) != 1 || bundles[0].Profile != protocol.NewPlayerBundle(c.id) {
		t.Fatalf("SendBundle = %+v", bundles)
	}
	m, ok := latest[protocol.PlayerBundleMap](c)
	if !ok || len(m) != 1 || m[c.id].Visuals != protocol.DefaultVisuals() {
		t.Fatalf("replicated bundles = %+v", m)
	}
	spawn, ok := spawned(c, c.id)
	if !ok || !spawn.Predicted {
		t.Fatalf("own player not spawned as predicted: %+v", spawn)
	}
	for _, comp := range spawn.Components {
		if st, ok := comp.(protocol.ConnectionState); ok && (!st.Online || st.InGame) {
			t.Fatalf("connection state = %+v", st)
		}
	}

	_, stored := OpenFileStore(path, zap.NewNop().Sugar())
	if stored[c.id].Visuals != protocol.DefaultVisuals() {
		t.Fatalf("store = %+v", stored)
	}
}

func TestSaveVisual(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.bin")
	store, profiles := OpenFileStore(path, zap.NewNop().Sugar())
	h := newHarness(t, utils.LobbyModePrimary, store, profiles)
	c := h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(2)

	v := protocol.DefaultVisuals()
	v.Head = "knight_head.glb"
	c.send(protocol.SaveVisual{Visuals: v})
	h.steps(3)

	if b, _ := h.server.life.Profile(c.id); b.Visuals != v {
		t.Fatalf("profile visuals = %+v", b.Visuals)
	}
	e, ok := h.server.life.Player(c.id)
	if !ok || *world.Visuals.Get(e) != v {
		t.Fatalf("entity visuals not updated")
	}
	if m, _ := latest[protocol.PlayerBundleMap](c); m[c.id].Visuals != v {
		t.Fatalf("replicated visuals = %+v", m[c.id].Visuals)
	}
	if _, stored := OpenFileStore(path, zap.NewNop().Sugar()); stored[c.id].Visuals != v {
		t.Fatalf("stored visuals = %+v", stored[c.id].Visuals)
	}
}

func TestChangeCharEchoes(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	c := h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(2)

	c.send(protocol.ChangeChar{OldPart: "katana.glb", NewPart: "axe.glb"})
	c.send(protocol.ChangeChar{OldPart: "missing.glb", NewPart: "axe.glb"})
	h.steps(3)

	echoes := take[protocol.ChangeChar](c)
	if len(echoes) != 1 || echoes[0].NewPart != "axe.glb" {
		t.Fatalf("echoes = %+v", echoes)
	}
	if b, _ := h.server.life.Profile(c.id); b.Visuals.Weapon != "axe.glb" {
		t.Fatalf("weapon = %q", b.Visuals.Weapon)
	}
}

func TestPrimaryLobby(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	key := h.cfg.Common.PrivateKey
	c1 := h.connect(0, key)
	c2 := h.connect(0, key)
	h.steps(2)

	c1.send(protocol.EnterLobby{})
	h.steps(3)
	c2.send(protocol.EnterLobby{})
	h.steps(3)

	if starts := take[protocol.StartGame](c1); len(starts) != 1 || starts[0].LobbyID != PrimaryLobby {
		t.Fatalf("c1 StartGame = %+v", starts)
	}
	lobbies, _ := latest[protocol.Lobbies](c2)
	if len(lobbies.Lobbies) != 1 || len(lobbies.Lobbies[0].Players) != 2 ||
		lobbies.Lobbies[0].Players[0] != c1.id || lobbies.Lobbies[0].Players[1] != c2.id {
		t.Fatalf("lobbies = %+v", lobbies)
	}
	positions, _ := latest[protocol.LobbyPositionMap](c2)
	if positions[c1.id] != 0 || positions[c2.id] != 1 {
		t.Fatalf("positions = %+v", positions)
	}

	other, ok := spawned(c1, c2.id)
	if !ok || !other.Predicted {
		t.Fatalf("c1 does not predict c2: %+v, %v", other, ok)
	}
	if _, ok := spawned(c2, c1.id); !ok {
		t.Fatalf("c2 never saw c1")
	}
	e1, _ := h.server.life.Player(c1.id)
	got, want := mgl32.Vec3(*world.Position.Get(e1)), h.server.arena.Spawn(0)
	if got[0] != want[0] || got[2] != want[2] {
		t.Fatalf("c1 spawned at %v, want above %v", got, want)
	}

	c1.send(protocol.ExitLobby{})
	h.steps(3)
	positions, _ = latest[protocol.LobbyPositionMap](c2)
	if len(positions) != 1 || positions[c2.id] != 0 {
		t.Fatalf("positions after exit = %+v", positions)
	}
	if !despawned(c2, world.EntityID(e1.Entity())) {
		t.Fatalf("c2 still sees c1")
	}
	if st := world.Connection.Get(e1); !st.Online || st.InGame {
		t.Fatalf("c1 connection after exit = %+v", st)
	}
	if err := h.server.lobbies.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestLobbyRejectsOtherMode(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	c := h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(2)
	c.send(protocol.SearchMatch{})
	h.steps(3)
	if _, ok := h.server.lobbies.LobbyOf(c.id); ok {
		t.Fatalf("SearchMatch placed a client in primary mode")
	}
	if starts := take[protocol.StartGame](c); len(starts) != 0 {
		t.Fatalf("StartGame sent: %+v", starts)
	}
}

func TestMatchmaking(t *testing.T) {
	h := newHarness(t, utils.LobbyModeMatchmaking, nil, nil)
	key := h.cfg.Common.PrivateKey
	c1 := h.connect(0, key)
	c2 := h.connect(0, key)
	h.steps(2)

	c1.send(protocol.SearchMatch{})
	h.steps(3)
	e1, _ := h.server.life.Player(c1.id)
	if !world.Connection.Get(e1).Searching {
		t.Fatalf("c1 not searching")
	}
	c2.send(protocol.SearchMatch{})
	h.steps(3)

	for _, c := range []*testClient{c1, c2} {
		starts := take[protocol.StartGame](c)
		if len(starts) != 1 {
			t.Fatalf("client %v StartGame = %+v", c.id, starts)
		}
		e, _ := h.server.life.Player(c.id)
		if st := world.Connection.Get(e); st.Searching || !st.InGame {
			t.Fatalf("client %v state = %+v", c.id, st)
		}
	}
	lobby, ok := h.server.lobbies.LobbyOf(c1.id)
	if !ok || lobby.IndexOf(c2.id) < 0 {
		t.Fatalf("clients not paired: %+v", lobby)
	}
}

func TestInputsMovePlayer(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	c := h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(2)
	c.send(protocol.EnterLobby{})
	h.steps(3)

	e, _ := h.server.life.Player(c.id)
	start := mgl32.Vec3(*world.Position.Get(e))
	buf := world.NewInputBuffer(c.id)
	for i := 0; i < 64; i++ {
		tick := h.server.Tick() + 1
		buf.Set(tick, protocol.ActionState{Move: mgl32.Vec2{1, 0}}, protocol.Inputs{})
		c.send(buf.Window(tick + 2))
		h.step()
	}
	if moved := mgl32.Vec3(*world.Position.Get(e)).Sub(start); moved[0] < 1 {
		t.Fatalf("player moved %v", moved)
	}
	if n := h.server.metrics.Snapshot()["inputs_received"].(int64); n == 0 {
		t.Fatalf("no inputs counted")
	}
}

func TestDisconnectKeepsProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.bin")
	store, profiles := OpenFileStore(path, zap.NewNop().Sugar())
	h := newHarness(t, utils.LobbyModePrimary, store, profiles)
	key := h.cfg.Common.PrivateKey

	c := h.connect(42, key)
	h.steps(2)
	v := protocol.DefaultVisuals()
	v.Legs = "robot_legs.glb"
	c.send(protocol.SaveVisual{Visuals: v})
	c.send(protocol.EnterLobby{})
	h.steps(3)

	c.sendPacket(&wire.Packet{Header: wire.Header{Type: wire.PacketDisconnect}})
	h.steps(2)
	if _, ok := h.server.life.Player(42); ok {
		t.Fatalf("player entity survived disconnect")
	}
	if _, ok := h.server.lobbies.LobbyOf(42); ok {
		t.Fatalf("disconnected client still in lobby")
	}
	if b, ok := h.server.life.Profile(42); !ok || b.Visuals != v {
		t.Fatalf("profile lost: %+v", b)
	}

	// A restarted server serves the same profile.
	store2, profiles2 := OpenFileStore(path, zap.NewNop().Sugar())
	h2 := newHarness(t, utils.LobbyModePrimary, store2, profiles2)
	again := h2.connect(42, key)
	h2.steps(2)
	bundles := take[protocol.SendBundle](again)
	if len(bundles) != 1 || bundles[0].Profile.Visuals != v {
		t.Fatalf("profile after restart = %+v", bundles)
	}
}

func TestStrikesDropClient(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	c := h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(2)

	for i := 0; i < MaxStrikes-1; i++ {
		c.conn.Send(wire.OrderedReliable, []byte{wire.Version, 200})
	}
	h.steps(3)
	if c.dropped {
		t.Fatalf("dropped before %d strikes", MaxStrikes)
	}
	c.conn.Send(wire.OrderedReliable, []byte{wire.Version, 200})
	h.steps(3)
	if !c.dropped {
		t.Fatalf("not dropped after %d strikes", MaxStrikes)
	}
	if _, ok := h.server.life.Player(c.id); ok {
		t.Fatalf("player survived the drop")
	}
}

func TestHTTPSurface(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(4)

	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || !strings.HasPrefix(rec.Body.String(), "ok ") {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.server.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	var snap map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if ticks, _ := snap["ticks"].(float64); ticks == 0 {
		t.Fatalf("metrics = %v", snap)
	}
}

func TestMetricsTrackInputGapsAndUnacked(t *testing.T) {
	h := newHarness(t, utils.LobbyModePrimary, nil, nil)
	c := h.connect(0, h.cfg.Common.PrivateKey)
	h.steps(2)
	c.send(protocol.EnterLobby{})
	h.steps(3)

	buf := world.NewInputBuffer(c.id)
	tick := h.server.Tick() + 1
	buf.Set(tick, protocol.ActionState{Move: mgl32.Vec2{1, 0}}, protocol.Inputs{})
	c.send(buf.Window(tick))
	h.steps(20)
	if n := h.server.metrics.Snapshot()["synthesized"].(int64); n < 10 {
		t.Fatalf("synthesized = %d after 20 silent ticks", n)
	}

	// The client stops acking, so replication piles up unacknowledged.
	h.clients = nil
	h.steps(5)
	if n := h.server.metrics.Snapshot()["unacked"].(int64); n == 0 {
		t.Fatalf("no unacked fragments counted")
	}
}
