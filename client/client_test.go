package client

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/server"
	"duel/transport"
	"duel/utils"
	"duel/world"
)

const serverAddr = "server"

// network runs a real server and clients over the in-memory transport,
// all stepped by the same clock.
type network struct {
	t       *testing.T
	cfg     utils.Config
	net     *transport.MemoryNetwork
	server  *server.Server
	clients []*Client
	tick    time.Duration
	now     time.Time
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	cfg := utils.DefaultConfig()
	n := transport.NewMemoryNetwork(1)
	sock, err := n.Listen(serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	nw := &network{
		t:    t,
		cfg:  cfg,
		net:  n,
		tick: world.DefaultParams(cfg.Common.TickRate).TickDuration(),
		now:  time.Unix(1000, 0),
	}
	nw.server = server.NewServer(&nw.cfg, sock, nil, protocol.PlayerBundleMap{}, zap.NewNop().Sugar())
	return nw
}

func (n *network) client(id protocol.ClientID, key string, source InputSource) *Client {
	n.t.Helper()
	sock, err := n.net.Listen("")
	if err != nil {
		n.t.Fatal(err)
	}
	cfg := n.cfg
	cfg.Client.ClientID = uint64(id)
	cfg.Common.PrivateKey = key
	return NewClient(&cfg, sock, serverAddr, source, zap.NewNop().Sugar())
}

// join connects a client asking for id and waits for the handshake.
func (n *network) join(id protocol.ClientID, source InputSource) *Client {
	n.t.Helper()
	c := n.client(id, n.cfg.Common.PrivateKey, source)
	n.clients = append(n.clients, c)
	for i := 0; i < 10 && !c.Connected(); i++ {
		n.step()
	}
	if !c.Connected() || c.ID() != id {
		n.t.Fatalf("client %d did not connect", id)
	}
	return c
}

func (n *network) step() {
	n.t.Helper()
	n.now = n.now.Add(n.tick)
	n.server.Frame(n.now)
	for _, c := range n.clients {
		if err := c.Frame(n.now); err != nil {
			n.t.Fatalf("client %s: %v", c.ID(), err)
		}
	}
}

func (n *network) steps(count int) {
	n.t.Helper()
	for i := 0; i < count; i++ {
		n.step()
	}
}

func (n *network) serverPosition(id protocol.ClientID) mgl32.Vec3 {
	n.t.Helper()
	e, ok := n.server.Player(id)
	if !ok || !e.HasComponent(world.Body) {
		n.t.Fatalf("server has no body for %s", id)
	}
	return mgl32.Vec3(*world.Position.Get(e))
}

// assertConverged checks that every client predicts every player where the
// server has it.
func (n *network) assertConverged(ids ...protocol.ClientID) {
	n.t.Helper()
	for _, id := range ids {
		want := n.serverPosition(id)
		for _, c := range n.clients {
			e, ok := c.Predictor().Player(id)
			if !ok || !e.HasComponent(world.Body) {
				n.t.Fatalf("client %s has no body for %s", c.ID(), id)
			}
			if got := mgl32.Vec3(*world.Position.Get(e)); got.Sub(want).Len() > 0.01 {
				n.t.Errorf("client %s sees %s at %v, server at %v", c.ID(), id, got, want)
			}
		}
	}
}

var idle = InputFunc(func(int64) (protocol.ActionState, protocol.Inputs) {
	return protocol.ActionState{}, protocol.Inputs{}
})

func TestClientsConverge(t *testing.T) {
	n := newNetwork(t)
	moving := false
	a := n.join(1, InputFunc(func(int64) (protocol.ActionState, protocol.Inputs) {
		if moving {
			return protocol.ActionState{Move: mgl32.Vec2{1, 0}}, protocol.Inputs{}
		}
		return protocol.ActionState{}, protocol.Inputs{}
	}))
	b := n.join(2, idle)

	a.JoinGame()
	b.JoinGame()
	n.steps(90)
	for _, c := range []*Client{a, b} {
		if !c.InLobby {
			t.Fatalf("client %s never started a game", c.ID())
		}
		if c.Predictor().Sim.Clock.Tick() <= n.server.Tick() {
			t.Fatalf("client %s at tick %d is not ahead of the server at %d", c.ID(), c.Predictor().Sim.Clock.Tick(), n.server.Tick())
		}
	}
	n.assertConverged(1, 2)

	start := n.serverPosition(1)
	before := b.Predictor().Rollbacks()
	moving = true
	n.steps(30)
	if b.Predictor().Rollbacks() == before {
		t.Fatal("remote player changed course without a rollback")
	}
	moving = false
	n.steps(120)

	if moved := n.serverPosition(1).Sub(start); moved[0] < 1 {
		t.Fatalf("player moved %v", moved)
	}
	n.assertConverged(1, 2)
}

func TestKeyboardMoverConverges(t *testing.T) {
	n := newNetwork(t)
	moving := false
	a := n.join(1, InputFunc(func(int64) (protocol.ActionState, protocol.Inputs) {
		if moving {
			return protocol.ActionState{}, protocol.Inputs{
				Kind:      protocol.InputDirection,
				Direction: protocol.Direction{Right: true},
			}
		}
		return protocol.ActionState{}, protocol.Inputs{}
	}))
	b := n.join(2, idle)
	a.JoinGame()
	b.JoinGame()
	n.steps(90)
	n.assertConverged(1, 2)

	start := n.serverPosition(1)
	moving = true
	n.steps(40)

	// At full speed the replicated action predicts the motion exactly.
	before := b.Predictor().Rollbacks()
	n.steps(30)
	if extra := b.Predictor().Rollbacks() - before; extra > 1 {
		t.Fatalf("remote keyboard mover caused %d rollbacks at steady speed", extra)
	}

	moving = false
	n.steps(120)
	if moved := n.serverPosition(1).Sub(start); moved[0] < 1 {
		t.Fatalf("player moved %v", moved)
	}
	n.assertConverged(1, 2)
}

func TestClientDenied(t *testing.T) {
	n := newNetwork(t)
	c := n.client(0, "wrong", idle)
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		n.step()
		err = c.Frame(n.now)
	}
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("got %v, want ErrDenied", err)
	}
	if again := c.Frame(n.now.Add(n.tick)); !errors.Is(again, ErrDenied) {
		t.Fatalf("error did not stick: %v", again)
	}
	if c.Connected() {
		t.Fatal("denied client connected")
	}
}

func TestEndpointHandshakeTimeout(t *testing.T) {
	n := transport.NewMemoryNetwork(1)
	sock, err := n.Listen("")
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultEndpointConfig(utils.DefaultConfig().Common.ProtocolID, "nowhere")
	cfg.HandshakeAttempts = 3
	e := NewEndpoint(sock, cfg, zap.NewNop().Sugar())
	if err := e.Send(protocol.EnterLobby{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send before connecting: %v", err)
	}

	now := time.Unix(1000, 0)
	polls := 0
	for err == nil && polls < 10 {
		_, err = e.Poll(now)
		now = now.Add(cfg.HandshakeInterval)
		polls++
	}
	if !errors.Is(err, ErrHandshakeTimeout) || polls != 4 {
		t.Fatalf("after %d polls: %v", polls, err)
	}
}
