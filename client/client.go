package client

import (
	"context"
	"fmt"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/schedule"
	"duel/transport"
	"duel/utils"
	"duel/wire"
	"duel/world"
)

// Client is the predicting endpoint. A single goroutine calls Frame.
type Client struct {
	cfg       *utils.Config
	log       *zap.SugaredLogger
	params    world.Params
	endpoint  *Endpoint
	predictor *Predictor
	source    InputSource
	clock     ClockSync
	schedule  *schedule.Schedule

	// Replicas of the server's resources and this client's profile.
	Profile   protocol.PlayerBundle
	Lobbies   protocol.Lobbies
	Positions protocol.LobbyPositionMap
	Bundles   protocol.PlayerBundleMap
	Cycle     protocol.CycleTimer
	// Lobby is set once the server has started a game for us.
	Lobby   protocol.LobbyID
	InLobby bool

	serverTick int64
	now        time.Time
	err        error
}

func NewClient(cfg *utils.Config, socket transport.Socket, serverAddr string, source InputSource, log *zap.SugaredLogger) *Client {
	params := world.DefaultParams(cfg.Common.TickRate)
	ecfg := DefaultEndpointConfig(cfg.Common.ProtocolID, serverAddr)
	ecfg.ClientID = protocol.ClientID(cfg.Client.ClientID)
	ecfg.PrivateKey = cfg.Common.PrivateKey

	c := &Client{
		cfg:        cfg,
		log:        log,
		params:     params,
		endpoint:   NewEndpoint(socket, ecfg, log),
		source:     source,
		clock:      ClockSync{Step: params.TickDuration(), InputDelay: cfg.InputDelayTicks},
		schedule:   schedule.New(params.TickDuration()),
		serverTick: world.NilTick,
	}

	c.schedule.OnTick = func() {
		if c.predictor != nil {
			c.predictor.Sim.Clock.Advance()
		}
	}
	c.schedule.PreUpdate.Add(
		schedule.System("receive", 200, func(float32) { c.receive() }),
		schedule.System("reconcile", 100, func(float32) {
			if c.predictor != nil {
				c.predictor.Reconcile()
			}
		}),
	)
	c.schedule.FixedPreUpdate.Add(
		schedule.System("sample-input", 100, func(float32) { c.sample() }),
	)
	c.schedule.FixedUpdate.Add(
		schedule.System("simulate", 100, func(float32) {
			if c.predictor != nil {
				c.predictor.Step()
			}
		}),
	)
	c.schedule.PostUpdate.Add(
		schedule.System("flush", 100, func(float32) {
			if err := c.endpoint.Flush(c.now); err != nil && c.err == nil {
				c.err = err
			}
		}),
	)
	return c
}

// Frame runs one schedule frame at wall time now. A lost connection or a
// failed handshake is returned and sticks.
func (c *Client) Frame(now time.Time) error {
	if c.err != nil {
		return c.err
	}
	elapsed := c.schedule.Step()
	if !c.now.IsZero() {
		elapsed = now.Sub(c.now)
	}
	c.now = now
	c.schedule.Frame(elapsed)
	return c.err
}

func (c *Client) Connected() bool {
	return c.predictor != nil
}

func (c *Client) ID() protocol.ClientID {
	return c.endpoint.Accept().ClientID
}

// Predictor is nil until the handshake completes.
func (c *Client) Predictor() *Predictor {
	return c.predictor
}

func (c *Client) RTT() time.Duration {
	return c.endpoint.RTT()
}

func (c *Client) Stats() wire.Stats {
	return c.endpoint.Stats()
}

func (c *Client) Overstep() float32 {
	return c.schedule.Overstep()
}

func (c *Client) receive() {
	msgs, err := c.endpoint.Poll(c.now)
	if err != nil {
		c.err = err
		return
	}
	if c.predictor == nil && c.endpoint.Connected() {
		accept := c.endpoint.Accept()
		c.predictor = NewPredictor(c.params, accept.ClientID, c.cfg.CorrectionTicksFactor, c.log)
		c.predictor.Resync(c.clock.Target(accept.ServerTick, c.endpoint.RTT()))
	}

	for _, msg := range msgs {
		c.handle(msg)
	}
	if c.predictor != nil && c.serverTick != world.NilTick {
		if c.clock.Drifted(c.predictor.Sim.Clock.Tick(), c.serverTick, c.endpoint.RTT()) {
			c.predictor.Resync(c.clock.Target(c.serverTick, c.endpoint.RTT()))
		}
	}
}

func (c *Client) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Replication:
		c.predictor.Apply(m)
		if m.Tick > c.serverTick {
			c.serverTick = m.Tick
		}
	case protocol.ResourceUpdate:
		switch r := m.Resource.(type) {
		case protocol.Lobbies:
			c.Lobbies = r
		case protocol.LobbyPositionMap:
			c.Positions = r
			c.predictor.Positions = r
		case protocol.PlayerBundleMap:
			c.Bundles = r
		case protocol.CycleTimer:
			c.Cycle = r
		}
	case protocol.SendBundle:
		c.Profile = m.Profile
	case protocol.StartGame:
		c.Lobby, c.InLobby = m.LobbyID, true
		c.log.Infow("game started", "lobby", m.LobbyID)
	case protocol.ChangeChar:
		c.Profile.Visuals.Replace(m.OldPart, m.NewPart)
	default:
		c.log.Warnw("unexpected message", "message", msg.MessageKind())
	}
}

// sample buffers this tick's input InputDelayTicks ahead and sends the
// trailing window.
func (c *Client) sample() {
	if c.predictor == nil {
		return
	}
	tick := c.predictor.Sim.Clock.Tick()
	at := tick + c.cfg.InputDelayTicks
	action, inputs := c.source.Sample(tick)
	c.predictor.Inputs.Set(at, action, inputs)
	c.send(c.predictor.Inputs.Window(at))
}

func (c *Client) send(msg protocol.Message) {
	if err := c.endpoint.Send(msg); err != nil {
		c.log.Debugw("send failed", "message", msg.MessageKind(), "err", err)
	}
}

// JoinGame asks for a game the way the configured lobby mode expects.
func (c *Client) JoinGame() {
	if c.cfg.Common.LobbyMode == utils.LobbyModeMatchmaking {
		c.send(protocol.SearchMatch{})
		return
	}
	c.send(protocol.EnterLobby{})
}

func (c *Client) LeaveGame() {
	c.InLobby = false
	c.send(protocol.ExitLobby{})
}

func (c *Client) StopSearch() {
	c.send(protocol.StopSearch{})
}

func (c *Client) SaveVisual(v protocol.PlayerVisuals) {
	c.Profile.Visuals = v
	c.send(protocol.SaveVisual{Visuals: v})
}

func (c *Client) SavePlayer() {
	c.send(protocol.SavePlayer{})
}

func (c *Client) ChangeChar(oldPart, newPart string) {
	c.send(protocol.ChangeChar{OldPart: oldPart, NewPart: newPart})
}

func (c *Client) Close() error {
	return c.endpoint.Close()
}

// Run connects to the server named in the settings file (args[0], default
// "duel.toml") and opens the debug window.
func Run(args []string) error {
	path := "duel.toml"
	if len(args) > 0 {
		path = args[0]
	}
	cfg, err := utils.LoadConfig(path)
	if err != nil {
		return err
	}
	log, err := utils.NewLogger(cfg.Common.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	var socket transport.Socket
	serverAddr := cfg.Common.ServerAddr
	switch cfg.Common.Transport {
	case utils.TransportWebSocket:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		serverAddr = fmt.Sprintf("ws://%s/ws", cfg.Server.HTTPAddr)
		ws, err := transport.DialWebSocket(ctx, serverAddr)
		if err != nil {
			return err
		}
		socket = ws
	default:
		udp, err := transport.ListenUDP(":0")
		if err != nil {
			return err
		}
		socket = udp
	}

	sampler := &KeyboardSampler{}
	c := NewClient(cfg, socket, serverAddr, sampler, log)
	defer c.Close()

	ebiten.SetWindowSize(cfg.Client.Resolution.X, cfg.Client.Resolution.Y)
	ebiten.SetWindowTitle("duel")
	ebiten.SetMaxTPS(cfg.Common.TickRate)
	return ebiten.RunGame(NewGame(c, sampler))
}
