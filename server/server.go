package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/ksuid"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"
	"github.com/yohamta/donburi/query"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/schedule"
	"duel/transport"
	"duel/utils"
	"duel/wire"
	"duel/world"
)

// cycleSeconds is the length of one day/night cycle.
const cycleSeconds = 120

var bullets = query.NewQuery(filter.Contains(world.Bullet))

// Server is the authoritative endpoint. A single goroutine calls Frame;
// everything below it is owned by that goroutine.
type Server struct {
	cfg      *utils.Config
	log      *zap.SugaredLogger
	instance ksuid.KSUID

	sim      *world.Simulation
	arena    *world.Arena
	inputs   *world.InputQueue
	endpoint *Endpoint
	lobbies  *LobbyManager
	life     *Lifecycle
	repl     *Replicator
	scores   *Scoreboard
	metrics  *Metrics
	schedule *schedule.Schedule

	cycle        protocol.CycleTimer
	cycleChanged bool

	now       time.Time
	lastFlush time.Time
	serveMux  http.ServeMux
}

// NewServer builds the world and wires every subsystem to socket. store may
// be nil, in which case profiles live only in memory.
func NewServer(cfg *utils.Config, socket transport.Socket, store *FileStore, profiles protocol.PlayerBundleMap, log *zap.SugaredLogger) *Server {
	params := world.DefaultParams(cfg.Common.TickRate)
	s := &Server{
		cfg:      cfg,
		log:      log,
		instance: ksuid.New(),
		sim:      world.NewSimulation(params, log),
		inputs:   world.NewInputQueue(),
		lobbies:  NewLobbyManager(cfg.Common.LobbyMode, log),
		scores:   NewScoreboard(log),
		metrics:  &Metrics{},
		schedule: schedule.New(params.TickDuration()),
		cycle: protocol.CycleTimer{
			Duration: params.TicksFor(cycleSeconds * time.Second),
			Repeat:   true,
		},
	}
	s.endpoint = NewEndpoint(socket, EndpointConfig{
		Wire:       wire.DefaultConfig(cfg.Common.ProtocolID),
		PrivateKey: cfg.Common.PrivateKey,
		TickRate:   params.TickRate,
		MaxClients: cfg.Server.MaxClients,
	}, s.metrics, log)
	s.life = NewLifecycle(s.sim, store, profiles, s.metrics, log)
	s.repl = NewReplicator(s.sim.World, log)

	s.arena = s.sim.BuildArena(world.DefaultMap())
	s.repl.Replicate(s.arena.Floor.Entity(), All(), Only(), Only())
	sun := s.sim.World.Create(world.SunMarker)
	s.repl.Replicate(sun, All(), Only(), Only())

	s.sim.Inputs = s.inputs
	s.sim.SpawnPoint = func(id protocol.ClientID) mgl32.Vec3 {
		pos, _ := s.lobbies.Position(id)
		return s.arena.Spawn(pos)
	}
	s.sim.OnDespawn = func(e *donburi.Entry) {
		s.repl.Forget(e.Entity())
	}

	s.schedule.OnTick = func() { s.sim.Clock.Advance() }
	s.schedule.Startup.Add(
		schedule.System("announce", 100, func(float32) {
			s.log.Infow("server started", "instance", s.instance, "tick_rate", params.TickRate, "lobby_mode", s.lobbies.Mode())
		}),
	)
	s.schedule.PreUpdate.Add(
		schedule.System("receive", 100, func(float32) {
			s.handle(s.endpoint.Receive(s.now, s.sim.Clock.Tick()))
		}),
	)
	s.schedule.FixedPreUpdate.Add(
		schedule.System("prune-inputs", 100, func(float32) {
			s.inputs.Prune(s.sim.Clock.Tick())
			s.metrics.Set(&s.metrics.SynthesizedInputs, int64(s.inputs.Synthesized()))
		}),
	)
	s.schedule.FixedUpdate.Add(
		schedule.System("simulate", 300, func(float32) { s.sim.Step() }),
		schedule.System("score", 200, func(float32) {
			hits := s.sim.DrainHits()
			s.metrics.Add(&s.metrics.Hits, len(hits))
			s.scores.Record(hits)
		}),
		schedule.System("cycle", 100, func(float32) {
			if s.cycle.Advance() || s.sim.Clock.Tick()%int64(params.TickRate) == 0 {
				s.cycleChanged = true
			}
		}),
	)
	s.schedule.Update.Add(
		schedule.System("flush-profiles", 100, func(float32) {
			if s.now.Sub(s.lastFlush) >= time.Second {
				s.lastFlush = s.now
				s.life.Flush()
			}
		}),
	)
	s.schedule.PostUpdate.Add(
		schedule.System("replicate", 200, func(float32) { s.replicate() }),
		schedule.System("flush", 100, func(float32) { s.handle(s.endpoint.Flush(s.now)) }),
	)

	s.serveMux.HandleFunc("/healthz", s.onHealth)
	s.serveMux.HandleFunc("/metrics", s.onMetrics)
	s.serveMux.HandleFunc("/debug/pprof/", pprof.Index)
	s.serveMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.serveMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.serveMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.serveMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if ws, ok := socket.(*transport.WebSocketListener); ok {
		s.serveMux.Handle("/ws", ws)
	}
	return s
}

// Frame runs one schedule frame at wall time now.
func (s *Server) Frame(now time.Time) int {
	elapsed := s.schedule.Step()
	if !s.now.IsZero() {
		elapsed = now.Sub(s.now)
	}
	if s.lastFlush.IsZero() {
		s.lastFlush = now
	}
	s.now = now
	start := time.Now()
	ticks := s.schedule.Frame(elapsed)
	if ticks > 0 {
		s.metrics.AddTick(time.Since(start), s.schedule.Step())
	}
	return ticks
}

func (s *Server) Tick() int64 {
	return s.sim.Clock.Tick()
}

// Player returns the authoritative entity of client c.
func (s *Server) Player(c protocol.ClientID) (*donburi.Entry, bool) {
	return s.life.Player(c)
}

func (s *Server) handle(events []Event) {
	for _, ev := range events {
		switch ev.Kind {
		case EventConnected:
			s.onConnect(ev.Client)
		case EventDisconnected:
			s.onDisconnect(ev.Client, ev.Err)
		case EventMessage:
			s.onMessage(ev.Client, ev.Message)
		}
	}
}

func (s *Server) onConnect(c protocol.ClientID) {
	e, bundle := s.life.Connect(c)
	s.repl.Replicate(e.Entity(), Only(c), Only(c), Only())
	s.send(c, protocol.SendBundle{Profile: bundle})
	// The newcomer needs every resource, not just the changed ones.
	s.lobbies.Changed = true
	s.life.Changed = true
	s.cycleChanged = true
}

func (s *Server) onDisconnect(c protocol.ClientID, err error) {
	s.log.Infow("removing client", "client", c, "err", err, "hits", s.scores.Hits(c), "taken", s.scores.Taken(c))
	if lobby, ok := s.lobbies.Disconnect(c); ok {
		s.retarget(lobby.Players)
	}
	s.inputs.Disconnect(c)
	s.life.Disconnect(c)
	s.inputs.Remove(c)
	s.repl.Drop(c)
	s.scores.Forget(c)
}

func (s *Server) onMessage(c protocol.ClientID, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.InputMessage:
		n := s.inputs.Receive(c, m, s.sim.Clock.Tick())
		s.metrics.Add(&s.metrics.InputsReceived, n)
	case protocol.EnterLobby:
		lobby, err := s.lobbies.Enter(c)
		if err != nil {
			s.reject(c, msg, err)
			return
		}
		s.startGame(c, lobby)
	case protocol.ExitLobby:
		lobby, err := s.lobbies.Exit(c)
		if err != nil {
			s.reject(c, msg, err)
			return
		}
		s.leaveGame(c)
		s.retarget(lobby.Players)
	case protocol.SearchMatch:
		lobby, paired, err := s.lobbies.Search(c)
		if err != nil {
			s.reject(c, msg, err)
			return
		}
		s.life.SetConnection(c, func(st *protocol.ConnectionState) { st.Searching = true })
		if paired {
			for _, p := range lobby.Players {
				s.life.SetConnection(p, func(st *protocol.ConnectionState) { st.Searching = false })
				s.startGame(p, lobby)
			}
		}
	case protocol.StopSearch:
		if err := s.lobbies.StopSearch(c); err != nil {
			s.reject(c, msg, err)
			return
		}
		s.life.SetConnection(c, func(st *protocol.ConnectionState) { st.Searching = false })
	case protocol.SavePlayer:
		s.life.SavePlayer(c)
	case protocol.SaveVisual:
		s.life.SaveVisual(c, m.Visuals)
	case protocol.ChangeChar:
		if s.life.ChangeChar(c, m.OldPart, m.NewPart) {
			s.send(c, m)
		}
	default:
		s.log.Warnw("unexpected message", "client", c, "message", msg.MessageKind())
	}
}

func (s *Server) reject(c protocol.ClientID, msg protocol.Message, err error) {
	s.log.Warnw("message rejected", "client", c, "message", msg.MessageKind(), "err", err)
}

// startGame puts c's player into play in lobby and tells its client.
func (s *Server) startGame(c protocol.ClientID, lobby protocol.Lobby) {
	e, ok := s.life.Player(c)
	if !ok {
		utils.Must(s.log, false, "lobby member without a player", "client", c)
		return
	}
	if !e.HasComponent(world.Body) {
		pos, _ := s.lobbies.Position(c)
		s.sim.AttachPhysics(e, s.arena.Spawn(pos))
	}
	s.life.SetConnection(c, func(st *protocol.ConnectionState) { st.InGame = true })
	s.retarget(lobby.Players)
	s.send(c, protocol.StartGame{LobbyID: lobby.ID})
}

func (s *Server) leaveGame(c protocol.ClientID) {
	e, ok := s.life.Player(c)
	if !ok {
		return
	}
	s.sim.DetachPhysics(e)
	s.life.SetConnection(c, func(st *protocol.ConnectionState) { st.InGame = false })
	s.repl.Retarget(e.Entity(), Only(c), Only(c))
}

// retarget makes every member of a lobby see every other member.
func (s *Server) retarget(members []protocol.ClientID) {
	for _, m := range members {
		if e, ok := s.life.Player(m); ok {
			s.repl.Retarget(e.Entity(), Only(members...), Only(members...))
		}
	}
}

// trackBullets starts replicating bullets fired since the last frame to the
// owner's lobby.
func (s *Server) trackBullets() {
	bullets.Each(s.sim.World, func(e *donburi.Entry) {
		if s.repl.Replicated(e.Entity()) {
			return
		}
		owner := world.Bullet.Get(e).Owner
		members := s.lobbies.Members(owner)
		if len(members) == 0 {
			members = []protocol.ClientID{owner}
		}
		s.repl.Replicate(e.Entity(), Only(members...), Only(members...), Only())
	})
}

func (s *Server) replicate() {
	if s.lobbies.Changed {
		s.endpoint.Broadcast(protocol.ResourceUpdate{Resource: s.lobbies.Lobbies()})
		s.endpoint.Broadcast(protocol.ResourceUpdate{Resource: s.lobbies.Positions()})
		s.lobbies.Changed = false
	}
	if s.life.Changed {
		s.endpoint.Broadcast(protocol.ResourceUpdate{Resource: s.life.Bundles()})
		s.life.Changed = false
	}
	if s.cycleChanged {
		s.endpoint.Broadcast(protocol.ResourceUpdate{Resource: s.cycle})
		s.cycleChanged = false
	}

	s.trackBullets()
	clients := s.endpoint.Clients()
	groups := s.repl.Collect(s.sim.Clock.Tick(), clients)
	for _, c := range clients {
		if g, ok := groups[c]; ok {
			s.send(c, g)
		}
	}
}

func (s *Server) send(c protocol.ClientID, msg protocol.Message) {
	if err := s.endpoint.Send(c, msg); err != nil {
		s.log.Debugw("send failed", "client", c, "message", msg.MessageKind(), "err", err)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.serveMux.ServeHTTP(w, r)
}

func (s *Server) onHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok %s\n", s.instance)
}

func (s *Server) onMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.metrics.Snapshot()); err != nil {
		s.log.Warnw("writing metrics", "err", err)
	}
}

// Close says goodbye to every client and writes any pending profiles.
func (s *Server) Close() error {
	s.life.Flush()
	return s.endpoint.Close()
}

// Run starts a server from the settings file named in args (default
// "duel.toml") and serves until interrupted.
func Run(args []string) error {
	path := "duel.toml"
	if len(args) > 1 {
		path = args[1]
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
	switch cfg.Common.Transport {
	case utils.TransportWebSocket:
		socket = transport.NewWebSocketListener(log, cfg.Server.Origins)
	default:
		udp, err := transport.ListenUDP(cfg.Common.ServerAddr)
		if err != nil {
			return err
		}
		socket = udp
	}

	store, profiles := OpenFileStore(cfg.Server.ProfilePath, log)
	server := NewServer(cfg, socket, store, profiles, log)

	l, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return err
	}
	log.Infow("listening", "http", l.Addr(), "game", socket.LocalAddr(), "transport", cfg.Common.Transport)
	hs := &http.Server{
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- hs.Serve(l)
	}()

	stop := make(chan struct{})
	stopped := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(server.schedule.Step())
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				server.Frame(now)
			case <-stop:
				stopped <- server.Close()
				return
			}
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	var serveErr error
	select {
	case serveErr = <-errc:
		log.Errorw("http server stopped", "err", serveErr)
	case sig := <-sigs:
		log.Infow("terminating", "signal", sig)
	}
	close(stop)
	if err := <-stopped; err != nil {
		log.Warnw("closing endpoint", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(ctx); err != nil {
		return err
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}
