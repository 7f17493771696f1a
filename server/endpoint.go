package server

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"duel/protocol"
	"duel/transport"
	"duel/wire"
)

// MaxStrikes is how many undecodable messages a peer may send before it is
// dropped.
const MaxStrikes = 16

// firstClientID is the first id handed to clients that do not ask for one.
const firstClientID protocol.ClientID = 0x1001

var ErrUnknownClient = errors.New("server: unknown client")

type EventKind uint8

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

// Event is one thing that happened on the endpoint, in arrival order.
type Event struct {
	Kind    EventKind
	Client  protocol.ClientID
	Message protocol.Message
	Err     error
}

type peer struct {
	addr    string
	id      protocol.ClientID
	session ksuid.KSUID
	conn    *wire.Connection
	strikes int
}

type EndpointConfig struct {
	Wire       wire.Config
	PrivateKey string
	TickRate   int
	MaxClients int
}

// Endpoint is the server side of the connection layer: it runs the
// handshake, owns one wire.Connection per client and turns payloads into
// protocol messages.
type Endpoint struct {
	socket  transport.Socket
	cfg     EndpointConfig
	peers   map[string]*peer
	byID    map[protocol.ClientID]*peer
	nextID  protocol.ClientID
	metrics *Metrics
	log     *zap.SugaredLogger
}

func NewEndpoint(socket transport.Socket, cfg EndpointConfig, metrics *Metrics, log *zap.SugaredLogger) *Endpoint {
	return &Endpoint{
		socket:  socket,
		cfg:     cfg,
		peers:   make(map[string]*peer),
		byID:    make(map[protocol.ClientID]*peer),
		nextID:  firstClientID,
		metrics: metrics,
		log:     log,
	}
}

func (e *Endpoint) sendPacket(addr string, p *wire.Packet) {
	p.ProtocolID = e.cfg.Wire.ProtocolID
	b := wire.EncodePacket(p)
	if err := e.socket.Send(addr, b); err != nil {
		e.log.Debugw("send failed", "addr", addr, "err", err)
		return
	}
	e.metrics.PacketOut(len(b))
}

// Receive drains the socket and every connection. tick is the server tick
// reported to new clients.
func (e *Endpoint) Receive(now time.Time, tick int64) []Event {
	var events []Event
	for _, d := range e.socket.Receive() {
		e.metrics.PacketIn(len(d.Data))
		p, err := wire.DecodePacket(d.Data, e.cfg.Wire.ProtocolID)
		if err != nil {
			e.metrics.Inc(&e.metrics.BadPackets)
			e.log.Debugw("dropping packet", "addr", d.Addr, "err", err)
			if pr, ok := e.peers[d.Addr]; ok {
				events = e.strike(pr, err, events)
			}
			continue
		}
		switch p.Type {
		case wire.PacketConnectionRequest:
			events = e.handshake(d.Addr, p, now, tick, events)
		case wire.PacketPayload, wire.PacketKeepAlive:
			if pr, ok := e.peers[d.Addr]; ok {
				pr.conn.Process(p, now)
			}
		case wire.PacketDisconnect:
			if pr, ok := e.peers[d.Addr]; ok {
				e.log.Infow("client disconnected", "client", pr.id)
				events = e.drop(pr, nil, events)
			}
		}
	}

	for _, id := range e.Clients() {
		pr := e.byID[id]
	channels:
		for _, ch := range []wire.ChannelID{wire.OrderedReliable, wire.UnorderedReliable} {
			for _, b := range pr.conn.Receive(ch) {
				msg, err := protocol.DecodeMessage(b, protocol.ServerSide)
				if err != nil {
					events = e.strike(pr, err, events)
					if pr.strikes >= MaxStrikes {
						break channels
					}
					continue
				}
				events = append(events, Event{Kind: EventMessage, Client: id, Message: msg})
			}
		}
	}
	return events
}

func (e *Endpoint) handshake(addr string, p *wire.Packet, now time.Time, tick int64, events []Event) []Event {
	if pr, ok := e.peers[addr]; ok {
		// The accept was lost and the client asked again.
		e.accept(pr, tick)
		return events
	}
	req, err := protocol.DecodeConnectRequest(p.Body)
	if err != nil {
		e.deny(addr, "malformed request")
		return events
	}
	if req.PrivateKey != e.cfg.PrivateKey {
		e.log.Warnw("handshake rejected", "addr", addr, "err", protocol.ErrBadKey)
		e.deny(addr, protocol.ErrBadKey.Error())
		return events
	}
	if e.cfg.MaxClients > 0 && len(e.byID) >= e.cfg.MaxClients {
		e.deny(addr, "server full")
		return events
	}

	id := req.ClientID
	if _, taken := e.byID[id]; id == 0 || taken {
		id = e.allocateID()
	}
	pr := &peer{
		addr:    addr,
		id:      id,
		session: ksuid.New(),
		conn:    wire.NewConnection(e.cfg.Wire, now),
	}
	e.peers[addr] = pr
	e.byID[id] = pr
	e.metrics.Inc(&e.metrics.Connects)
	e.log.Infow("client connected", "client", id, "addr", addr, "session", pr.session)
	e.accept(pr, tick)
	return append(events, Event{Kind: EventConnected, Client: id})
}

func (e *Endpoint) allocateID() protocol.ClientID {
	for {
		id := e.nextID
		e.nextID++
		if _, taken := e.byID[id]; !taken {
			return id
		}
	}
}

func (e *Endpoint) accept(pr *peer, tick int64) {
	body := protocol.ConnectAccept{
		ClientID:   pr.id,
		Session:    pr.session,
		ServerTick: tick,
		TickRate:   uint32(e.cfg.TickRate),
	}.Encode()
	e.sendPacket(pr.addr, &wire.Packet{Header: wire.Header{Type: wire.PacketConnectionAccept}, Body: body})
}

func (e *Endpoint) deny(addr, reason string) {
	e.metrics.Inc(&e.metrics.Denied)
	body := protocol.ConnectDenied{Reason: reason}.Encode()
	e.sendPacket(addr, &wire.Packet{Header: wire.Header{Type: wire.PacketConnectionDenied}, Body: body})
}

// strike counts a protocol violation against pr and drops it at MaxStrikes.
func (e *Endpoint) strike(pr *peer, err error, events []Event) []Event {
	pr.strikes++
	e.metrics.Inc(&e.metrics.Strikes)
	e.log.Warnw("protocol violation", "client", pr.id, "strikes", pr.strikes, "err", err)
	if pr.strikes < MaxStrikes {
		return events
	}
	e.sendPacket(pr.addr, &wire.Packet{Header: wire.Header{Type: wire.PacketDisconnect}})
	return e.drop(pr, fmt.Errorf("%d protocol violations: %w", pr.strikes, err), events)
}

func (e *Endpoint) drop(pr *peer, err error, events []Event) []Event {
	if _, ok := e.byID[pr.id]; !ok {
		return events
	}
	delete(e.peers, pr.addr)
	delete(e.byID, pr.id)
	e.metrics.Inc(&e.metrics.Disconnects)
	return append(events, Event{Kind: EventDisconnected, Client: pr.id, Err: err})
}

// Send queues msg for client on the channel the registry assigns it.
func (e *Endpoint) Send(client protocol.ClientID, msg protocol.Message) error {
	pr, ok := e.byID[client]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownClient, client)
	}
	return pr.conn.Send(protocol.ChannelOf(msg), protocol.EncodeMessage(msg))
}

// Broadcast sends msg to every connected client.
func (e *Endpoint) Broadcast(msg protocol.Message) {
	b := protocol.EncodeMessage(msg)
	ch := protocol.ChannelOf(msg)
	for _, id := range e.Clients() {
		if err := e.byID[id].conn.Send(ch, b); err != nil {
			e.log.Debugw("broadcast failed", "client", id, "err", err)
		}
	}
}

// Flush writes every connection's due packets. Connections that time out
// or exhaust their resend budget are dropped and reported.
func (e *Endpoint) Flush(now time.Time) []Event {
	var events []Event
	unacked := 0
	for _, id := range e.Clients() {
		pr := e.byID[id]
		packets, err := pr.conn.Flush(now)
		if err != nil {
			e.log.Infow("connection lost", "client", id, "err", err)
			events = e.drop(pr, err, events)
			continue
		}
		for _, p := range packets {
			e.sendPacket(pr.addr, p)
		}
		unacked += pr.conn.InFlight()
	}
	e.metrics.Set(&e.metrics.Unacked, int64(unacked))
	return events
}

// Disconnect tells the client goodbye and forgets it.
func (e *Endpoint) Disconnect(client protocol.ClientID) []Event {
	pr, ok := e.byID[client]
	if !ok {
		return nil
	}
	e.sendPacket(pr.addr, &wire.Packet{Header: wire.Header{Type: wire.PacketDisconnect}})
	return e.drop(pr, nil, nil)
}

// Clients lists the connected clients in ascending order.
func (e *Endpoint) Clients() []protocol.ClientID {
	ids := make([]protocol.ClientID, 0, len(e.byID))
	for id := range e.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Endpoint) RTT(client protocol.ClientID) time.Duration {
	if pr, ok := e.byID[client]; ok {
		return pr.conn.RTT()
	}
	return 0
}

// Close disconnects everyone and closes the socket.
func (e *Endpoint) Close() error {
	for _, id := range e.Clients() {
		e.Disconnect(id)
	}
	return e.socket.Close()
}
