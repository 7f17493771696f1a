package client

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"duel/protocol"
	"duel/transport"
	"duel/wire"
)

var (
	ErrHandshakeTimeout = errors.New("client: handshake timed out")
	ErrDenied           = errors.New("client: connection denied")
	ErrNotConnected     = errors.New("client: not connected")
)

type EndpointConfig struct {
	Wire       wire.Config
	ServerAddr string
	// ClientID 0 lets the server pick one.
	ClientID   protocol.ClientID
	PrivateKey string
	// HandshakeAttempts connection requests are sent HandshakeInterval
	// apart before the handshake fails.
	HandshakeAttempts int
	HandshakeInterval time.Duration
}

func DefaultEndpointConfig(protocolID uint64, serverAddr string) EndpointConfig {
	return EndpointConfig{
		Wire:              wire.DefaultConfig(protocolID),
		ServerAddr:        serverAddr,
		HandshakeAttempts: 20,
		HandshakeInterval: 250 * time.Millisecond,
	}
}

// Endpoint is the client side of one server connection. The tick loop owns
// it; nothing here is safe for concurrent use.
type Endpoint struct {
	socket transport.Socket
	cfg    EndpointConfig
	log    *zap.SugaredLogger

	conn     *wire.Connection
	accept   protocol.ConnectAccept
	attempts int
	lastSent time.Time
	// handshakeRTT stands in for the connection's estimate until the
	// first ack arrives.
	handshakeRTT time.Duration
}

func NewEndpoint(socket transport.Socket, cfg EndpointConfig, log *zap.SugaredLogger) *Endpoint {
	return &Endpoint{socket: socket, cfg: cfg, log: log}
}

func (e *Endpoint) Connected() bool {
	return e.conn != nil
}

// Accept is the server's answer to the handshake; zero until Connected.
func (e *Endpoint) Accept() protocol.ConnectAccept {
	return e.accept
}

func (e *Endpoint) RTT() time.Duration {
	if e.conn != nil {
		if rtt := e.conn.RTT(); rtt > 0 {
			return rtt
		}
	}
	return e.handshakeRTT
}

// Stats are the connection's packet counters, zero before the handshake.
func (e *Endpoint) Stats() wire.Stats {
	if e.conn == nil {
		return wire.Stats{}
	}
	return e.conn.Stats()
}

// Poll processes every datagram that arrived and, while still handshaking,
// sends the next connection request. It returns the messages received.
func (e *Endpoint) Poll(now time.Time) ([]protocol.Message, error) {
	for _, d := range e.socket.Receive() {
		p, err := wire.DecodePacket(d.Data, e.cfg.Wire.ProtocolID)
		if err != nil {
			e.log.Debugw("dropping packet", "from", d.Addr, "err", err)
			continue
		}
		switch p.Type {
		case wire.PacketConnectionAccept:
			if e.conn != nil {
				continue
			}
			accept, err := protocol.DecodeConnectAccept(p.Body)
			if err != nil {
				e.log.Warnw("bad connection accept", "err", err)
				continue
			}
			e.accept = accept
			e.handshakeRTT = now.Sub(e.lastSent)
			e.conn = wire.NewConnection(e.cfg.Wire, now)
			e.log.Infow("connected", "client", accept.ClientID, "session", accept.Session, "server_tick", accept.ServerTick, "rtt", e.handshakeRTT)
		case wire.PacketConnectionDenied:
			denied, err := protocol.DecodeConnectDenied(p.Body)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDenied, err)
			}
			return nil, fmt.Errorf("%w: %s", ErrDenied, denied.Reason)
		case wire.PacketDisconnect:
			return nil, fmt.Errorf("server closed the connection: %w", wire.ErrConnectionLost)
		default:
			if e.conn != nil {
				e.conn.Process(p, now)
			}
		}
	}

	if e.conn == nil {
		return nil, e.handshake(now)
	}

	var msgs []protocol.Message
	for _, ch := range []wire.ChannelID{wire.OrderedReliable, wire.UnorderedReliable} {
		for _, b := range e.conn.Receive(ch) {
			msg, err := protocol.DecodeMessage(b, protocol.ClientSide)
			if err != nil {
				e.log.Warnw("dropping message", "channel", ch, "err", err)
				continue
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (e *Endpoint) handshake(now time.Time) error {
	if e.attempts > 0 && now.Sub(e.lastSent) < e.cfg.HandshakeInterval {
		return nil
	}
	if e.attempts >= e.cfg.HandshakeAttempts {
		return fmt.Errorf("%w after %d attempts", ErrHandshakeTimeout, e.attempts)
	}
	e.attempts++
	e.lastSent = now
	req := protocol.ConnectRequest{ClientID: e.cfg.ClientID, PrivateKey: e.cfg.PrivateKey}
	return e.sendPacket(&wire.Packet{
		Header: wire.Header{Type: wire.PacketConnectionRequest},
		Body:   req.Encode(),
	})
}

func (e *Endpoint) sendPacket(p *wire.Packet) error {
	p.ProtocolID = e.cfg.Wire.ProtocolID
	return e.socket.Send(e.cfg.ServerAddr, wire.EncodePacket(p))
}

func (e *Endpoint) Send(msg protocol.Message) error {
	if e.conn == nil {
		return ErrNotConnected
	}
	return e.conn.Send(protocol.ChannelOf(msg), protocol.EncodeMessage(msg))
}

// Flush writes everything due on the connection.
func (e *Endpoint) Flush(now time.Time) error {
	if e.conn == nil {
		return nil
	}
	packets, err := e.conn.Flush(now)
	for _, p := range packets {
		if err := e.sendPacket(p); err != nil {
			return err
		}
	}
	return err
}

// Close tells the server we are leaving and releases the socket.
func (e *Endpoint) Close() error {
	if e.conn != nil {
		if err := e.sendPacket(&wire.Packet{Header: wire.Header{Type: wire.PacketDisconnect}}); err != nil {
			e.log.Debugw("sending disconnect", "err", err)
		}
		e.conn = nil
	}
	return e.socket.Close()
}
