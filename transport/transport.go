// Package transport moves raw datagrams between endpoints. Every socket
// buffers inbound datagrams so the tick loop can drain them without blocking.
package transport

import "errors"

var ErrClosed = errors.New("transport: socket closed")

// inboxSize bounds buffered inbound datagrams; when full new datagrams are
// dropped and the reliability layer resends them.
const inboxSize = 4096

type Datagram struct {
	Addr string
	Data []byte
}

type Socket interface {
	// Send hands b to the transport. It never blocks on the peer.
	Send(addr string, b []byte) error
	// Receive drains every datagram that arrived since the last call.
	Receive() []Datagram
	LocalAddr() string
	Close() error
}

func drain(inbox chan Datagram) []Datagram {
	var out []Datagram
	for {
		select {
		case d := <-inbox:
			out = append(out, d)
		default:
			return out
		}
	}
}

func offer(inbox chan Datagram, d Datagram) bool {
	select {
	case inbox <- d:
		return true
	default:
		return false
	}
}
