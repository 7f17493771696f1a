package transport

import (
	"errors"
	"net"
	"sync"
)

const maxDatagram = 1500

type UDPSocket struct {
	conn   *net.UDPConn
	inbox  chan Datagram
	mu     sync.Mutex
	addrs  map[string]*net.UDPAddr
	closed chan struct{}
	once   sync.Once
}

// ListenUDP binds addr; use ":0" for a client socket.
func ListenUDP(addr string) (*UDPSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	s := &UDPSocket{
		conn:   conn,
		inbox:  make(chan Datagram, inboxSize),
		addrs:  make(map[string]*net.UDPAddr),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *UDPSocket) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.closed:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		offer(s.inbox, Datagram{Addr: from.String(), Data: data})
	}
}

func (s *UDPSocket) resolve(addr string) (*net.UDPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.addrs[addr]; ok {
		return a, nil
	}
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	s.addrs[addr] = a
	return a, nil
}

func (s *UDPSocket) Send(addr string, b []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	to, err := s.resolve(addr)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(b, to)
	return err
}

func (s *UDPSocket) Receive() []Datagram {
	return drain(s.inbox)
}

func (s *UDPSocket) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

func (s *UDPSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}
