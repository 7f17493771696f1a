package transport

import (
	"fmt"
	"math/rand"
	"sync"
)

// MemoryNetwork connects in-process sockets. Loss and duplication are driven
// by a seeded source so tests replay identically.
type MemoryNetwork struct {
	mu        sync.Mutex
	rng       *rand.Rand
	sockets   map[string]*MemorySocket
	Loss      float64
	Duplicate float64
	next      int
}

func NewMemoryNetwork(seed int64) *MemoryNetwork {
	return &MemoryNetwork{
		rng:     rand.New(rand.NewSource(seed)),
		sockets: make(map[string]*MemorySocket),
	}
}

// Listen creates a socket bound to addr, or to a fresh address when addr is empty.
func (n *MemoryNetwork) Listen(addr string) (*MemorySocket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		n.next++
		addr = fmt.Sprintf("mem:%d", n.next)
	}
	if _, ok := n.sockets[addr]; ok {
		return nil, fmt.Errorf("transport: %s already bound", addr)
	}
	s := &MemorySocket{
		net:   n,
		addr:  addr,
		inbox: make(chan Datagram, inboxSize),
	}
	n.sockets[addr] = s
	return s, nil
}

func (n *MemoryNetwork) deliver(from, to string, b []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	dst, ok := n.sockets[to]
	if !ok {
		return
	}
	if n.Loss > 0 && n.rng.Float64() < n.Loss {
		return
	}
	copies := 1
	if n.Duplicate > 0 && n.rng.Float64() < n.Duplicate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		data := make([]byte, len(b))
		copy(data, b)
		offer(dst.inbox, Datagram{Addr: from, Data: data})
	}
}

func (n *MemoryNetwork) unbind(addr string) {
	n.mu.Lock()
	delete(n.sockets, addr)
	n.mu.Unlock()
}

type MemorySocket struct {
	net    *MemoryNetwork
	addr   string
	inbox  chan Datagram
	mu     sync.Mutex
	closed bool
}

func (s *MemorySocket) Send(addr string, b []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.net.deliver(s.addr, addr, b)
	return nil
}

func (s *MemorySocket) Receive() []Datagram {
	return drain(s.inbox)
}

func (s *MemorySocket) LocalAddr() string {
	return s.addr
}

func (s *MemorySocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.net.unbind(s.addr)
	return nil
}
