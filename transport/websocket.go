package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

type wsPeer struct {
	c        *websocket.Conn
	messages chan []byte
}

// WebSocketListener carries datagrams as binary websocket messages. Each
// accepted connection gets a unique address so endpoints can key per-peer
// state on it exactly like UDP addresses.
type WebSocketListener struct {
	log            *zap.SugaredLogger
	originPatterns []string
	inbox          chan Datagram
	mu             sync.RWMutex
	peers          map[string]*wsPeer
	closed         bool
}

func NewWebSocketListener(log *zap.SugaredLogger, originPatterns []string) *WebSocketListener {
	return &WebSocketListener{
		log:            log,
		originPatterns: originPatterns,
		inbox:          make(chan Datagram, inboxSize),
		peers:          make(map[string]*wsPeer),
	}
}

func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: l.originPatterns,
	})
	if err != nil {
		l.log.Warnw("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	addr := r.RemoteAddr + "#" + ksuid.New().String()
	peer := &wsPeer{c: c, messages: make(chan []byte, 1024)}
	if !l.addPeer(addr, peer) {
		c.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer l.removePeer(addr)

	if err := pumpWebSocket(r.Context(), c, peer.messages, func(b []byte) {
		offer(l.inbox, Datagram{Addr: addr, Data: b})
	}); err != nil {
		l.log.Debugw("websocket peer closed", "addr", addr, "err", err)
	}
}

func (l *WebSocketListener) addPeer(addr string, p *wsPeer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.peers[addr] = p
	return true
}

func (l *WebSocketListener) removePeer(addr string) {
	l.mu.Lock()
	delete(l.peers, addr)
	l.mu.Unlock()
}

func (l *WebSocketListener) Send(addr string, b []byte) error {
	l.mu.RLock()
	p, ok := l.peers[addr]
	l.mu.RUnlock()
	if !ok {
		return ErrClosed
	}
	select {
	case p.messages <- b:
	default:
		// Drop like a congested UDP path would.
	}
	return nil
}

func (l *WebSocketListener) Receive() []Datagram {
	return drain(l.inbox)
}

func (l *WebSocketListener) LocalAddr() string {
	return "websocket"
}

func (l *WebSocketListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for addr, p := range l.peers {
		p.c.Close(websocket.StatusGoingAway, "shutting down")
		delete(l.peers, addr)
	}
	return nil
}

// WebSocketClient is the dialing side; it has exactly one peer.
type WebSocketClient struct {
	url      string
	c        *websocket.Conn
	inbox    chan Datagram
	messages chan []byte
	cancel   context.CancelFunc
	done     chan struct{}
}

func DialWebSocket(ctx context.Context, url string) (*WebSocketClient, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &WebSocketClient{
		url:      url,
		c:        c,
		inbox:    make(chan Datagram, inboxSize),
		messages: make(chan []byte, 1024),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = pumpWebSocket(runCtx, c, s.messages, func(b []byte) {
			offer(s.inbox, Datagram{Addr: url, Data: b})
		})
	}()
	return s, nil
}

func (s *WebSocketClient) Send(_ string, b []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	case s.messages <- b:
	default:
	}
	return nil
}

func (s *WebSocketClient) Receive() []Datagram {
	return drain(s.inbox)
}

func (s *WebSocketClient) LocalAddr() string {
	return s.url
}

func (s *WebSocketClient) Close() error {
	s.cancel()
	return s.c.Close(websocket.StatusNormalClosure, "")
}

// pumpWebSocket reads binary messages into onMessage and writes queued
// outbound messages until ctx ends or either direction fails.
func pumpWebSocket(ctx context.Context, c *websocket.Conn, outbound <-chan []byte, onMessage func([]byte)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		for {
			typ, b, err := c.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if typ != websocket.MessageBinary || len(b) == 0 {
				continue
			}
			onMessage(b)
		}
	}()

	for {
		select {
		case msg := <-outbound:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageBinary, msg)
			wcancel()
			if err != nil {
				return err
			}
		case err := <-readErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
