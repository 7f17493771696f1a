package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

const testProtocol = 0xD0E1

// lossyLink shuffles, drops and duplicates packets between two connections.
type lossyLink struct {
	rng       *rand.Rand
	drop      float64
	duplicate float64
	queue     [][]byte
}

func (l *lossyLink) push(packets []*Packet) {
	for _, p := range packets {
		b := EncodePacket(p)
		if l.rng.Float64() < l.drop {
			continue
		}
		l.queue = append(l.queue, b)
		if l.rng.Float64() < l.duplicate {
			l.queue = append(l.queue, b)
		}
	}
	l.rng.Shuffle(len(l.queue), func(i, j int) {
		l.queue[i], l.queue[j] = l.queue[j], l.queue[i]
	})
}

func (l *lossyLink) deliver(t *testing.T, to *Connection, now time.Time) {
	t.Helper()
	for _, b := range l.queue {
		p, err := DecodePacket(b, testProtocol)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		to.Process(p, now)
	}
	l.queue = l.queue[:0]
}

func pump(t *testing.T, a, b *Connection, ab, ba *lossyLink, now time.Time) {
	t.Helper()
	pa, err := a.Flush(now)
	if err != nil {
		t.Fatalf("flush a: %v", err)
	}
	pb, err := b.Flush(now)
	if err != nil {
		t.Fatalf("flush b: %v", err)
	}
	ab.push(pa)
	ba.push(pb)
	ab.deliver(t, b, now)
	ba.deliver(t, a, now)
}

func newPair(now time.Time) (*Connection, *Connection) {
	cfg := DefaultConfig(testProtocol)
	cfg.MaxResends = 1000
	return NewConnection(cfg, now), NewConnection(cfg, now)
}

func TestOrderedDeliveryUnderReordering(t *testing.T) {
	now := time.Unix(0, 0)
	a, b := newPair(now)
	ab := &lossyLink{rng: rand.New(rand.NewSource(1)), drop: 0.3, duplicate: 0.2}
	ba := &lossyLink{rng: rand.New(rand.NewSource(2)), drop: 0.3, duplicate: 0.2}

	const n = 200
	for i := 0; i < n; i++ {
		if err := a.Send(OrderedReliable, []byte(fmt.Sprintf("msg-%03d", i))); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	for step := 0; step < 2000 && len(got) < n; step++ {
		now = now.Add(20 * time.Millisecond)
		pump(t, a, b, ab, ba, now)
		for _, m := range b.Receive(OrderedReliable) {
			got = append(got, string(m))
		}
	}
	if len(got) != n {
		t.Fatalf("delivered %d messages, want %d", len(got), n)
	}
	for i, m := range got {
		if want := fmt.Sprintf("msg-%03d", i); m != want {
			t.Fatalf("message %d = %q, want %q", i, m, want)
		}
	}
}

func TestUnorderedDeliveredExactlyOnce(t *testing.T) {
	now := time.Unix(0, 0)
	a, b := newPair(now)
	ab := &lossyLink{rng: rand.New(rand.NewSource(3)), drop: 0.25, duplicate: 0.5}
	ba := &lossyLink{rng: rand.New(rand.NewSource(4)), drop: 0.25, duplicate: 0.5}

	const n = 150
	for i := 0; i < n; i++ {
		if err := a.Send(UnorderedReliable, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[byte]int)
	for step := 0; step < 2000; step++ {
		now = now.Add(20 * time.Millisecond)
		pump(t, a, b, ab, ba, now)
		for _, m := range b.Receive(UnorderedReliable) {
			seen[m[0]]++
		}
		if len(seen) == n && a.InFlight() == 0 {
			break
		}
	}
	if len(seen) != n {
		t.Fatalf("delivered %d distinct messages, want %d", len(seen), n)
	}
	for k, count := range seen {
		if count != 1 {
			t.Fatalf("message %d delivered %d times", k, count)
		}
	}
}

func TestFragmentedMessageReassembles(t *testing.T) {
	now := time.Unix(0, 0)
	a, b := newPair(now)
	ab := &lossyLink{rng: rand.New(rand.NewSource(5)), drop: 0.2}
	ba := &lossyLink{rng: rand.New(rand.NewSource(6)), drop: 0.2}

	big := bytes.Repeat([]byte("0123456789"), 1000)
	if err := a.Send(OrderedReliable, big); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(OrderedReliable, []byte("after")); err != nil {
		t.Fatal(err)
	}

	var got [][]byte
	for step := 0; step < 1000 && len(got) < 2; step++ {
		now = now.Add(20 * time.Millisecond)
		pump(t, a, b, ab, ba, now)
		got = append(got, b.Receive(OrderedReliable)...)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if !bytes.Equal(got[0], big) {
		t.Fatalf("reassembled %d bytes, want %d", len(got[0]), len(big))
	}
	if string(got[1]) != "after" {
		t.Fatalf("second message = %q", got[1])
	}
}

func TestRetransmitBudgetDeclaresLoss(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultConfig(testProtocol)
	cfg.MaxResends = 3
	cfg.Timeout = 0
	c := NewConnection(cfg, now)
	if err := c.Send(OrderedReliable, []byte("never acked")); err != nil {
		t.Fatal(err)
	}

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		now = now.Add(time.Second)
		_, err = c.Flush(now)
	}
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("err = %v, want ErrConnectionLost", err)
	}
	if err := c.Send(OrderedReliable, []byte("x")); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("send after loss = %v", err)
	}
}

func TestIdleTimeoutDeclaresLoss(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewConnection(DefaultConfig(testProtocol), now)
	if _, err := c.Flush(now.Add(time.Second)); err != nil {
		t.Fatalf("early flush: %v", err)
	}
	if _, err := c.Flush(now.Add(10 * time.Second)); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("err = %v, want ErrConnectionLost", err)
	}
}

func TestDecodeRejectsForeignProtocol(t *testing.T) {
	b := EncodePacket(&Packet{Header: Header{ProtocolID: 1, Type: PacketKeepAlive}})
	if _, err := DecodePacket(b, 2); !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("err = %v, want ErrProtocolMismatch", err)
	}
	if _, err := DecodePacket(b[:5], 1); !errors.Is(err, ErrBadPacket) {
		t.Fatalf("err = %v, want ErrBadPacket", err)
	}
}

func TestSequenceGreaterWraps(t *testing.T) {
	tests := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 65535, true},
		{65535, 0, false},
		{100, 100, false},
	}
	for _, tt := range tests {
		if got := sequenceGreater(tt.a, tt.b); got != tt.want {
			t.Errorf("sequenceGreater(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
