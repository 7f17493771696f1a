package wire

import (
	"errors"
	"testing"
	"time"
)

func payloadPacket(fragments ...Fragment) *Packet {
	return &Packet{
		Header:    Header{ProtocolID: testProtocol, Type: PacketPayload, Sequence: 1},
		Fragments: fragments,
	}
}

func TestDecodeRejectsMalformedFragments(t *testing.T) {
	valid := EncodePacket(payloadPacket(Fragment{Channel: OrderedReliable, Count: 1, Payload: []byte("hit")}))

	tests := []struct {
		name string
		data []byte
	}{
		{"negative index", EncodePacket(payloadPacket(Fragment{Index: -1, Count: 1}))},
		{"index past count", EncodePacket(payloadPacket(Fragment{Index: 3, Count: 3}))},
		{"zero count", EncodePacket(payloadPacket(Fragment{Index: 0, Count: 0}))},
		{"count over limit", EncodePacket(payloadPacket(Fragment{Index: 0, Count: maxFragmentCount + 1}))},
		{"unknown channel", EncodePacket(payloadPacket(Fragment{Channel: numChannels, Count: 1}))},
		{"truncated body", valid[:len(valid)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePacket(tt.data, testProtocol); !errors.Is(err, ErrBadPacket) {
				t.Fatalf("err = %v, want ErrBadPacket", err)
			}
		})
	}

	p, err := DecodePacket(valid, testProtocol)
	if err != nil {
		t.Fatalf("valid packet: %v", err)
	}
	if len(p.Fragments) != 1 || string(p.Fragments[0].Payload) != "hit" {
		t.Fatalf("fragments = %+v", p.Fragments)
	}
}

func TestProcessIgnoresOutOfRangeFragments(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewConnection(DefaultConfig(testProtocol), now)

	tests := []Fragment{
		{Index: -1, Count: 1},
		{Index: 1, Count: 1},
		{Index: 0, Count: 0},
		{Index: 0, Count: -4},
		{Index: 0, Count: maxFragmentCount + 1},
	}
	for i, f := range tests {
		p := payloadPacket(f)
		p.Sequence = uint16(i + 1)
		c.Process(p, now)
	}
	if got := c.Receive(OrderedReliable); len(got) != 0 {
		t.Fatalf("delivered %d messages from malformed fragments", len(got))
	}

	// A well-formed fragment on the same sequence still goes through.
	p := payloadPacket(Fragment{Count: 1, Payload: []byte("ok")})
	p.Sequence = uint16(len(tests) + 1)
	c.Process(p, now)
	if got := c.Receive(OrderedReliable); len(got) != 1 || string(got[0]) != "ok" {
		t.Fatalf("Receive = %q", got)
	}
}
