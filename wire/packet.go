package wire

import (
	"errors"
	"fmt"
)

type PacketType byte

const (
	PacketConnectionRequest PacketType = iota + 1
	PacketConnectionAccept
	PacketConnectionDenied
	PacketPayload
	PacketKeepAlive
	PacketDisconnect
)

func (t PacketType) String() string {
	switch t {
	case PacketConnectionRequest:
		return "connection-request"
	case PacketConnectionAccept:
		return "connection-accept"
	case PacketConnectionDenied:
		return "connection-denied"
	case PacketPayload:
		return "payload"
	case PacketKeepAlive:
		return "keep-alive"
	case PacketDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("packet(%d)", byte(t))
}

// ChannelID names a logical stream multiplexed over one connection.
type ChannelID byte

const (
	// OrderedReliable carries control messages and component replication.
	OrderedReliable ChannelID = iota
	// UnorderedReliable carries order-insensitive deltas such as input windows.
	UnorderedReliable

	numChannels = 2
)

func (c ChannelID) String() string {
	switch c {
	case OrderedReliable:
		return "ordered-reliable"
	case UnorderedReliable:
		return "unordered-reliable"
	}
	return fmt.Sprintf("channel(%d)", byte(c))
}

var (
	ErrProtocolMismatch = errors.New("wire: protocol id mismatch")
	ErrVersionMismatch  = errors.New("wire: version mismatch")
	ErrBadPacket        = errors.New("wire: malformed packet")
)

const (
	headerSize = 8 + 1 + 1 + 2 + 2 + 4
	// fragmentOverhead is a conservative bound on per-fragment framing bytes.
	fragmentOverhead = 1 + 10 + 3 + 3 + 3
	maxFragmentCount = 256
	ackFlag          = 0x80
)

type Header struct {
	ProtocolID uint64
	Type       PacketType
	Sequence   uint16
	// HasAck is false until the sender has received anything from us.
	HasAck  bool
	Ack     uint16
	AckBits uint32
}

// Fragment is one slice of a channel message. Messages that fit in a single
// fragment have Index 0 and Count 1.
type Fragment struct {
	Channel  ChannelID
	Sequence uint64
	Index    int
	Count    int
	Payload  []byte
}

func (f *Fragment) size() int {
	return fragmentOverhead + len(f.Payload)
}

type Packet struct {
	Header
	// Body is set for handshake and disconnect packets.
	Body []byte
	// Fragments is set for payload packets.
	Fragments []Fragment
}

func EncodePacket(p *Packet) []byte {
	size := headerSize + len(p.Body) + 4
	for i := range p.Fragments {
		size += p.Fragments[i].size()
	}
	w := NewWriter(size)
	w.Uint64(p.ProtocolID)
	w.Byte(Version)
	typ := byte(p.Type)
	if p.HasAck {
		typ |= ackFlag
	}
	w.Byte(typ)
	w.Uint16(p.Sequence)
	w.Uint16(p.Ack)
	w.Uint32(p.AckBits)
	switch p.Type {
	case PacketPayload, PacketKeepAlive:
		w.Uvarint(uint64(len(p.Fragments)))
		for _, f := range p.Fragments {
			w.Byte(byte(f.Channel))
			w.Uvarint(f.Sequence)
			w.Uvarint(uint64(f.Index))
			w.Uvarint(uint64(f.Count))
			w.Bytes(f.Payload)
		}
	default:
		w.Bytes(p.Body)
	}
	return w.Data()
}

// DecodePacket parses b and checks it belongs to protocolID.
func DecodePacket(b []byte, protocolID uint64) (*Packet, error) {
	r := NewReader(b)
	p := &Packet{}
	p.ProtocolID = r.Uint64()
	version := r.Byte()
	typ := r.Byte()
	p.HasAck = typ&ackFlag != 0
	p.Type = PacketType(typ &^ ackFlag)
	p.Sequence = r.Uint16()
	p.Ack = r.Uint16()
	p.AckBits = r.Uint32()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPacket, err)
	}
	if p.ProtocolID != protocolID {
		return nil, fmt.Errorf("%w: got %#x", ErrProtocolMismatch, p.ProtocolID)
	}
	if version != Version {
		return nil, fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, version, Version)
	}

	switch p.Type {
	case PacketPayload, PacketKeepAlive:
		n := r.Count()
		p.Fragments = make([]Fragment, 0, n)
		for i := 0; i < n; i++ {
			channel := ChannelID(r.Byte())
			sequence := r.Uvarint()
			index, count := r.Uvarint(), r.Uvarint()
			payload := r.Bytes()
			if r.Err() != nil {
				break
			}
			// Bounds are checked before narrowing so a huge index cannot wrap negative.
			if channel >= numChannels || count == 0 || count > maxFragmentCount || index >= count {
				return nil, fmt.Errorf("%w: bad fragment %d/%d on %s", ErrBadPacket, index, count, channel)
			}
			p.Fragments = append(p.Fragments, Fragment{
				Channel:  channel,
				Sequence: sequence,
				Index:    int(index),
				Count:    int(count),
				Payload:  payload,
			})
		}
	case PacketConnectionRequest, PacketConnectionAccept, PacketConnectionDenied, PacketDisconnect:
		p.Body = r.Bytes()
	default:
		return nil, fmt.Errorf("%w: unknown type %s", ErrBadPacket, p.Type)
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPacket, err)
	}
	return p, nil
}

// sequenceGreater compares wrapping 16-bit packet sequences.
func sequenceGreater(a, b uint16) bool {
	return (a > b && a-b <= 32768) || (a < b && b-a > 32768)
}
