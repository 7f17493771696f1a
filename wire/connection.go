package wire

import (
	"errors"
	"fmt"
	"time"
)

// ErrConnectionLost is raised once a peer stops acknowledging or stops
// sending. Callers treat it as a disconnect.
var ErrConnectionLost = errors.New("wire: connection lost")

type Config struct {
	ProtocolID        uint64
	MaxPacketSize     int
	FragmentSize      int
	ResendInterval    time.Duration
	MaxResends        int
	Timeout           time.Duration
	KeepAliveInterval time.Duration
}

func DefaultConfig(protocolID uint64) Config {
	return Config{
		ProtocolID:        protocolID,
		MaxPacketSize:     1200,
		FragmentSize:      1024,
		ResendInterval:    100 * time.Millisecond,
		MaxResends:        40,
		Timeout:           5 * time.Second,
		KeepAliveInterval: 100 * time.Millisecond,
	}
}

const sentBufferSize = 1024

type fragmentRef struct {
	channel ChannelID
	seq     uint64
	index   int
}

type sentRecord struct {
	seq   uint16
	valid bool
	at    time.Time
	frags []fragmentRef
}

type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	Resends         uint64
	Duplicates      uint64
}

// Connection layers sequencing, acks, retransmission and reassembly over an
// unreliable datagram path to a single peer. It is not safe for concurrent
// use; the owning tick loop drives it.
type Connection struct {
	cfg Config

	localSeq    uint16
	remoteSeq   uint16
	remoteBits  uint32
	receivedAny bool
	ackPending  bool

	sent      [sentBufferSize]sentRecord
	senders   [numChannels]*sender
	receivers [numChannels]*receiver

	lastRecv time.Time
	lastSend time.Time
	rtt      time.Duration
	broken   error
	stats    Stats
}

func NewConnection(cfg Config, now time.Time) *Connection {
	c := &Connection{
		cfg:      cfg,
		lastRecv: now,
	}
	for i := range c.senders {
		c.senders[i] = &sender{}
	}
	c.receivers[OrderedReliable] = newReceiver(true)
	c.receivers[UnorderedReliable] = newReceiver(false)
	return c
}

// Send queues payload on ch. It is delivered exactly once; on OrderedReliable
// also in send order.
func (c *Connection) Send(ch ChannelID, payload []byte) error {
	if c.broken != nil {
		return c.broken
	}
	if ch >= numChannels {
		return fmt.Errorf("wire: unknown channel %d", ch)
	}
	return c.senders[ch].push(ch, payload, c.cfg.FragmentSize)
}

// Receive drains every whole message released on ch since the last call.
func (c *Connection) Receive(ch ChannelID) [][]byte {
	if ch >= numChannels {
		return nil
	}
	return c.receivers[ch].drain()
}

func (c *Connection) RTT() time.Duration {
	return c.rtt
}

func (c *Connection) Stats() Stats {
	return c.stats
}

func (c *Connection) Err() error {
	return c.broken
}

// InFlight reports how many fragments still wait for an ack.
func (c *Connection) InFlight() int {
	n := 0
	for _, s := range c.senders {
		n += s.inFlight()
	}
	return n
}

// Process applies an inbound payload or keep-alive packet.
func (c *Connection) Process(p *Packet, now time.Time) {
	if c.broken != nil {
		return
	}
	if p.Type != PacketPayload && p.Type != PacketKeepAlive {
		return
	}
	c.lastRecv = now
	c.stats.PacketsReceived++
	if p.HasAck {
		c.processAcks(p.Ack, p.AckBits, now)
	}

	if !c.markReceived(p.Sequence) {
		c.stats.Duplicates++
		return
	}
	if p.Type == PacketPayload {
		c.ackPending = true
	}
	for _, f := range p.Fragments {
		if f.Channel >= numChannels || !c.receivers[f.Channel].accept(f) {
			c.stats.Duplicates++
		}
	}
}

func (c *Connection) markReceived(seq uint16) bool {
	if !c.receivedAny {
		c.receivedAny = true
		c.remoteSeq = seq
		c.remoteBits = 0
		return true
	}
	if seq == c.remoteSeq {
		return false
	}
	if sequenceGreater(seq, c.remoteSeq) {
		shift := uint32(seq - c.remoteSeq)
		if shift > 32 {
			c.remoteBits = 0
		} else {
			c.remoteBits = c.remoteBits<<shift | 1<<(shift-1)
		}
		c.remoteSeq = seq
		return true
	}
	diff := uint32(c.remoteSeq - seq)
	if diff > 32 {
		// Too old to track; fragment dedup still protects delivery.
		return true
	}
	mask := uint32(1) << (diff - 1)
	if c.remoteBits&mask != 0 {
		return false
	}
	c.remoteBits |= mask
	return true
}

func (c *Connection) processAcks(ack uint16, bits uint32, now time.Time) {
	c.ackPacket(ack, now)
	for i := uint16(0); i < 32; i++ {
		if bits&(1<<i) != 0 {
			c.ackPacket(ack-i-1, now)
		}
	}
	for _, s := range c.senders {
		s.compact()
	}
}

func (c *Connection) ackPacket(seq uint16, now time.Time) {
	rec := &c.sent[int(seq)%sentBufferSize]
	if !rec.valid || rec.seq != seq {
		return
	}
	rec.valid = false
	sample := now.Sub(rec.at)
	if c.rtt == 0 {
		c.rtt = sample
	} else {
		c.rtt += (sample - c.rtt) / 8
	}
	for _, ref := range rec.frags {
		c.senders[ref.channel].ack(ref.seq, ref.index)
	}
	rec.frags = nil
}

func (c *Connection) resendInterval() time.Duration {
	interval := c.cfg.ResendInterval
	if scaled := c.rtt * 5 / 4; scaled > interval {
		interval = scaled
	}
	return interval
}

// Flush builds the packets that should be sent now. It returns
// ErrConnectionLost once the idle timeout or the retransmission budget is
// exhausted; the connection stays broken afterwards.
func (c *Connection) Flush(now time.Time) ([]*Packet, error) {
	if c.broken != nil {
		return nil, c.broken
	}
	if c.cfg.Timeout > 0 && now.Sub(c.lastRecv) > c.cfg.Timeout {
		c.broken = fmt.Errorf("%w: no packets for %v", ErrConnectionLost, now.Sub(c.lastRecv))
		return nil, c.broken
	}

	var due []*pendingFragment
	resend := c.resendInterval()
	for _, s := range c.senders {
		due = append(due, s.due(now, resend)...)
	}
	for _, p := range due {
		if p.sends > c.cfg.MaxResends {
			c.broken = fmt.Errorf("%w: retransmit budget exceeded on %s", ErrConnectionLost, p.Channel)
			return nil, c.broken
		}
	}

	var packets []*Packet
	budget := c.cfg.MaxPacketSize - headerSize - 4
	var current *Packet
	used := 0
	var refs []fragmentRef
	finish := func() {
		if current == nil {
			return
		}
		c.stamp(current, now, refs)
		packets = append(packets, current)
		current, used, refs = nil, 0, nil
	}
	for _, p := range due {
		size := p.size()
		if current != nil && used+size > budget {
			finish()
		}
		if current == nil {
			current = &Packet{Header: Header{Type: PacketPayload}}
		}
		current.Fragments = append(current.Fragments, p.Fragment)
		refs = append(refs, fragmentRef{channel: p.Channel, seq: p.Sequence, index: p.Index})
		used += size
		if p.sends > 0 {
			c.stats.Resends++
		}
		p.sends++
		p.lastSent = now
	}
	finish()

	if len(packets) == 0 && (c.ackPending || now.Sub(c.lastSend) >= c.cfg.KeepAliveInterval) {
		ka := &Packet{Header: Header{Type: PacketKeepAlive}}
		c.stamp(ka, now, nil)
		packets = append(packets, ka)
	}
	if len(packets) > 0 {
		c.ackPending = false
		c.lastSend = now
	}
	return packets, nil
}

func (c *Connection) stamp(p *Packet, now time.Time, refs []fragmentRef) {
	p.ProtocolID = c.cfg.ProtocolID
	p.Sequence = c.localSeq
	p.HasAck = c.receivedAny
	p.Ack = c.remoteSeq
	p.AckBits = c.remoteBits
	c.sent[int(c.localSeq)%sentBufferSize] = sentRecord{
		seq:   c.localSeq,
		valid: true,
		at:    now,
		frags: refs,
	}
	c.localSeq++
	c.stats.PacketsSent++
}
