package wire

import (
	"errors"
	"time"
)

var ErrMessageTooLarge = errors.New("wire: message exceeds fragment limit")

// maxReceiveWindow bounds how far ahead of the delivery cursor a receiver
// buffers. Fragments beyond it are dropped and arrive again on resend.
const maxReceiveWindow = 4096

type pendingFragment struct {
	Fragment
	lastSent time.Time
	sends    int
	acked    bool
}

type sender struct {
	nextSeq uint64
	pending []*pendingFragment
}

func (s *sender) push(ch ChannelID, payload []byte, fragmentSize int) error {
	count := (len(payload) + fragmentSize - 1) / fragmentSize
	if count == 0 {
		count = 1
	}
	if count > maxFragmentCount {
		return ErrMessageTooLarge
	}
	seq := s.nextSeq
	s.nextSeq++
	for i := 0; i < count; i++ {
		start := i * fragmentSize
		end := start + fragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-start)
		copy(chunk, payload[start:end])
		s.pending = append(s.pending, &pendingFragment{
			Fragment: Fragment{
				Channel:  ch,
				Sequence: seq,
				Index:    i,
				Count:    count,
				Payload:  chunk,
			},
		})
	}
	return nil
}

// due returns the fragments that should go out now, oldest first.
func (s *sender) due(now time.Time, resend time.Duration) []*pendingFragment {
	var out []*pendingFragment
	for _, p := range s.pending {
		if p.acked {
			continue
		}
		if p.sends == 0 || now.Sub(p.lastSent) >= resend {
			out = append(out, p)
		}
	}
	return out
}

func (s *sender) ack(seq uint64, index int) bool {
	for _, p := range s.pending {
		if p.Sequence == seq && p.Index == index && !p.acked {
			p.acked = true
			return true
		}
	}
	return false
}

func (s *sender) compact() {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if !p.acked {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept
}

func (s *sender) inFlight() int {
	return len(s.pending)
}

type assembly struct {
	parts [][]byte
	got   int
}

// receiver reassembles fragments and releases whole messages exactly once.
// Ordered receivers additionally hold messages back until every earlier
// sequence has been released.
type receiver struct {
	ordered bool
	// next is the lowest sequence not yet released; everything below it is done.
	next      uint64
	partial   map[uint64]*assembly
	complete  map[uint64][]byte
	delivered map[uint64]struct{}
	out       [][]byte
}

func newReceiver(ordered bool) *receiver {
	return &receiver{
		ordered:   ordered,
		partial:   make(map[uint64]*assembly),
		complete:  make(map[uint64][]byte),
		delivered: make(map[uint64]struct{}),
	}
}

// accept returns false when the fragment was a duplicate or out of window.
func (r *receiver) accept(f Fragment) bool {
	if f.Sequence < r.next || f.Sequence >= r.next+maxReceiveWindow {
		return false
	}
	if _, ok := r.delivered[f.Sequence]; ok {
		return false
	}
	if _, ok := r.complete[f.Sequence]; ok {
		return false
	}

	if f.Count < 1 || f.Count > maxFragmentCount || f.Index < 0 || f.Index >= f.Count {
		return false
	}
	a, ok := r.partial[f.Sequence]
	if !ok {
		a = &assembly{parts: make([][]byte, f.Count)}
		r.partial[f.Sequence] = a
	}
	if len(a.parts) != f.Count || a.parts[f.Index] != nil {
		return false
	}
	part := make([]byte, len(f.Payload))
	copy(part, f.Payload)
	a.parts[f.Index] = part
	a.got++
	if a.got < len(a.parts) {
		return true
	}

	delete(r.partial, f.Sequence)
	size := 0
	for _, p := range a.parts {
		size += len(p)
	}
	msg := make([]byte, 0, size)
	for _, p := range a.parts {
		msg = append(msg, p...)
	}

	if r.ordered {
		r.complete[f.Sequence] = msg
		for {
			m, ok := r.complete[r.next]
			if !ok {
				break
			}
			delete(r.complete, r.next)
			r.out = append(r.out, m)
			r.next++
		}
		return true
	}

	r.out = append(r.out, msg)
	r.delivered[f.Sequence] = struct{}{}
	for {
		if _, ok := r.delivered[r.next]; !ok {
			break
		}
		delete(r.delivered, r.next)
		r.next++
	}
	return true
}

func (r *receiver) drain() [][]byte {
	out := r.out
	r.out = nil
	return out
}
