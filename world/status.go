package world

import "fmt"

type StatusKind uint8

const (
	StatusIdle StatusKind = iota
	StatusGrounded
	StatusAirborne
	StatusDashing
	StatusStunned
	StatusAttacking
)

func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusGrounded:
		return "grounded"
	case StatusAirborne:
		return "airborne"
	case StatusDashing:
		return "dashing"
	case StatusStunned:
		return "stunned"
	case StatusAttacking:
		return "attacking"
	}
	return fmt.Sprintf("status(%d)", uint8(k))
}

func (k StatusKind) timed() bool {
	return k == StatusDashing || k == StatusStunned || k == StatusAttacking
}

// rank orders competing requests within one tick; the higher one wins.
func (k StatusKind) rank() int {
	switch k {
	case StatusStunned:
		return 3
	case StatusAttacking:
		return 2
	case StatusDashing:
		return 1
	}
	return 0
}

// PlayerStatus is the player state machine. Requests made while a tick is
// simulated are held in Pending and take effect in the status stage, so the
// input stage of the next tick is the first to observe them.
type PlayerStatus struct {
	Kind      StatusKind
	Remaining int64
	Grounded  bool
	// AirJumps are jumps allowed without ground contact.
	AirJumps int

	Pending      StatusKind
	PendingTicks int64
	HasPending   bool
}

func NewPlayerStatus() PlayerStatus {
	return PlayerStatus{Kind: StatusAirborne}
}

func (s *PlayerStatus) BlocksInput() bool {
	return s.Kind == StatusStunned
}

func (s *PlayerStatus) BlocksMovement() bool {
	return s.Kind == StatusStunned || s.Kind == StatusAttacking
}

// Request queues a timed status for the next status stage.
func (s *PlayerStatus) Request(kind StatusKind, ticks int64) {
	if ticks <= 0 {
		return
	}
	if s.HasPending && s.Pending.rank() > kind.rank() {
		return
	}
	s.Pending, s.PendingTicks, s.HasPending = kind, ticks, true
}

// Bounce is applied when the player's bullet strikes a wall: the jump budget
// is restored and any dash ends.
func (s *PlayerStatus) Bounce() {
	s.AirJumps = 1
	if s.Kind == StatusDashing {
		s.Kind, s.Remaining = StatusAirborne, 0
		if s.Grounded {
			s.Kind = StatusGrounded
		}
	}
	if s.HasPending && s.Pending == StatusDashing {
		s.HasPending = false
	}
}

// Transition advances the machine one tick given this tick's ground contact
// and horizontal speed.
func (s PlayerStatus) Transition(p *Params, grounded bool, speed float32) PlayerStatus {
	landed := grounded && !s.Grounded
	s.Grounded = grounded
	if grounded {
		s.AirJumps = 0
	}

	if s.HasPending {
		s.Kind, s.Remaining = s.Pending, s.PendingTicks
		s.HasPending = false
		return s
	}

	if s.Kind.timed() {
		s.Remaining--
		if s.Remaining > 0 {
			return s
		}
		if s.Kind == StatusAttacking && p.AttackRecoveryTicks > 0 {
			s.Kind, s.Remaining = StatusStunned, p.AttackRecoveryTicks
			return s
		}
		s.Remaining = 0
	} else if landed && s.Kind == StatusAirborne && p.LandingStunTicks > 0 {
		s.Kind, s.Remaining = StatusStunned, p.LandingStunTicks
		return s
	}

	switch {
	case !grounded:
		s.Kind = StatusAirborne
	case speed < p.IdleSpeed:
		s.Kind = StatusIdle
	default:
		s.Kind = StatusGrounded
	}
	return s
}
