package world

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

const DefaultTickRate = 64

// Params are the simulation constants. Both endpoints must run with equal
// values or prediction diverges.
type Params struct {
	TickRate int

	Gravity mgl32.Vec3

	PlayerRadius     float32
	PlayerHeight     float32
	PlayerMass       float32
	MaxSpeed         float32
	MaxAcceleration  float32
	JumpImpulse      mgl32.Vec3
	GroundThreshold  float32
	IdleSpeed        float32
	DashSpeedFactor  float32
	DashAccelFactor  float32
	BulletRadius     float32
	BulletHeight     float32
	BulletMass       float32
	BulletSpeed      float32
	BulletLifetime   int64
	CooldownTicks    int64
	BulletSpawnAhead float32

	DashTicks           int64
	LandingStunTicks    int64
	AttackTicks         int64
	AttackRecoveryTicks int64

	FloorHalfExtents mgl32.Vec3
}

func DefaultParams(tickRate int) Params {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	return Params{
		TickRate:         tickRate,
		Gravity:          mgl32.Vec3{0, -2, 0},
		PlayerRadius:     0.5,
		PlayerHeight:     0.5,
		PlayerMass:       1,
		MaxSpeed:         5,
		MaxAcceleration:  20,
		JumpImpulse:      mgl32.Vec3{0, 5, 0},
		GroundThreshold:  0.05,
		IdleSpeed:        0.1,
		DashSpeedFactor:  2,
		DashAccelFactor:  4,
		BulletRadius:     0.5,
		BulletHeight:     0.5,
		BulletMass:       0.1,
		BulletSpeed:      500,
		BulletLifetime:   int64(tickRate) * 3,
		CooldownTicks:    int64(tickRate / 5),
		BulletSpawnAhead: 1.1,

		DashTicks:           10,
		LandingStunTicks:    4,
		AttackTicks:         8,
		AttackRecoveryTicks: 6,

		FloorHalfExtents: mgl32.Vec3{50, 0.25, 50},
	}
}

// Dt is the fixed step in seconds.
func (p *Params) Dt() float32 {
	return 1 / float32(p.TickRate)
}

func (p *Params) TickDuration() time.Duration {
	return time.Second / time.Duration(p.TickRate)
}

// TicksFor rounds d up to whole ticks.
func (p *Params) TicksFor(d time.Duration) int64 {
	tick := p.TickDuration()
	return int64((d + tick - 1) / tick)
}
