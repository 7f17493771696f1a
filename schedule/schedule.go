// Package schedule runs systems in ordered stages and drives the fixed-rate
// simulation from wall-clock frames.
package schedule

import (
	"time"

	"github.com/EngoEngine/ecs"
)

// Func adapts a plain function into a prioritized system. Systems in a stage
// run from the highest priority to the lowest, so every system in a stage
// must use a distinct priority.
type Func struct {
	Name  string
	Order int
	Run   func(dt float32)
}

func (f *Func) Update(dt float32) {
	f.Run(dt)
}

func (*Func) Remove(ecs.BasicEntity) {}

func (f *Func) Priority() int {
	return f.Order
}

// System builds a Func.
func System(name string, order int, run func(dt float32)) *Func {
	return &Func{Name: name, Order: order, Run: run}
}

// Stage is one ordered set of systems.
type Stage struct {
	Name  string
	world ecs.World
}

func NewStage(name string, systems ...ecs.System) *Stage {
	s := &Stage{Name: name}
	for _, sys := range systems {
		s.world.AddSystem(sys)
	}
	return s
}

func (s *Stage) Add(systems ...ecs.System) {
	for _, sys := range systems {
		s.world.AddSystem(sys)
	}
}

func (s *Stage) Run(dt float32) {
	s.world.Update(dt)
}

// Schedule is the per-process frame: one-shot Startup, then per frame
// PreUpdate, zero or more fixed ticks of FixedPreUpdate and FixedUpdate,
// Update and PostUpdate.
type Schedule struct {
	Startup        *Stage
	PreUpdate      *Stage
	FixedPreUpdate *Stage
	FixedUpdate    *Stage
	Update         *Stage
	PostUpdate     *Stage

	// OnTick runs before each fixed tick, used to advance the clock.
	OnTick func()

	step        time.Duration
	accumulator time.Duration
	maxTicks    int
	started     bool
}

// New creates a schedule stepping the fixed stages every step.
func New(step time.Duration) *Schedule {
	return &Schedule{
		Startup:        NewStage("Startup"),
		PreUpdate:      NewStage("PreUpdate"),
		FixedPreUpdate: NewStage("FixedPreUpdate"),
		FixedUpdate:    NewStage("FixedUpdate"),
		Update:         NewStage("Update"),
		PostUpdate:     NewStage("PostUpdate"),
		step:           step,
		maxTicks:       8,
	}
}

func (s *Schedule) Step() time.Duration {
	return s.step
}

// Frame runs one frame after elapsed wall time and returns the number of
// fixed ticks simulated. A long stall is capped so the process catches up
// gradually instead of spiraling.
func (s *Schedule) Frame(elapsed time.Duration) int {
	if !s.started {
		s.started = true
		s.Startup.Run(0)
	}
	dt := float32(elapsed.Seconds())
	s.PreUpdate.Run(dt)

	s.accumulator += elapsed
	ticks := 0
	fixed := float32(s.step.Seconds())
	for s.accumulator >= s.step && ticks < s.maxTicks {
		s.accumulator -= s.step
		if s.OnTick != nil {
			s.OnTick()
		}
		s.FixedPreUpdate.Run(fixed)
		s.FixedUpdate.Run(fixed)
		ticks++
	}
	if ticks == s.maxTicks && s.accumulator > s.step {
		s.accumulator = s.step
	}

	s.Update.Run(dt)
	s.PostUpdate.Run(dt)
	return ticks
}

// Overstep is how far wall time has run past the last fixed tick, in
// [0, 1), used to blend rendering between ticks.
func (s *Schedule) Overstep() float32 {
	return float32(s.accumulator) / float32(s.step)
}
