package schedule

import (
	"reflect"
	"testing"
	"time"
)

func TestStageRunsByPriority(t *testing.T) {
	var order []string
	record := func(name string) func(float32) {
		return func(float32) { order = append(order, name) }
	}
	stage := NewStage("FixedUpdate",
		System("physics", 200, record("physics")),
		System("status", 100, record("status")),
		System("input", 400, record("input")),
		System("weapons", 300, record("weapons")),
	)
	stage.Run(1)
	want := []string{"input", "weapons", "physics", "status"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestFrameAccumulatesFixedTicks(t *testing.T) {
	var tests = []struct {
		frames []time.Duration
		ticks  int
	}{
		{[]time.Duration{10 * time.Millisecond}, 0},
		{[]time.Duration{16 * time.Millisecond}, 1},
		{[]time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, 1},
		{[]time.Duration{48 * time.Millisecond}, 3},
		{[]time.Duration{time.Second}, 8},
	}
	for _, tt := range tests {
		s := New(16 * time.Millisecond)
		var log []string
		s.Startup.Add(System("startup", 0, func(float32) { log = append(log, "startup") }))
		s.PreUpdate.Add(System("receive", 0, func(float32) { log = append(log, "pre") }))
		s.FixedUpdate.Add(System("step", 0, func(float32) { log = append(log, "fixed") }))
		s.PostUpdate.Add(System("send", 0, func(float32) { log = append(log, "post") }))

		ticks := 0
		for _, f := range tt.frames {
			ticks += s.Frame(f)
		}
		if ticks != tt.ticks {
			t.Errorf("frames %v: ticks = %d, want %d", tt.frames, ticks, tt.ticks)
		}
		if log[0] != "startup" || log[1] != "pre" || log[len(log)-1] != "post" {
			t.Errorf("stage order = %v", log)
		}
	}
}
