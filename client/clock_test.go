package client

import (
	"testing"
	"time"
)

func TestClockTarget(t *testing.T) {
	c := ClockSync{Step: 10 * time.Millisecond, InputDelay: 2}
	for _, tt := range []struct {
		server int64
		rtt    time.Duration
		want   int64
	}{
		{100, 0, 104},
		{100, 10 * time.Millisecond, 105},
		{100, 25 * time.Millisecond, 107},
		{0, 40 * time.Millisecond, 8},
	} {
		if got := c.Target(tt.server, tt.rtt); got != tt.want {
			t.Errorf("Target(%d, %s) = %d, want %d", tt.server, tt.rtt, got, tt.want)
		}
	}
}

func TestClockDrift(t *testing.T) {
	c := ClockSync{Step: 10 * time.Millisecond, InputDelay: 2}
	for _, tt := range []struct {
		local int64
		want  bool
	}{
		{104, false},
		{112, false},
		{113, true},
		{96, false},
		{95, true},
	} {
		if got := c.Drifted(tt.local, 100, 0); got != tt.want {
			t.Errorf("Drifted(%d) = %v, want %v", tt.local, got, tt.want)
		}
	}
}
