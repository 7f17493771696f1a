package client

import (
	"testing"

	"duel/protocol"
)

func TestInterpolatorSample(t *testing.T) {
	in := NewInterpolator()
	in.Record(7, 10, []protocol.Component{protocol.Position{}, protocol.LinearVelocity{1, 1, 1}})
	in.Record(7, 12, []protocol.Component{protocol.Position{4, 0, 0}})

	for _, tt := range []struct {
		at   float32
		want protocol.Position
	}{
		{9, protocol.Position{}},
		{10, protocol.Position{}},
		{11, protocol.Position{2, 0, 0}},
		{12, protocol.Position{4, 0, 0}},
		{20, protocol.Position{4, 0, 0}},
	} {
		got, ok := in.Sample(7, protocol.KindPosition, tt.at)
		if !ok || got != tt.want {
			t.Errorf("Sample(%v) = %v, %v, want %v", tt.at, got, ok, tt.want)
		}
	}
	if _, ok := in.Sample(7, protocol.KindLinearVelocity, 11); ok {
		t.Error("velocity was recorded")
	}
	if got := in.RenderTick(0.5); got != 10.5 {
		t.Errorf("RenderTick = %v", got)
	}

	in.Forget(7)
	if _, ok := in.Sample(7, protocol.KindPosition, 11); ok {
		t.Error("forgotten entity still sampled")
	}
}

func TestInterpolatorKeepsRecentSamples(t *testing.T) {
	in := NewInterpolator()
	for tick := int64(0); tick < 20; tick++ {
		in.Record(1, tick, []protocol.Component{protocol.Position{float32(tick), 0, 0}})
	}
	in.Record(1, 19, []protocol.Component{protocol.Position{100, 0, 0}})
	got, _ := in.Sample(1, protocol.KindPosition, 0)
	if got != (protocol.Position{12, 0, 0}) {
		t.Fatalf("oldest sample %v", got)
	}
	got, _ = in.Sample(1, protocol.KindPosition, 19)
	if got != (protocol.Position{100, 0, 0}) {
		t.Fatalf("repeat tick did not replace: %v", got)
	}
}
