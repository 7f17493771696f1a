package server

import (
	"sync/atomic"
	"time"
)

// Metrics are the server's running counters. The tick goroutine writes them
// and the HTTP handler reads a snapshot.
type Metrics struct {
	Ticks          int64
	TotalTickNs    int64
	TickOverruns   int64
	PacketsIn      int64
	PacketsOut     int64
	BytesIn        int64
	BytesOut       int64
	BadPackets     int64
	Strikes        int64
	Connects       int64
	Disconnects    int64
	Denied         int64
	InputsReceived int64
	Hits           int64
	StoreFailures  int64
	// Unacked and SynthesizedInputs are gauges set from the tick loop.
	Unacked           int64
	SynthesizedInputs int64
}

func (m *Metrics) AddTick(d time.Duration, budget time.Duration) {
	atomic.AddInt64(&m.Ticks, 1)
	atomic.AddInt64(&m.TotalTickNs, int64(d))
	if d > budget {
		atomic.AddInt64(&m.TickOverruns, 1)
	}
}

func (m *Metrics) PacketIn(n int) {
	atomic.AddInt64(&m.PacketsIn, 1)
	atomic.AddInt64(&m.BytesIn, int64(n))
}

func (m *Metrics) PacketOut(n int) {
	atomic.AddInt64(&m.PacketsOut, 1)
	atomic.AddInt64(&m.BytesOut, int64(n))
}

func (m *Metrics) Inc(counter *int64) {
	atomic.AddInt64(counter, 1)
}

func (m *Metrics) Add(counter *int64, n int) {
	atomic.AddInt64(counter, int64(n))
}

func (m *Metrics) Set(gauge *int64, v int64) {
	atomic.StoreInt64(gauge, v)
}

// Snapshot returns a read-only copy for the /metrics handler.
func (m *Metrics) Snapshot() map[string]any {
	ticks := atomic.LoadInt64(&m.Ticks)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if ticks > 0 {
		avgMs = float64(total) / float64(ticks) / 1e6
	}
	return map[string]any{
		"ticks":           ticks,
		"avg_tick_ms":     avgMs,
		"tick_overruns":   atomic.LoadInt64(&m.TickOverruns),
		"packets_in":      atomic.LoadInt64(&m.PacketsIn),
		"packets_out":     atomic.LoadInt64(&m.PacketsOut),
		"bytes_in":        atomic.LoadInt64(&m.BytesIn),
		"bytes_out":       atomic.LoadInt64(&m.BytesOut),
		"bad_packets":     atomic.LoadInt64(&m.BadPackets),
		"strikes":         atomic.LoadInt64(&m.Strikes),
		"connects":        atomic.LoadInt64(&m.Connects),
		"disconnects":     atomic.LoadInt64(&m.Disconnects),
		"denied":          atomic.LoadInt64(&m.Denied),
		"inputs_received": atomic.LoadInt64(&m.InputsReceived),
		"hits":            atomic.LoadInt64(&m.Hits),
		"store_failures":  atomic.LoadInt64(&m.StoreFailures),
		"unacked":         atomic.LoadInt64(&m.Unacked),
		"synthesized":     atomic.LoadInt64(&m.SynthesizedInputs),
	}
}
