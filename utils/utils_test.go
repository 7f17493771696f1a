package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

// TestReadToml reads a known config, checking every key it sets and the
// defaults of the keys it leaves out.
func TestReadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
input_delay_ticks = 4
correction_ticks_factor = 2.0

[common]
tick_rate = 32
server_addr = "10.0.0.2:6000"
transport = "websocket"
lobby_mode = "matchmaking"

[common.log]
level = "debug"

[client]
client_id = 9
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := ReadTOML(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.InputDelayTicks != 4 {
		t.Fatalf(`input_delay_ticks = %v, want 4`, cfg.InputDelayTicks)
	}
	if cfg.CorrectionTicksFactor != 2 {
		t.Fatalf(`correction_ticks_factor = %v, want 2`, cfg.CorrectionTicksFactor)
	}
	if cfg.Common.TickRate != 32 {
		t.Fatalf(`common.tick_rate = %v, want 32`, cfg.Common.TickRate)
	}
	if cfg.Common.Transport != TransportWebSocket || cfg.Common.LobbyMode != LobbyModeMatchmaking {
		t.Fatalf(`common = %+v`, cfg.Common)
	}
	if cfg.Common.Log.Level != "debug" || cfg.Common.Log.File != "duel.log" {
		t.Fatalf(`common.log = %+v`, cfg.Common.Log)
	}
	if cfg.Client.ClientID != 9 {
		t.Fatalf(`client.client_id = %v, want 9`, cfg.Client.ClientID)
	}
	if cfg.Server.ProfilePath != "players.bin" {
		t.Fatalf(`server.profile_path default = %q`, cfg.Server.ProfilePath)
	}
}

func TestParseTomlRejects(t *testing.T) {
	var tests = []struct {
		name     string
		contents string
	}{
		{"syntax", `tick_rate = `},
		{"transport", "[common]\ntransport = \"carrier-pigeon\""},
		{"lobby mode", "[common]\nlobby_mode = \"ranked\""},
		{"tick rate", "[common]\ntick_rate = 0"},
		{"input delay", "input_delay_ticks = -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTOML([]byte(tt.contents)); !errors.Is(err, ErrBadConfig) {
				t.Fatalf("err = %v, want ErrBadConfig", err)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Common.TickRate != 64 || cfg.Common.LobbyMode != LobbyModePrimary {
		t.Fatalf("defaults = %+v", cfg.Common)
	}
}

func TestAlmostEqual(t *testing.T) {
	var tests = []struct {
		a, b, threshold float64
		want            bool
	}{
		{1, 1, 0, true},
		{1, 1.005, 0.01, true},
		{1, 1.02, 0.01, false},
		{-1, 1, 1, false},
	}
	for _, tt := range tests {
		if got := AlmostEqual(tt.a, tt.b, tt.threshold); got != tt.want {
			t.Errorf("AlmostEqual(%v, %v, %v) = %v", tt.a, tt.b, tt.threshold, got)
		}
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duel.log")
	log, err := NewLogger(LogConfig{File: path, Level: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	log.Infow("hello", "tick", 1)
	_ = log.Sync()
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("log file not written: %v", err)
	}

	if _, err := NewLogger(LogConfig{Level: "loud"}); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("bad level accepted: %v", err)
	}
}

func TestMustPanicsInDebug(t *testing.T) {
	Debug = true
	defer func() {
		Debug = false
		if recover() == nil {
			t.Fatalf("Must did not panic")
		}
	}()
	Must(zap.NewNop().Sugar(), false, "broken", "key", 1)
}
