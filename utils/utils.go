package utils

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"
)

var ErrBadConfig = errors.New("bad config")

type LogConfig struct {
	File    string `toml:"file"`
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

type CommonConfig struct {
	TickRate   int       `toml:"tick_rate"`
	ProtocolID uint64    `toml:"protocol_id"`
	PrivateKey string    `toml:"private_key"`
	ServerAddr string    `toml:"server_addr"`
	Transport  string    `toml:"transport"`
	LobbyMode  string    `toml:"lobby_mode"`
	Log        LogConfig `toml:"log"`
}

type ServerConfig struct {
	HTTPAddr    string `toml:"http_addr"`
	ProfilePath string `toml:"profile_path"`
	MaxClients  int    `toml:"max_clients"`
	// Origins are the websocket origin patterns accepted on /ws.
	Origins []string `toml:"origins"`
}

type ResolutionConfig struct {
	X, Y int
}

type ClientConfig struct {
	ClientID   uint64           `toml:"client_id"`
	Resolution ResolutionConfig `toml:"resolution"`
}

type Config struct {
	InputDelayTicks       int64        `toml:"input_delay_ticks"`
	CorrectionTicksFactor float32      `toml:"correction_ticks_factor"`
	Common                CommonConfig `toml:"common"`
	Server                ServerConfig `toml:"server"`
	Client                ClientConfig `toml:"client"`
}

const (
	TransportUDP       = "udp"
	TransportWebSocket = "websocket"

	LobbyModePrimary     = "primary"
	LobbyModeMatchmaking = "matchmaking"
)

func DefaultConfig() Config {
	return Config{
		InputDelayTicks:       2,
		CorrectionTicksFactor: 1.5,
		Common: CommonConfig{
			TickRate:   64,
			ProtocolID: 7001,
			PrivateKey: "duel-dev-key",
			ServerAddr: "127.0.0.1:5000",
			Transport:  TransportUDP,
			LobbyMode:  LobbyModePrimary,
			Log: LogConfig{
				File:    "duel.log",
				Level:   "info",
				Console: true,
			},
		},
		Server: ServerConfig{
			HTTPAddr:    "127.0.0.1:4242",
			ProfilePath: "players.bin",
			MaxClients:  64,
			Origins:     []string{"localhost:*", "127.0.0.1:*"},
		},
		Client: ClientConfig{
			Resolution: ResolutionConfig{X: 640, Y: 480},
		},
	}
}

// ReadTOML reads fileName over the defaults.
func ReadTOML(fileName string) (*Config, error) {
	file, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	return ParseTOML(file)
}

func ParseTOML(b []byte) (*Config, error) {
	config := DefaultConfig()
	if err := toml.Unmarshal(b, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfig is ReadTOML that falls back to the defaults when fileName does
// not exist.
func LoadConfig(fileName string) (*Config, error) {
	config, err := ReadTOML(fileName)
	if errors.Is(err, os.ErrNotExist) {
		defaults := DefaultConfig()
		return &defaults, nil
	}
	return config, err
}

func (c *Config) Validate() error {
	switch {
	case c.Common.TickRate <= 0:
		return fmt.Errorf("%w: tick_rate %d", ErrBadConfig, c.Common.TickRate)
	case c.InputDelayTicks < 0:
		return fmt.Errorf("%w: input_delay_ticks %d", ErrBadConfig, c.InputDelayTicks)
	case c.CorrectionTicksFactor < 0:
		return fmt.Errorf("%w: correction_ticks_factor %v", ErrBadConfig, c.CorrectionTicksFactor)
	case c.Common.Transport != TransportUDP && c.Common.Transport != TransportWebSocket:
		return fmt.Errorf("%w: transport %q", ErrBadConfig, c.Common.Transport)
	case c.Common.LobbyMode != LobbyModePrimary && c.Common.LobbyMode != LobbyModeMatchmaking:
		return fmt.Errorf("%w: lobby_mode %q", ErrBadConfig, c.Common.LobbyMode)
	}
	return nil
}

func AlmostEqual(a, b, threshold float64) bool {
	return math.Abs(a-b) <= threshold
}

func AlmostEqual32(a, b, threshold float32) bool {
	return AlmostEqual(float64(a), float64(b), float64(threshold))
}
