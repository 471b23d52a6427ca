// Package config loads the YAML configuration shared by the soundfield
// binaries.
//
// Precedence, lowest first: DefaultConfig, the YAML file, .env and
// SOUNDFIELD_* environment variables, command-line flags. Validate runs last
// so the rest of the code can assume a well-formed config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"soundfield/internal/geometry"
	"soundfield/internal/logging"
)

// Config is the top-level YAML configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Area    AreaConfig    `yaml:"area"`
	Perform PerformConfig `yaml:"perform"`
	IPC     IPCConfig     `yaml:"ipc"`
	Player  PlayerConfig  `yaml:"player"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Listen         string `yaml:"listen"`
	PlayPath       string `yaml:"play_path"`
	RoomPath       string `yaml:"room_path"`
	SendBuffer     int    `yaml:"send_buffer"`
	ReadLimitBytes int64  `yaml:"read_limit_bytes"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	EventBuffer    int    `yaml:"event_buffer"`
}

type AreaConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

type PerformConfig struct {
	FingerRadius  float64 `yaml:"finger_radius"`
	SoloistCount  int     `yaml:"soloist_count"`
	HistoryLimit  int     `yaml:"history_limit"`
	VelocityScale float64 `yaml:"velocity_scale"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// SoundConfig names a payload and its length. The null backend uses the
// length to signal end of playback.
type SoundConfig struct {
	Name       string  `yaml:"name"`
	DurationMS int     `yaml:"duration_ms"`
	Level      float64 `yaml:"level"`
}

func (s SoundConfig) Duration() time.Duration {
	return time.Duration(s.DurationMS) * time.Millisecond
}

type PlayerConfig struct {
	ServerURL   string         `yaml:"server_url"`
	Position    geometry.Point `yaml:"position"`
	ReconnectMS int            `yaml:"reconnect_ms"`

	Slots       int    `yaml:"slots"`
	HRTFURL     string `yaml:"hrtf_url"`
	CrossfadeMS int    `yaml:"crossfade_ms"`
	FrameHz     int    `yaml:"frame_hz"`

	Ambient SoundConfig `yaml:"ambient"`
	Event   SoundConfig `yaml:"event"`
	Shake   SoundConfig `yaml:"shake"`

	ShakeThreshold     float64 `yaml:"shake_threshold"`
	ShakeDebounceTicks int     `yaml:"shake_debounce_ticks"`
	DebounceIntervalMS int     `yaml:"debounce_interval_ms"`

	TouchDevice string `yaml:"touch_device"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:         ":8000",
			PlayPath:       "/play",
			RoomPath:       "/room",
			SendBuffer:     64,
			ReadLimitBytes: 4096,
			WriteTimeoutMS: 2000,
			EventBuffer:    256,
		},
		Area: AreaConfig{
			Width:  1,
			Height: 1,
		},
		Perform: PerformConfig{
			FingerRadius:  0.3,
			SoloistCount:  1,
			HistoryLimit:  64,
			VelocityScale: 2,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/soundfield.sock",
		},
		Player: PlayerConfig{
			ServerURL:   "ws://127.0.0.1:8000/play",
			Position:    geometry.Point{X: 0.5, Y: 0.5},
			ReconnectMS: 2000,
			Slots:       2,
			CrossfadeMS: 50,
			FrameHz:     60,
			Ambient:     SoundConfig{Name: "ambient", DurationMS: 30000, Level: 1},
			Event:       SoundConfig{Name: "event", DurationMS: 1500, Level: 1},
			Shake:       SoundConfig{Name: "shake", DurationMS: 800, Level: 1},

			ShakeThreshold:     15,
			ShakeDebounceTicks: 10,
			DebounceIntervalMS: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the
// defaults. Unknown fields are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries command-line overrides. Each override is applied
// only when its pointer is non-nil, even if it points at a zero value.
type FlagOverrides struct {
	Listen     *string
	AreaWidth  *float64
	AreaHeight *float64

	FingerRadius *float64
	SoloistCount *int

	IPCSocketPath *string

	ServerURL   *string
	PositionX   *float64
	PositionY   *float64
	HRTFURL     *string
	TouchDevice *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Listen != nil {
		cfg.Server.Listen = *o.Listen
	}
	if o.AreaWidth != nil {
		cfg.Area.Width = *o.AreaWidth
	}
	if o.AreaHeight != nil {
		cfg.Area.Height = *o.AreaHeight
	}

	if o.FingerRadius != nil {
		cfg.Perform.FingerRadius = *o.FingerRadius
	}
	if o.SoloistCount != nil {
		cfg.Perform.SoloistCount = *o.SoloistCount
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.ServerURL != nil {
		cfg.Player.ServerURL = *o.ServerURL
	}
	if o.PositionX != nil {
		cfg.Player.Position.X = *o.PositionX
	}
	if o.PositionY != nil {
		cfg.Player.Position.Y = *o.PositionY
	}
	if o.HRTFURL != nil {
		cfg.Player.HRTFURL = *o.HRTFURL
	}
	if o.TouchDevice != nil {
		cfg.Player.TouchDevice = *o.TouchDevice
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// It is intended to be called after defaults, file, env and flags are
// applied.
func (c *Config) Validate() error {
	// Server
	if c.Server.Listen == "" {
		return errors.New("server.listen must not be empty")
	}
	if c.Server.PlayPath == "" || c.Server.PlayPath[0] != '/' {
		return errors.New("server.play_path must start with /")
	}
	if c.Server.RoomPath == "" || c.Server.RoomPath[0] != '/' {
		return errors.New("server.room_path must start with /")
	}
	if c.Server.PlayPath == c.Server.RoomPath {
		return errors.New("server.play_path and server.room_path must differ")
	}
	if c.Server.SendBuffer <= 0 {
		return errors.New("server.send_buffer must be > 0")
	}
	if c.Server.ReadLimitBytes <= 0 {
		return errors.New("server.read_limit_bytes must be > 0")
	}
	if c.Server.WriteTimeoutMS <= 0 {
		return errors.New("server.write_timeout_ms must be > 0")
	}
	if c.Server.EventBuffer <= 0 {
		return errors.New("server.event_buffer must be > 0")
	}

	// Area
	if c.Area.Width <= 0 || c.Area.Height <= 0 {
		return errors.New("area.width and area.height must be > 0")
	}

	// Perform
	if c.Perform.FingerRadius <= 0 {
		return errors.New("perform.finger_radius must be > 0")
	}
	if c.Perform.SoloistCount < 1 {
		return errors.New("perform.soloist_count must be >= 1")
	}
	if c.Perform.HistoryLimit < 2 {
		return errors.New("perform.history_limit must be >= 2")
	}
	if c.Perform.VelocityScale <= 0 {
		return errors.New("perform.velocity_scale must be > 0")
	}

	// Player
	if c.Player.ServerURL == "" {
		return errors.New("player.server_url must not be empty")
	}
	if c.Player.Slots < 2 {
		return errors.New("player.slots must be >= 2 (ambient and event)")
	}
	if c.Player.CrossfadeMS < 0 {
		return errors.New("player.crossfade_ms must be >= 0")
	}
	if c.Player.FrameHz <= 0 || c.Player.FrameHz > 1000 {
		return errors.New("player.frame_hz must be between 1 and 1000")
	}
	if c.Player.ReconnectMS <= 0 {
		return errors.New("player.reconnect_ms must be > 0")
	}
	for name, s := range map[string]SoundConfig{
		"ambient": c.Player.Ambient,
		"event":   c.Player.Event,
		"shake":   c.Player.Shake,
	} {
		if s.Name == "" {
			return fmt.Errorf("player.%s.name must not be empty", name)
		}
		if s.DurationMS <= 0 {
			return fmt.Errorf("player.%s.duration_ms must be > 0", name)
		}
	}
	if c.Player.ShakeThreshold <= 0 {
		return errors.New("player.shake_threshold must be > 0")
	}
	if c.Player.ShakeDebounceTicks < 0 {
		return errors.New("player.shake_debounce_ticks must be >= 0")
	}
	if c.Player.DebounceIntervalMS <= 0 {
		return errors.New("player.debounce_interval_ms must be > 0")
	}

	// Logging
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("logging.format must be %q or %q", "text", "json")
	}

	return nil
}

// WriteTimeout is the per-frame websocket write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
