package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvListen     = "SOUNDFIELD_LISTEN"
	EnvIPCSocket  = "SOUNDFIELD_IPC_SOCKET"
	EnvServerURL  = "SOUNDFIELD_SERVER_URL"
	EnvHRTFURL    = "SOUNDFIELD_HRTF_URL"
	EnvLogLevel   = "SOUNDFIELD_LOG_LEVEL"
	EnvLogFormat  = "SOUNDFIELD_LOG_FORMAT"
	EnvSoloists   = "SOUNDFIELD_SOLOIST_COUNT"
	EnvSendBuffer = "SOUNDFIELD_SEND_BUFFER"
)

// LoadEnv reads .env files into the process environment without overriding
// variables that are already set. With no paths, ".env" is used. A missing
// file is not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// ApplyEnv overlays SOUNDFIELD_* variables onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Server.Listen = GetEnv(EnvListen, cfg.Server.Listen)
	cfg.Server.SendBuffer = GetEnvInt(EnvSendBuffer, cfg.Server.SendBuffer)
	cfg.IPC.SocketPath = GetEnv(EnvIPCSocket, cfg.IPC.SocketPath)
	cfg.Perform.SoloistCount = GetEnvInt(EnvSoloists, cfg.Perform.SoloistCount)
	cfg.Player.ServerURL = GetEnv(EnvServerURL, cfg.Player.ServerURL)
	cfg.Player.HRTFURL = GetEnv(EnvHRTFURL, cfg.Player.HRTFURL)
	cfg.Logging.Level = GetEnv(EnvLogLevel, cfg.Logging.Level)
	cfg.Logging.Format = GetEnv(EnvLogFormat, cfg.Logging.Format)
}

// Load resolves the full configuration: defaults or the file at path,
// then .env and the environment, then flag overrides, then validation.
func Load(path string, envFiles []string, flags FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := LoadEnv(envFiles...); err != nil {
		return Config{}, err
	}
	ApplyEnv(&cfg)
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
