// Package config loads process settings from the environment and upstream
// definitions from a YAML file.
//
// Secrets never appear in the file. Upstream entries name the environment
// variables holding them (keyEnv, tokenEnv, privateKeyEnv) and a
// SecretSource resolves those names at load time.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every process setting, e.g. UPGUARD_LOG_LEVEL.
const EnvPrefix = "UPGUARD"

// Settings holds process-level configuration.
type Settings struct {
	ConfigFile  string   `envconfig:"CONFIG" default:"upguard.yaml"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string   `envconfig:"LOG_FORMAT" default:"text"`
	LogFile     string   `envconfig:"LOG_FILE"`
	RedisURL    string   `envconfig:"REDIS_URL"`
	AdminAddr   string   `envconfig:"ADMIN_ADDR" default:":9090"`
	CORSOrigins []string `envconfig:"ADMIN_CORS_ORIGINS"`
	GlobalRPS   float64  `envconfig:"GLOBAL_RPS" default:"0"`
	GlobalBurst int      `envconfig:"GLOBAL_BURST" default:"10"`
}

// LoadSettings reads Settings from UPGUARD_* environment variables.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks enumerated and numeric settings.
func (s Settings) Validate() error {
	if _, err := ParseLevel(s.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", s.LogFormat)
	}
	if s.GlobalRPS < 0 {
		return fmt.Errorf("global rps must not be negative")
	}
	if s.GlobalRPS > 0 && s.GlobalBurst <= 0 {
		return fmt.Errorf("global burst must be positive when global rps is set")
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
