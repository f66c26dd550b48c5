// Package config loads the node's configuration from a YAML file,
// overridable by command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChannelConfig describes one KISS channel the node attaches to.
type ChannelConfig struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Role               string   `yaml:"role"` // "wide", "fill-in", or "igate"
	MyCall             string   `yaml:"myCall"`
	MaxWideN           int      `yaml:"maxWideN"`
	AppendDigiCallsign bool     `yaml:"appendDigiCallsign"`
	DigiCallsigns      []string `yaml:"digiCallsigns"`

	Adapter string `yaml:"adapter"` // "tcp-kiss", "serial-kiss", "agw"
	Address string `yaml:"address"` // host:port for tcp-kiss/agw, device path for serial-kiss
	Baud    int    `yaml:"baud"`
	AGWPort int    `yaml:"agwPort"` // AGWPE radio port index, not a TCP port
}

// RouteConfig is a digipeat fan-out route between two channels.
type RouteConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// PersistenceConfig selects the Persistence collaborator backend.
type PersistenceConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sqlite"
	Path    string `yaml:"path"`    // sqlite file path
}

// BBSConfig configures the APRS-message BBS.
type BBSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Call    string `yaml:"call"`
}

// ChatConfig configures mesh chat.
type ChatConfig struct {
	Enabled    bool `yaml:"enabled"`
	RateLimit  int  `yaml:"rateLimit"`
	MaxHistory int  `yaml:"maxHistory"`
}

// WeatherConfig configures the weather-alert repeater.
type WeatherConfig struct {
	Enabled          bool     `yaml:"enabled"`
	SAMECodes        []string `yaml:"sameCodes"`
	DigipeatChannels []string `yaml:"digipeatChannels"`
}

// MetricsConfig configures the background metric sampling task.
type MetricsConfig struct {
	CheckIntervalSeconds int                `yaml:"checkIntervalSeconds"`
	Thresholds           map[string]float64 `yaml:"thresholds"`
}

// SessionConfig configures the AX.25 connected-mode session engine.
type SessionConfig struct {
	InactivityTimeoutSeconds int `yaml:"inactivityTimeoutSeconds"`
	AckDeferWindowSeconds    int `yaml:"ackDeferWindowSeconds"`
}

// Config is the node's full configuration, loaded from YAML.
type Config struct {
	LogLevel    string            `yaml:"logLevel"`
	Channels    []ChannelConfig   `yaml:"channels"`
	Routes      []RouteConfig     `yaml:"routes"`
	Persistence PersistenceConfig `yaml:"persistence"`
	BBS         BBSConfig         `yaml:"bbs"`
	Chat        ChatConfig        `yaml:"chat"`
	Weather     WeatherConfig     `yaml:"weather"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Session     SessionConfig     `yaml:"session"`
}

// Default returns a Config with the built-in defaults applied.
func Default() Config {
	return Config{
		LogLevel: "info",
		Persistence: PersistenceConfig{
			Backend: "memory",
		},
		BBS: BBSConfig{
			Enabled: true,
		},
		Chat: ChatConfig{
			Enabled:    true,
			RateLimit:  10,
			MaxHistory: 100,
		},
		Metrics: MetricsConfig{
			CheckIntervalSeconds: 60,
			Thresholds: map[string]float64{
				"servicedWideBlocked": 100,
				"maxWideBlocked":      100,
			},
		},
		Session: SessionConfig{
			InactivityTimeoutSeconds: 300,
			AckDeferWindowSeconds:    5,
		},
	}
}

// Load reads and parses the YAML file at path, merging it over
// Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// InactivityTimeout returns the session inactivity timeout as a
// time.Duration, falling back to the built-in default when unset.
func (s SessionConfig) InactivityTimeout() time.Duration {
	if s.InactivityTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(s.InactivityTimeoutSeconds) * time.Second
}

// AckDeferWindow returns the deferred-ack window as a time.Duration.
func (s SessionConfig) AckDeferWindow() time.Duration {
	if s.AckDeferWindowSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.AckDeferWindowSeconds) * time.Second
}

// MetricsCheckInterval returns the metric-sampling interval.
func (m MetricsConfig) MetricsCheckInterval() time.Duration {
	if m.CheckIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}
