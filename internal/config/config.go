// Package config loads cmd/reactorctl's server configuration from a TOML
// file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig is cmd/reactorctl's serve subcommands' configuration: the
// listen addresses, buffer sizing, and the terminate-escalation interval
// contextthread uses to re-signal a slow-to-stop service.
type ServerConfig struct {
	TCPAddr             string   `toml:"tcp_addr"`
	UDPAddr             string   `toml:"udp_addr"`
	BufferSize          int      `toml:"buffer_size"`
	IdleTimeout         Duration `toml:"idle_timeout"`
	TerminateEscalation Duration `toml:"terminate_escalation"`
	MetricsAddr         string   `toml:"metrics_addr"`
	LogLevel            string   `toml:"log_level"`
}

// Duration wraps time.Duration so BurntSushi/toml can (de)serialize it
// from a string like "30s" instead of a raw integer nanosecond count.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration cmd/reactorctl uses absent a config
// file: loopback TCP and UDP listeners on ephemeral ports, a 64 KiB read
// buffer, no idle reaping, and a 1 second terminate-escalation interval.
func Default() *ServerConfig {
	return &ServerConfig{
		TCPAddr:             "127.0.0.1:0",
		UDPAddr:             "127.0.0.1:0",
		BufferSize:          64 * 1024,
		IdleTimeout:         Duration{0},
		TerminateEscalation: Duration{time.Second},
		LogLevel:            "info",
	}
}

// Load reads and parses a TOML config file, starting from Default() so an
// absent field keeps its default rather than zeroing out.
func Load(path string) (*ServerConfig, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
