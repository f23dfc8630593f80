// Package config handles loading and validating golem configuration.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the top-level golem configuration.
type Config struct {
	Master   MasterConfig             `toml:"master"`
	App      AppConfig                `toml:"app"`
	Webhooks map[string]WebhookConfig `toml:"webhooks"`

	// Path is the file the config was read from, empty for built-in
	// defaults. It is not part of the file format.
	Path string `toml:"-"`
}

// MasterConfig holds supervisor settings.
type MasterConfig struct {
	Workers        int      `toml:"workers"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	PID            string   `toml:"pid"`
	User           string   `toml:"user"`
	Group          string   `toml:"group"`
	Daemonize      bool     `toml:"daemonize"`
	Debug          bool     `toml:"debug"`
	Raw            bool     `toml:"raw"`
	Watch          bool     `toml:"watch"`
	Env            string   `toml:"env"`
	Heartbeat      Duration `toml:"heartbeat"`
	Timeout        Duration `toml:"timeout"`
	DrainTimeout   Duration `toml:"drain_timeout"`
	RespawnRate    float64  `toml:"respawn_rate"`
	PrivilegeError string   `toml:"privilege_error"`

	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	Logfile          string `toml:"logfile"`
	LogfileMaxSizeMB int    `toml:"logfile_max_size_mb"`
	LogfileBackups   int    `toml:"logfile_backups"`

	MetricsListen string `toml:"metrics_listen"`
}

// AppConfig holds settings for the built-in application.
type AppConfig struct {
	Root            string   `toml:"root"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// WebhookConfig holds per-webhook settings.
type WebhookConfig struct {
	URL      string            `toml:"url"`
	Events   []string          `toml:"events"`
	Headers  map[string]string `toml:"headers"`
	Timeout  int               `toml:"timeout"`
	Retries  int               `toml:"retries"`
	Template string            `toml:"template"`
}

// Addr returns host:port.
func (m MasterConfig) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// Production reports whether env selects production mode.
func (m MasterConfig) Production() bool {
	return m.Env == "production"
}

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
