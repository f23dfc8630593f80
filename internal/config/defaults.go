package config

import (
	"runtime"
	"time"
)

// Default values.
const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 8080
	DefaultPIDPath   = "/var/run/golem.pid"
	DefaultEnv       = "development"
	DefaultHeartbeat = 1500 * time.Millisecond
	DefaultTimeout   = 3 * time.Second
)

// Defaults returns the configuration used when no file is found.
func Defaults() *Config {
	cfg := &Config{}
	cfg.Master.Workers = runtime.NumCPU()
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-value fields with their default values.
// Workers is left alone: zero is a valid pool size, so Parse decides it.
func ApplyDefaults(cfg *Config) {
	m := &cfg.Master
	if m.Host == "" {
		m.Host = DefaultHost
	}
	if m.Port == 0 {
		m.Port = DefaultPort
	}
	if m.PID == "" {
		m.PID = DefaultPIDPath
	}
	if m.Env == "" {
		m.Env = DefaultEnv
	}
	if m.Heartbeat.Duration == 0 {
		m.Heartbeat = D(DefaultHeartbeat)
	}
	if m.Timeout.Duration == 0 {
		m.Timeout = D(DefaultTimeout)
	}
	if m.RespawnRate == 0 {
		m.RespawnRate = 2.0
	}
	if m.PrivilegeError == "" {
		m.PrivilegeError = "continue"
	}
	if m.LogLevel == "" {
		m.LogLevel = "info"
	}
	if m.LogFormat == "" {
		m.LogFormat = "text"
	}
	if m.LogfileMaxSizeMB == 0 {
		m.LogfileMaxSizeMB = 100
	}
	if m.LogfileBackups == 0 {
		m.LogfileBackups = 5
	}

	if cfg.App.ShutdownTimeout.Duration == 0 {
		cfg.App.ShutdownTimeout = D(30 * time.Second)
	}

	for name, w := range cfg.Webhooks {
		if w.Timeout == 0 {
			w.Timeout = 5
		}
		if w.Retries == 0 {
			w.Retries = 3
		}
		if w.Template == "" {
			w.Template = "generic"
		}
		cfg.Webhooks[name] = w
	}
}
