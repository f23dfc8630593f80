package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/golemteam/golem/internal/logging"
)

// WebhookEvents lists the event names a webhook may subscribe to.
var WebhookEvents = []string{
	"worker_spawn", "worker_ready", "worker_exit", "worker_timeout",
	"reload", "reexec", "scale", "drain", "shutdown", "fatal",
}

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error
	m := cfg.Master

	if m.Workers < 0 {
		errs = append(errs, fmt.Errorf("master.workers must be >= 0, got %d", m.Workers))
	}
	if m.Port < 0 || m.Port > 65535 {
		errs = append(errs, fmt.Errorf("master.port must be between 0 and 65535, got %d", m.Port))
	}
	if m.Heartbeat.Duration <= 0 {
		errs = append(errs, fmt.Errorf("master.heartbeat must be positive, got %s", m.Heartbeat))
	}
	if m.Timeout.Duration <= m.Heartbeat.Duration {
		errs = append(errs, fmt.Errorf("master.timeout (%s) must be longer than master.heartbeat (%s)", m.Timeout, m.Heartbeat))
	}
	if m.DrainTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("master.drain_timeout must not be negative, got %s", m.DrainTimeout))
	}
	if m.RespawnRate <= 0 {
		errs = append(errs, fmt.Errorf("master.respawn_rate must be positive, got %g", m.RespawnRate))
	}
	if m.PrivilegeError != "continue" && m.PrivilegeError != "abort" {
		errs = append(errs, fmt.Errorf("master.privilege_error must be continue or abort, got %q", m.PrivilegeError))
	}
	if m.Env != "development" && m.Env != "production" {
		errs = append(errs, fmt.Errorf("master.env must be development or production, got %q", m.Env))
	}
	if err := logging.ValidateLevel(m.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("master.log_level: %w", err))
	}
	if m.LogFormat != "text" && m.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("master.log_format must be text or json, got %q", m.LogFormat))
	}
	if m.LogfileMaxSizeMB < 0 || m.LogfileBackups < 0 {
		errs = append(errs, fmt.Errorf("master.logfile_max_size_mb and master.logfile_backups must not be negative"))
	}
	if cfg.App.ShutdownTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("app.shutdown_timeout must not be negative, got %s", cfg.App.ShutdownTimeout))
	}

	for name, w := range cfg.Webhooks {
		prefix := "webhooks." + name
		if u, err := url.Parse(w.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: url must be an absolute URL, got %q", prefix, w.URL))
		}
		for _, ev := range w.Events {
			if !slices.Contains(WebhookEvents, ev) {
				errs = append(errs, fmt.Errorf("%s: unknown event %q (want one of %s)", prefix, ev, strings.Join(WebhookEvents, ", ")))
			}
		}
		if w.Template != "generic" && w.Template != "slack" {
			errs = append(errs, fmt.Errorf("%s: template must be generic or slack, got %q", prefix, w.Template))
		}
		if w.Timeout < 0 || w.Retries < 0 {
			errs = append(errs, fmt.Errorf("%s: timeout and retries must not be negative", prefix))
		}
	}

	return errs
}
