package config

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestParseValidConfig(t *testing.T) {
	tomlData := `
[master]
workers = 4
host = "0.0.0.0"
port = 9000
pid = "/tmp/golem-test.pid"
user = "nobody"
debug = true
heartbeat = "500ms"
timeout = "2s"
drain_timeout = "10s"
log_level = "notice"
log_format = "json"

[app]
root = "/srv/www"
shutdown_timeout = "5s"

[webhooks.ops]
url = "https://example.com/hook"
events = ["worker_exit", "fatal"]
template = "slack"
`
	cfg, warnings, err := LoadBytes([]byte(tomlData), "test.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) > 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	m := cfg.Master
	if m.Workers != 4 {
		t.Errorf("workers = %d, want 4", m.Workers)
	}
	if m.Addr() != "0.0.0.0:9000" {
		t.Errorf("addr = %q", m.Addr())
	}
	if m.Heartbeat.Duration != 500*time.Millisecond {
		t.Errorf("heartbeat = %s", m.Heartbeat)
	}
	if m.Timeout.Duration != 2*time.Second {
		t.Errorf("timeout = %s", m.Timeout)
	}
	if m.DrainTimeout.Duration != 10*time.Second {
		t.Errorf("drain_timeout = %s", m.DrainTimeout)
	}
	if m.LogLevel != "notice" || m.LogFormat != "json" {
		t.Errorf("log = %q/%q", m.LogLevel, m.LogFormat)
	}
	if cfg.App.Root != "/srv/www" || cfg.App.ShutdownTimeout.Duration != 5*time.Second {
		t.Errorf("app = %+v", cfg.App)
	}

	ops, ok := cfg.Webhooks["ops"]
	if !ok {
		t.Fatal("missing webhooks.ops")
	}
	if ops.Template != "slack" || ops.Timeout != 5 || ops.Retries != 3 {
		t.Errorf("webhook = %+v", ops)
	}
	if cfg.Path != "test.toml" {
		t.Errorf("path = %q", cfg.Path)
	}
}

func TestEmptyConfigGetsDefaults(t *testing.T) {
	cfg, _, err := LoadBytes([]byte(""), "empty.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := cfg.Master
	if m.Workers != runtime.NumCPU() {
		t.Errorf("default workers = %d, want %d", m.Workers, runtime.NumCPU())
	}
	if m.Host != "127.0.0.1" || m.Port != 8080 {
		t.Errorf("default addr = %s", m.Addr())
	}
	if m.PID != "/var/run/golem.pid" {
		t.Errorf("default pid = %q", m.PID)
	}
	if m.Heartbeat.Duration != 1500*time.Millisecond {
		t.Errorf("default heartbeat = %s", m.Heartbeat)
	}
	if m.Timeout.Duration != 3*time.Second {
		t.Errorf("default timeout = %s", m.Timeout)
	}
	if m.DrainTimeout.Duration != 0 {
		t.Errorf("default drain_timeout = %s, want 0", m.DrainTimeout)
	}
	if m.PrivilegeError != "continue" {
		t.Errorf("default privilege_error = %q", m.PrivilegeError)
	}
	if m.LogLevel != "info" || m.LogFormat != "text" {
		t.Errorf("default log = %q/%q", m.LogLevel, m.LogFormat)
	}
	if m.Env != "development" || m.Production() {
		t.Errorf("default env = %q", m.Env)
	}
}

func TestZeroWorkersIsKept(t *testing.T) {
	cfg, _, err := LoadBytes([]byte("[master]\nworkers = 0\n"), "zero.toml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Master.Workers != 0 {
		t.Errorf("workers = %d, want 0", cfg.Master.Workers)
	}
}

func TestUnknownKeysWarn(t *testing.T) {
	_, warnings, err := LoadBytes([]byte("[master]\nworkerz = 2\n\n[extra]\nx = 1\n"), "typo.toml")
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(warnings, "\n")
	for _, key := range []string{"master.workerz", "extra.x"} {
		if !strings.Contains(joined, "unknown config key: "+key) {
			t.Errorf("warnings do not name %s: %v", key, warnings)
		}
	}
}

func TestParseError(t *testing.T) {
	_, _, err := LoadBytes([]byte("[master\nworkers = "), "broken.toml")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config parse error in broken.toml") {
		t.Errorf("error = %q", err)
	}
}

func TestInvalidDuration(t *testing.T) {
	_, _, err := LoadBytes([]byte("[master]\nheartbeat = \"soon\"\n"), "d.toml")
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	tomlData := `
[master]
workers = -1
port = 70000
heartbeat = "5s"
timeout = "1s"
respawn_rate = -2.0
privilege_error = "explode"
env = "staging"
log_level = "loud"
log_format = "xml"

[webhooks.bad]
url = "not a url"
events = ["nope"]
template = "teams"
`
	_, _, err := LoadBytes([]byte(tomlData), "bad.toml")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"master.workers", "master.port", "master.timeout", "master.respawn_rate",
		"master.privilege_error", "master.env", "master.log_level", "master.log_format",
		"webhooks.bad: url", "webhooks.bad: unknown event", "webhooks.bad: template",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%s", want, err)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Master.Workers = 3
	cfg.Master.Heartbeat = D(250 * time.Millisecond)
	cfg.Master.User = "www"
	cfg.App.Root = "/srv"

	data, err := Encode(cfg)
	if err != nil {
		t.Fatal(err)
	}
	got, warnings, err := LoadBytes(data, "snapshot")
	if err != nil {
		t.Fatalf("decoding snapshot: %v\n%s", err, data)
	}
	if len(warnings) > 0 {
		t.Errorf("snapshot warnings: %v", warnings)
	}
	if got.Master.Workers != 3 || got.Master.Heartbeat.Duration != 250*time.Millisecond ||
		got.Master.User != "www" || got.App.Root != "/srv" {
		t.Errorf("snapshot decoded as %+v", got)
	}
}

func TestOverridesApply(t *testing.T) {
	cfg := Defaults()
	workers, port, host, debug := 0, 9999, "::1", true
	Overrides{Workers: &workers, Port: &port, Host: &host, Debug: &debug}.Apply(cfg)

	if cfg.Master.Workers != 0 || cfg.Master.Port != 9999 || cfg.Master.Host != "::1" || !cfg.Master.Debug {
		t.Errorf("overrides not applied: %+v", cfg.Master)
	}
	if cfg.Master.PID != DefaultPIDPath {
		t.Errorf("unset override changed pid to %q", cfg.Master.PID)
	}
}
