package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golemteam/golem/internal/config"
)

func TestTempDir(t *testing.T) {
	dir := TempDir(t)
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("temp dir does not exist: %v", err)
	}
	if !strings.Contains(filepath.Base(dir), "golem-test-") {
		t.Errorf("dir = %q", dir)
	}
}

func TestFreeTCPPort(t *testing.T) {
	port := FreeTCPPort(t)
	if port <= 0 || port > 65535 {
		t.Fatalf("invalid port: %d", port)
	}
}

func TestMustParseConfig(t *testing.T) {
	cfg := MustParseConfig(t, `
[master]
workers = 3
port = 9090
`)
	if cfg.Master.Workers != 3 || cfg.Master.Port != 9090 {
		t.Errorf("master = %+v", cfg.Master)
	}
	if cfg.Master.Host != config.DefaultHost {
		t.Errorf("host default not applied: %q", cfg.Master.Host)
	}
}

func TestWaitFor(t *testing.T) {
	counter := 0
	WaitFor(t, func() bool {
		counter++
		return counter >= 3
	}, 5*time.Second)

	if counter < 3 {
		t.Errorf("counter = %d, want >= 3", counter)
	}
}

func TestWriteFile(t *testing.T) {
	dir := TempDir(t)
	path := WriteFile(t, dir, "test.txt", "hello")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", string(data))
	}
}

func TestNewTestMaster(t *testing.T) {
	tm := NewTestMaster(t, "workers = 2", `
[webhooks.ops]
url = "http://127.0.0.1:1/hook"
events = ["fatal"]
`)

	cfg, warnings, err := config.Load(tm.ConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if cfg.Master.Workers != 2 || cfg.Master.Port != tm.Port || cfg.Master.PID != tm.PIDPath {
		t.Errorf("master = %+v", cfg.Master)
	}
	if !cfg.Master.Raw {
		t.Error("test masters must not grab the terminal")
	}
	if _, ok := cfg.Webhooks["ops"]; !ok {
		t.Error("missing webhooks.ops")
	}
	if filepath.Dir(tm.PIDPath) != tm.Dir {
		t.Errorf("pid file outside test dir: %s", tm.PIDPath)
	}
	if tm.Addr() != cfg.Master.Addr() {
		t.Errorf("addr = %q", tm.Addr())
	}
}

func TestNewTestMasterWithPID(t *testing.T) {
	first := NewTestMaster(t, "", "")
	second := NewTestMasterWithPID(t, first.PIDPath, "workers = 1", "")

	cfg, _, err := config.Load(second.ConfigPath)
	if err != nil {
		t.Fatalf("shared pid path config: %v", err)
	}
	if cfg.Master.PID != first.PIDPath || second.PIDPath != first.PIDPath {
		t.Errorf("pid = %q, want %q", cfg.Master.PID, first.PIDPath)
	}
	if second.Dir == first.Dir {
		t.Error("masters share a directory")
	}
}
