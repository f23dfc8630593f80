// Package testutil provides shared test helpers for the golem test suite.
package testutil

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golemteam/golem/internal/config"
)

// TempDir creates a temporary directory for testing and registers cleanup.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "golem-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// FreeTCPPort returns an available TCP port by binding to :0 and releasing.
func FreeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// MustParseConfig parses a TOML string into a Config struct, failing the
// test on error. Intended for concise test setup.
func MustParseConfig(t *testing.T, toml string) *config.Config {
	t.Helper()
	cfg, warnings, err := config.LoadBytes([]byte(toml), "test.toml")
	if err != nil {
		t.Fatalf("MustParseConfig: %v", err)
	}
	for _, w := range warnings {
		t.Logf("config warning: %s", w)
	}
	return cfg
}

// WaitFor polls a condition function until it returns true or the timeout
// expires, failing the test on timeout.
func WaitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	interval := 50 * time.Millisecond

	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	t.Fatal("WaitFor: condition not met within timeout")
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("cannot write %s: %v", path, err)
	}
	return path
}

// TestMaster is the on-disk setup for a master under test: a config file
// on a free port with its pid file in a private directory.
type TestMaster struct {
	Dir        string
	ConfigPath string
	PIDPath    string
	Port       int
}

// Addr returns the master's listen address.
func (tm *TestMaster) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", tm.Port)
}

// NewTestMaster writes a golem.toml for a test master. masterKeys are
// extra lines for the [master] table; sections is appended verbatim after
// it.
func NewTestMaster(t *testing.T, masterKeys, sections string) *TestMaster {
	t.Helper()
	return NewTestMasterWithPID(t, "", masterKeys, sections)
}

// NewTestMasterWithPID is NewTestMaster with the pid file at pidPath, so
// two masters can contend for one pid file. An empty pidPath puts it in
// the master's directory.
func NewTestMasterWithPID(t *testing.T, pidPath, masterKeys, sections string) *TestMaster {
	t.Helper()
	dir := TempDir(t)
	port := FreeTCPPort(t)
	if pidPath == "" {
		pidPath = filepath.Join(dir, "golem.pid")
	}

	content := fmt.Sprintf(`[master]
host = "127.0.0.1"
port = %d
pid = %q
raw = true
log_level = "debug"
%s

%s
`, port, pidPath, masterKeys, sections)

	return &TestMaster{
		Dir:        dir,
		ConfigPath: WriteFile(t, dir, "golem.toml", content),
		PIDPath:    pidPath,
		Port:       port,
	}
}
