package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "golem.toml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestResolveExplicitPathNotFound(t *testing.T) {
	_, err := Resolve("/nonexistent/golem.toml")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "cannot read config") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestResolveEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "golem.toml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvConfig, path)
	got, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestResolveNoConfigFound(t *testing.T) {
	t.Setenv(EnvConfig, "")
	orig := DefaultSearchPaths
	DefaultSearchPaths = []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}
	defer func() { DefaultSearchPaths = orig }()

	got, err := Resolve("")
	if err != nil {
		t.Fatalf("missing config should not be an error: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestResolveSearchPathOrder(t *testing.T) {
	t.Setenv(EnvConfig, "")
	dir := t.TempDir()
	second := filepath.Join(dir, "second.toml")
	if err := os.WriteFile(second, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	orig := DefaultSearchPaths
	DefaultSearchPaths = []string{filepath.Join(dir, "first.toml"), second}
	defer func() { DefaultSearchPaths = orig }()

	got, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Errorf("got %q, want %q", got, second)
	}
}

func TestLoaderAppliesOverridesAndRereads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "golem.toml")
	os.WriteFile(path, []byte("[master]\nworkers = 2\nport = 7000\n"), 0644)

	port := 7100
	l := &Loader{Path: path, Overrides: Overrides{Port: &port}}
	cfg, _, err := l.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Master.Workers != 2 || cfg.Master.Port != 7100 {
		t.Errorf("first load = %+v", cfg.Master)
	}

	os.WriteFile(path, []byte("[master]\nworkers = 5\nport = 7000\n"), 0644)
	cfg, _, err = l.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Master.Workers != 5 || cfg.Master.Port != 7100 {
		t.Errorf("reload = %+v", cfg.Master)
	}
}

func TestLoaderWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	orig := DefaultSearchPaths
	DefaultSearchPaths = []string{"/nonexistent/golem.toml"}
	defer func() { DefaultSearchPaths = orig }()

	workers := 1
	cfg, _, err := (&Loader{Overrides: Overrides{Workers: &workers}}).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Master.Workers != 1 || cfg.Master.Port != DefaultPort || cfg.Path != "" {
		t.Errorf("defaults = %+v (path %q)", cfg.Master, cfg.Path)
	}
}

func TestLoaderInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golem.toml")
	os.WriteFile(path, []byte("[master]\nlog_level = \"chatty\"\n"), 0644)
	if _, _, err := (&Loader{Path: path}).Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestResolvePIDPathWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golem.pid")
	got, warning, err := ResolvePIDPath(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != path || warning != "" {
		t.Errorf("got %q %q", got, warning)
	}
}

func TestResolvePIDPathFallback(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)

	got, warning, err := ResolvePIDPath("/proc/golem-test/golem.pid", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(wd, "golem.pid") {
		t.Errorf("fallback = %q", got)
	}
	if !strings.Contains(warning, "couldn't write pid file") {
		t.Errorf("warning = %q", warning)
	}

	if _, _, err := ResolvePIDPath("/proc/golem-test/golem.pid", true); err == nil {
		t.Error("daemonized master should not fall back")
	}
}
