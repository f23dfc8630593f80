package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/golemteam/golem/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"run", "signal", "version", "init", "completion"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"golem", "commit:", "built:", "go:", "os/arch:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q", want)
		}
	}
}

func TestUnknownSubcommand(t *testing.T) {
	if _, err := execute(t, "nonexistent"); err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
}

func TestInitStdout(t *testing.T) {
	out, err := execute(t, "init", "--stdout")
	initStdout = false
	if err != nil {
		t.Fatal(err)
	}
	if out != config.DefaultConfigTOML {
		t.Error("init --stdout did not print the sample config")
	}
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golem.toml")
	defer func() { initOutput, initForce = "", false }()

	if _, err := execute(t, "init", "-o", path); err != nil {
		t.Fatal(err)
	}
	if _, _, err := config.Load(path); err != nil {
		t.Errorf("generated config does not load: %v", err)
	}

	_, err := execute(t, "init", "-o", path)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second init error = %v", err)
	}
	if _, err := execute(t, "init", "-o", path, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestOverridesOnlyChangedFlags(t *testing.T) {
	defer func() { runFlags = runOptions{} }()

	if err := runCmd.ParseFlags([]string{"--workers", "6", "--port", "9000", "--raw"}); err != nil {
		t.Fatal(err)
	}
	o := overrides(runCmd)
	if o.Workers == nil || *o.Workers != 6 {
		t.Errorf("workers = %v", o.Workers)
	}
	if o.Port == nil || *o.Port != 9000 {
		t.Errorf("port = %v", o.Port)
	}
	if o.Raw == nil || !*o.Raw {
		t.Errorf("raw = %v", o.Raw)
	}
	if o.Host != nil || o.PID != nil || o.Daemonize != nil || o.Debug != nil {
		t.Errorf("unchanged flags leaked into overrides: %+v", o)
	}
}

func TestSignalUnknownAction(t *testing.T) {
	_, err := execute(t, "signal", "explode", "--pid", filepath.Join(t.TempDir(), "golem.pid"))
	signalPID = ""
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Errorf("err = %v", err)
	}
}

func TestSignalWithoutMaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golem.pid")
	_, err := execute(t, "signal", "reload", "--pid", path)
	signalPID = ""
	if err == nil || !strings.Contains(err.Error(), "no master running") {
		t.Errorf("err = %v", err)
	}
}

func TestSignalDeliversToPidFile(t *testing.T) {
	sleeper := exec.Command("sleep", "30")
	if err := sleeper.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	waited := make(chan error, 1)
	go func() { waited <- sleeper.Wait() }()
	t.Cleanup(func() { _ = sleeper.Process.Kill() })

	path := filepath.Join(t.TempDir(), "golem.pid")
	pid := sleeper.Process.Pid
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "signal", "stop", "--pid", path)
	signalPID = ""
	if err != nil {
		t.Fatal(err)
	}
	if want := "sent SIGTERM to master " + strconv.Itoa(pid); !strings.Contains(out, want) {
		t.Errorf("output = %q, want %q", out, want)
	}

	select {
	case err := <-waited:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("sleep exited with %v", err)
		}
		ws := exitErr.Sys().(syscall.WaitStatus)
		if !ws.Signaled() || ws.Signal() != syscall.SIGTERM {
			t.Errorf("sleep ended with %v, want SIGTERM", ws)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sleep was not signalled")
	}
}

func TestSignalActionsCoverMasterSignals(t *testing.T) {
	want := map[string]syscall.Signal{
		"reload":  syscall.SIGHUP,
		"quit":    syscall.SIGQUIT,
		"stop":    syscall.SIGTERM,
		"upgrade": syscall.SIGUSR2,
		"incr":    syscall.SIGTTIN,
		"decr":    syscall.SIGTTOU,
		"drain":   syscall.SIGWINCH,
	}
	for name, sig := range want {
		if signalActions[name] != sig {
			t.Errorf("%s = %v, want %v", name, signalActions[name], sig)
		}
	}
}
