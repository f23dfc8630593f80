//go:build e2e

package testutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/golemteam/golem/internal/pidfile"
)

// DefaultE2ETimeout is the maximum time an E2E test should run.
const DefaultE2ETimeout = 30 * time.Second

// BuildGolem compiles the golem binary into dir and returns its path.
func BuildGolem(dir string) (string, error) {
	binary := filepath.Join(dir, "golem")
	cmd := exec.Command("go", "build", "-race", "-o", binary, "github.com/golemteam/golem/cmd/golem")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("cannot build golem: %w", err)
	}
	return binary, nil
}

// E2EMaster is a real golem master started from the built binary.
type E2EMaster struct {
	*TestMaster
	Cmd *exec.Cmd

	out    string // combined output of the master, its workers and successors
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// StartE2EMaster writes a config for tm and runs "golem run -c" against it.
// It returns once the pid file names the master.
func StartE2EMaster(t *testing.T, binary string, tm *TestMaster, args ...string) *E2EMaster {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultE2ETimeout)
	cmd := exec.CommandContext(ctx, binary, append([]string{"run", "-c", tm.ConfigPath}, args...)...)
	cmd.Dir = tm.Dir

	// A file rather than a pipe: a re-exec successor inherits the master's
	// stdio and would otherwise keep Wait from returning.
	out, err := os.CreateTemp(tm.Dir, "golem-*.out")
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	defer out.Close()
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("cannot start golem: %v", err)
	}

	m := &E2EMaster{TestMaster: tm, Cmd: cmd, out: out.Name(), done: make(chan struct{}), cancel: cancel}
	go func() {
		m.err = cmd.Wait()
		close(m.done)
	}()

	t.Cleanup(func() {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-m.done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			<-m.done
		}
		cancel()
		if t.Failed() {
			t.Logf("golem output:\n%s", m.Output())
		}
	})

	WaitFor(t, func() bool {
		pid, err := pidfile.Read(tm.PIDPath)
		return err == nil && pid == cmd.Process.Pid
	}, 10*time.Second)
	return m
}

// Pid returns the master's pid.
func (m *E2EMaster) Pid() int { return m.Cmd.Process.Pid }

// Signal sends sig to the master.
func (m *E2EMaster) Signal(t *testing.T, sig syscall.Signal) {
	t.Helper()
	if err := m.Cmd.Process.Signal(sig); err != nil {
		t.Fatalf("signal %v: %v", sig, err)
	}
}

// Wait waits for the master to exit and returns its exit code.
func (m *E2EMaster) Wait(t *testing.T, timeout time.Duration) int {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(timeout):
		t.Fatalf("master %d did not exit within %s", m.Pid(), timeout)
	}
	if m.err == nil {
		return 0
	}
	if ee, ok := m.err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	t.Fatalf("wait: %v", m.err)
	return -1
}

// Output returns everything the master and its workers have logged.
func (m *E2EMaster) Output() string {
	data, _ := os.ReadFile(m.out)
	return string(data)
}

// WaitForLog waits until s has been logged at least n times.
func (m *E2EMaster) WaitForLog(t *testing.T, s string, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for strings.Count(m.Output(), s) < n {
		if time.Now().After(deadline) {
			t.Fatalf("%q logged %d times, want %d\n%s", s, strings.Count(m.Output(), s), n, m.Output())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Workers returns the live children of the master titled golem-worker/N,
// keyed by ordinal.
func (m *E2EMaster) Workers() map[int]int {
	return WorkersOf(m.Pid())
}

// WorkersOf lists the golem-worker children of ppid, keyed by ordinal.
func WorkersOf(ppid int) map[int]int {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	workers := make(map[int]int)
	for _, p := range procs {
		parent, err := p.Ppid()
		if err != nil || int(parent) != ppid {
			continue
		}
		if status, err := p.Status(); err == nil && len(status) > 0 && status[0] == process.Zombie {
			continue
		}
		args, err := p.CmdlineSlice()
		if err != nil || len(args) == 0 {
			continue
		}
		rest, ok := strings.CutPrefix(args[0], "golem-worker/")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		workers[n] = int(p.Pid)
	}
	return workers
}

// Get fetches path from the master's listener and returns the body.
func (m *E2EMaster) Get(path string) (string, error) {
	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Get("http://" + m.Addr() + path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return string(body), fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return string(body), nil
}
