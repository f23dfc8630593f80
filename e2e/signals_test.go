//go:build e2e

package e2e

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/golemteam/golem/internal/testutil"
)

func execGolem(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, err := exec.Command(golemBinary, args...).CombinedOutput()
	return string(out), err
}

func TestSignals_ScaleUpAndDown(t *testing.T) {
	m := startMaster(t, "", 2)
	orig := m.Workers()

	// The kernel merges pending signals of one kind, so each step waits
	// for the master to log the new target before the next send.
	for _, n := range []int{3, 4} {
		scale(t, m, syscall.SIGTTIN, n)
	}
	waitForWorkers(t, m, 4)

	for _, n := range []int{3, 2, 1} {
		scale(t, m, syscall.SIGTTOU, n)
	}
	ws := waitForWorkers(t, m, 1)
	if ws[0] != orig[0] {
		t.Errorf("worker/0 changed from %d to %d", orig[0], ws[0])
	}
}

func scale(t *testing.T, m *testutil.E2EMaster, sig syscall.Signal, target int) {
	t.Helper()
	line := "worker target is now " + strconv.Itoa(target)
	seen := strings.Count(m.Output(), line)
	m.Signal(t, sig)
	m.WaitForLog(t, line, seen+1)
}

func TestSignals_ReloadReplacesWorkers(t *testing.T) {
	m := startMaster(t, "", 2)
	old := m.Workers()

	m.Signal(t, syscall.SIGHUP)
	testutil.WaitFor(t, func() bool {
		now := m.Workers()
		return len(now) == 2 && now[0] != old[0] && now[1] != old[1] && now[0] != 0 && now[1] != 0
	}, 10*time.Second)
	waitForServing(t, m)
	if !strings.Contains(m.Output(), "configuration loaded from") {
		t.Error("reload was not logged")
	}
}

func TestSignals_ReloadPicksUpWorkerCount(t *testing.T) {
	m := startMaster(t, "", 1)

	testutil.WriteFile(t, m.Dir, "golem.toml", "[master]\nhost = \"127.0.0.1\"\nport = "+
		strconv.Itoa(m.Port)+"\npid = \""+m.PIDPath+"\"\nraw = true\nworkers = 3\n")
	m.Signal(t, syscall.SIGHUP)
	waitForWorkers(t, m, 3)
}

func TestSignals_QuitDrainsAndExits(t *testing.T) {
	m := startMaster(t, "", 2)

	m.Signal(t, syscall.SIGQUIT)
	if code := m.Wait(t, 15*time.Second); code != 0 {
		t.Errorf("exit code = %d, want 0\n%s", code, m.Output())
	}
	if _, err := m.Get("/"); err == nil {
		t.Error("listener still accepting after QUIT")
	}
}

func TestSignals_CommandSendsSignal(t *testing.T) {
	m := startMaster(t, "", 1)

	out, err := execGolem(t, "signal", "incr", "-c", m.ConfigPath)
	if err != nil {
		t.Fatalf("golem signal: %v\n%s", err, out)
	}
	if !strings.Contains(out, "SIGTTIN") {
		t.Errorf("output = %q", out)
	}
	waitForWorkers(t, m, 2)

	out, err = execGolem(t, "signal", "stop", "--pid", m.PIDPath)
	if err != nil {
		t.Fatalf("golem signal stop: %v\n%s", err, out)
	}
	if code := m.Wait(t, 10*time.Second); code != 0 {
		t.Errorf("exit code = %d", code)
	}
}
