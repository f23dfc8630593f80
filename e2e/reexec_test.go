//go:build e2e

package e2e

import (
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/golemteam/golem/internal/pidfile"
	"github.com/golemteam/golem/internal/posix"
	"github.com/golemteam/golem/internal/testutil"
)

func TestReexec_UpgradeKeepsServing(t *testing.T) {
	m := startMaster(t, "", 2)
	oldPid := m.Pid()
	oldWorkers := m.Workers()

	m.Signal(t, syscall.SIGUSR2)

	var newPid int
	testutil.WaitFor(t, func() bool {
		pid, err := pidfile.Read(m.PIDPath)
		if err != nil || pid == oldPid || !posix.Alive(pid) {
			return false
		}
		newPid = pid
		return true
	}, 10*time.Second)
	t.Cleanup(func() {
		_ = syscall.Kill(newPid, syscall.SIGTERM)
		testutil.WaitFor(t, func() bool { return !posix.Alive(newPid) }, 10*time.Second)
	})

	if pid, err := pidfile.Read(m.PIDPath + ".oldbin"); err != nil || pid != oldPid {
		t.Errorf(".oldbin = %d, %v; want %d", pid, err, oldPid)
	}
	testutil.WaitFor(t, func() bool { return len(testutil.WorkersOf(newPid)) == 2 }, 10*time.Second)

	// Both generations serve until the old master is told to leave.
	if len(m.Workers()) != 2 {
		t.Errorf("old workers gone before QUIT: %v", m.Workers())
	}

	// A second upgrade while the first successor lives is refused.
	m.Signal(t, syscall.SIGUSR2)
	testutil.WaitFor(t, func() bool {
		return strings.Contains(m.Output(), "reexec-ed child already running")
	}, 5*time.Second)

	m.Signal(t, syscall.SIGQUIT)
	if code := m.Wait(t, 15*time.Second); code != 0 {
		t.Errorf("old master exit code = %d", code)
	}
	for _, pid := range oldWorkers {
		testutil.WaitFor(t, func() bool { return !posix.Alive(pid) }, 5*time.Second)
	}

	newWorkers := testutil.WorkersOf(newPid)
	for range 5 {
		body, err := m.Get("/")
		if err != nil {
			t.Fatalf("request after old master left: %v", err)
		}
		served := servedBy(body)
		found := false
		for _, pid := range newWorkers {
			if pid == served {
				found = true
			}
		}
		if !found {
			t.Errorf("served by %d, new workers are %v", served, newWorkers)
		}
	}
}
