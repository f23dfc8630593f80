package master

import (
	"fmt"
	"os"
	"strings"

	"github.com/golemteam/golem/internal/events"
	"github.com/golemteam/golem/internal/pidfile"
	"github.com/golemteam/golem/internal/posix"
)

// reexec starts a new master from the binary at the startup path and hands
// it the listener over a socket pair on its stdin. This master keeps its
// workers until it is told to stop.
func (m *Master) reexec() {
	if m.reexecPid > 0 {
		if posix.Alive(m.reexecPid) {
			m.logger.Error("reexec-ed child already running", "child", m.reexecPid)
			return
		}
		m.reexecPid = 0
	}
	if m.listener == nil {
		m.logger.Error("cannot reexec without a listener")
		return
	}

	prev := m.State()
	m.setState(StateReexecuting)
	defer m.setState(prev)

	held := m.pidPath
	if held != "" && !strings.HasSuffix(held, oldbinSuffix) {
		old := held + oldbinSuffix
		if err := pidfile.Lock(old); err != nil {
			m.logger.Error("cannot lock "+old, "error", err)
			return
		}
		if err := pidfile.Unlock(held); err != nil {
			m.logger.Error("cannot remove pid file", "path", held, "error", err)
		}
		m.pidPath = old
	}

	pid, err := m.startSuccessor()
	if err != nil {
		m.logger.Error("reexec failed", "error", err)
		m.reclaimPID()
		return
	}

	m.reexecPid = pid
	m.setTitle(titleOldMaster)
	m.publish(events.Reexec, map[string]string{"child": itoa(pid)})
}

func (m *Master) startSuccessor() (int, error) {
	ours, theirs, err := posix.Socketpair()
	if err != nil {
		return 0, err
	}
	defer ours.Close()

	st := m.opts.Startup
	m.logger.Info(fmt.Sprintf("executing %q in %s", strings.Join(append([]string{st.Path}, st.Args...), " "), st.Dir))

	proc, err := m.forker.Fork(posix.ForkConfig{
		Role: posix.RoleMaster,
		Name: st.Path,
		Path: st.Path,
		Args: st.Args,
		Dir:  st.Dir,
		Env: map[string]string{
			posix.EnvMasterPID: itoa(os.Getpid()),
			posix.EnvFD:        "0",
			posix.EnvWorker:    "",
			posix.EnvReadyFD:   "",
		},
		Stdin:  theirs,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	theirs.Close()
	if err != nil {
		return 0, err
	}
	if err := posix.SendFD(ours, m.listener); err != nil {
		_ = proc.Signal(sigKILL)
		go proc.Wait()
		return 0, err
	}

	go func() {
		state, _ := proc.Wait()
		m.post(reexecExitMsg{pid: proc.Pid(), state: state})
	}()
	return proc.Pid(), nil
}

func (m *Master) reexecExited(pid int, state *os.ProcessState) {
	if pid != m.reexecPid {
		return
	}
	m.reexecPid = 0
	m.logger.Warn(fmt.Sprintf("reexec-ed master %d exited with %s", pid, posix.DescribeExit(state)))
	m.reclaimPID()
}

// reclaimPID moves the lock back from the .oldbin path once no successor
// holds the main one.
func (m *Master) reclaimPID() {
	if !strings.HasSuffix(m.pidPath, oldbinSuffix) {
		return
	}
	main := strings.TrimSuffix(m.pidPath, oldbinSuffix)
	if err := pidfile.Lock(main); err != nil {
		m.logger.Debug("pid file stays on "+m.pidPath, "error", err)
		return
	}
	_ = pidfile.Unlock(m.pidPath)
	m.pidPath = main
	m.setTitle(titleMaster)
}
