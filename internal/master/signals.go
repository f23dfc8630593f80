package master

import (
	"os"
	"syscall"

	"github.com/golemteam/golem/internal/events"
	"github.com/golemteam/golem/internal/logging"
	"github.com/golemteam/golem/internal/posix"
)

// handledSignals are the signals the master traps.
var handledSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	syscall.SIGHUP,
	syscall.SIGUSR2,
	syscall.SIGWINCH,
	syscall.SIGTTIN,
	syscall.SIGTTOU,
}

// transitions maps each trapped signal to the master's reaction.
var transitions = map[os.Signal]func(*Master){
	syscall.SIGINT:   (*Master).terminate,
	syscall.SIGTERM:  (*Master).terminate,
	syscall.SIGQUIT:  (*Master).quit,
	syscall.SIGHUP:   (*Master).reload,
	syscall.SIGUSR2:  (*Master).reexec,
	syscall.SIGWINCH: (*Master).winch,
	syscall.SIGTTIN:  (*Master).increment,
	syscall.SIGTTOU:  (*Master).decrement,
}

func (m *Master) handleSignal(sig os.Signal) {
	fn, ok := transitions[sig]
	if !ok {
		m.logger.Debug("ignoring signal", "signal", posix.SignalName(sig))
		return
	}
	name := posix.SignalName(sig)
	logging.Notice(m.logger, "process received "+name)
	m.publish(events.Signal, map[string]string{"signal": name})
	fn(m)
}

// terminate stops every worker immediately and exits.
func (m *Master) terminate() {
	m.killEach(sigTERM, true)
	m.finish(0)
}

// quit drains the pool, closes the listener and exits.
func (m *Master) quit() {
	if m.drain == drainExit {
		return
	}
	m.startDrain(drainExit)
}

// winch drains the pool but keeps the master, only when detached from a
// terminal. Foreground terminals raise SIGWINCH on every resize.
func (m *Master) winch() {
	if !m.opts.Daemonized && os.Getppid() != 1 {
		m.logger.Debug("SIGWINCH ignored")
		return
	}
	if m.drain != drainNone {
		return
	}
	m.startDrain(drainKeep)
}

func (m *Master) increment() {
	if m.drain == drainExit {
		return
	}
	m.target++
	m.scaled()
}

func (m *Master) decrement() {
	if m.target == 0 || m.drain == drainExit {
		return
	}
	m.target--
	m.scaled()
}

func (m *Master) scaled() {
	m.logger.Info("worker target is now " + itoa(m.target))
	m.publish(events.Scale, map[string]string{"target": itoa(m.target)})
	m.limiter.SetBurst(max(m.target, 1))
	m.reconcile()
}
