package master

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/pidfile"
	"github.com/golemteam/golem/internal/posix"
)

const oldbinSuffix = ".oldbin"

// Inherited reports whether this process was started by a re-exec and
// should receive its listener from the previous master.
func Inherited() bool {
	pid, ok := posix.EnvInt(posix.EnvMasterPID)
	return ok && pid == os.Getppid()
}

// acquireListener takes the listener from Options, from the previous master
// after a re-exec, or binds a fresh one.
func (m *Master) acquireListener() error {
	if m.opts.Listener != nil {
		m.listener = m.opts.Listener
		return nil
	}

	if Inherited() {
		f, err := posix.RecvFD(os.Stdin, "listener")
		if err != nil {
			return fmt.Errorf("cannot receive listener from previous master: %w", err)
		}
		_ = posix.NullStdin()
		os.Unsetenv(posix.EnvMasterPID)
		os.Unsetenv(posix.EnvFD)
		m.logger.Debug("new master received fd")
		m.listener = f
		return nil
	}

	ln, err := net.Listen("tcp", m.cfg.Master.Addr())
	if err != nil {
		return err
	}
	defer ln.Close()
	f, err := ln.(*net.TCPListener).File()
	if err != nil {
		return err
	}
	m.listener = f
	return nil
}

// lockPID moves the pid lock to path. While a re-exec is in flight the
// lock stays on the .oldbin path.
func (m *Master) lockPID(path string) error {
	resolved, warning, err := config.ResolvePIDPath(path, m.opts.Daemonized)
	if err != nil {
		return err
	}
	if warning != "" {
		m.logger.Warn(warning)
	}
	if resolved == m.pidPath {
		return nil
	}
	if strings.HasSuffix(m.pidPath, oldbinSuffix) {
		m.logger.Warn("can't lock while reexec-ed", "path", resolved)
		return nil
	}

	if err := pidfile.Lock(resolved); err != nil {
		if errors.Is(err, pidfile.ErrLocked) {
			return err
		}
		return fmt.Errorf("cannot write pid file: %w", err)
	}
	old := m.pidPath
	m.pidPath = resolved
	if old != "" {
		if err := pidfile.Unlock(old); err != nil {
			m.logger.Error("cannot remove old pid file", "path", old, "error", err)
		}
	}
	return nil
}

func (m *Master) unlockPID() {
	if m.pidPath == "" {
		return
	}
	if err := pidfile.Unlock(m.pidPath); err != nil {
		m.logger.Error("cannot remove pid file", "path", m.pidPath, "error", err)
	}
	m.pidPath = ""
}
