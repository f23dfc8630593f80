package worker

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golemteam/golem/internal/app"
	"github.com/golemteam/golem/internal/logging"
)

// ServeConfig is everything the child side of a worker needs.
type ServeConfig struct {
	Ordinal         int
	Listener        net.Listener
	Control         io.Writer // write end of the control pipe
	Adapter         app.Adapter
	Heartbeat       time.Duration
	ShutdownTimeout time.Duration // 0 waits for connections forever
	Debug           bool

	User           string
	Group          string
	AbortOnPrivErr bool

	Logger  *slog.Logger
	Signals <-chan os.Signal // nil traps the process signals
}

// TrapSignals routes the signals a worker acts on to the returned channel
// and ignores the operator signals meant for the master.
func TrapSignals() chan os.Signal {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	signal.Ignore(syscall.SIGHUP, syscall.SIGUSR2, syscall.SIGWINCH, syscall.SIGTTIN, syscall.SIGTTOU)
	return ch
}

// Serve runs the application until the worker is told to stop, and
// returns the process exit code.
//
// SIGQUIT, or losing the master, shuts the application down gracefully.
// SIGTERM and SIGINT return at once. Operator signals meant for the master
// are ignored.
func Serve(cfg ServeConfig) int {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	if err := ApplyPrivileges(cfg.User, cfg.Group); err != nil {
		logger.Error("couldn't set uid or gid of process", "error", err)
		if cfg.AbortOnPrivErr {
			return 1
		}
	}

	sigs := cfg.Signals
	if sigs == nil {
		ch := TrapSignals()
		defer signal.Stop(ch)
		sigs = ch
	}

	orphaned := make(chan struct{})
	var orphanOnce sync.Once
	rep := NewReporter(cfg.Control, cfg.Debug, func(err error) {
		orphanOnce.Do(func() {
			logging.Notice(logger, "lost contact with master", "error", err)
			close(orphaned)
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hooks := app.Hooks{
		Listening: func() {
			if rep.Ready() == nil {
				go rep.Heartbeat(ctx, cfg.Heartbeat)
			}
		},
		Connection: rep.Connection,
		Closed:     rep.Closed,
	}

	served := make(chan error, 1)
	go func() { served <- cfg.Adapter.Serve(cfg.Listener, hooks) }()

	select {
	case err := <-served:
		if err != nil {
			logger.Error("application stopped", "error", err)
			_ = rep.Error(err.Error())
			return 1
		}
		return 0
	case sig := <-sigs:
		if sig != syscall.SIGQUIT {
			logger.Debug("terminating", "signal", sig)
			return 0
		}
	case <-orphaned:
	}

	return shutdown(cfg, logger, sigs, served)
}

func shutdown(cfg ServeConfig, logger *slog.Logger, sigs <-chan os.Signal, served <-chan error) int {
	logger.Info("shutting down gracefully")

	ctx := context.Background()
	if cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- cfg.Adapter.Shutdown(ctx) }()

	for {
		select {
		case err := <-done:
			if err != nil {
				logger.Warn("graceful shutdown incomplete", "error", err)
			}
			<-served
			return 0
		case sig := <-sigs:
			if sig != syscall.SIGQUIT {
				return 0
			}
		}
	}
}
