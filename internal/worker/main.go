package worker

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/golemteam/golem/internal/app"
	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/logging"
	"github.com/golemteam/golem/internal/posix"
)

// Descriptors a worker inherits from the master.
const (
	ListenerFD = 3 // shared listening socket
	ControlFD  = 4 // write end of the control pipe
)

// Main is the entry point of a process forked with posix.RoleWorker. The
// master writes its configuration to stdin and the listener is inherited
// on fd 3. It returns the process exit code.
func Main(factory app.Factory) int {
	// Trap first; a worker can be retired while it is still starting up.
	sigs := TrapSignals()
	defer signal.Stop(sigs)

	ordinal, ok := posix.EnvInt(posix.EnvWorker)
	if !ok {
		fmt.Fprintf(os.Stderr, "golem-worker: %s not set\n", posix.EnvWorker)
		return 1
	}
	proc := fmt.Sprintf("golem-worker/%d", ordinal)

	control := os.NewFile(ControlFD, "control")
	defer control.Close()

	cfg, err := readConfig(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", proc, err)
		_, _ = io.WriteString(control, Format(EventError, err.Error()))
		return 1
	}
	_ = posix.NullStdin()

	m := cfg.Master
	logger := logging.New(logging.LogConfig{
		Level:   logging.NewLevelVar(m.LogLevel),
		Format:  m.LogFormat,
		Output:  os.Stderr,
		Color:   m.LogFormat != "json" && term.IsTerminal(int(os.Stderr.Fd())),
		Process: proc,
	})

	ln, err := inheritListener(ListenerFD)
	if err != nil {
		logging.Crit(logger, "cannot inherit listener", "error", err)
		_, _ = io.WriteString(control, Format(EventError, err.Error()))
		return 1
	}
	defer ln.Close()

	adapter, err := factory(cfg)
	if err != nil {
		logging.Crit(logger, "cannot load application", "error", err)
		_, _ = io.WriteString(control, Format(EventError, err.Error()))
		return 1
	}

	return Serve(ServeConfig{
		Ordinal:         ordinal,
		Listener:        ln,
		Control:         control,
		Adapter:         adapter,
		Heartbeat:       m.Heartbeat.Duration,
		ShutdownTimeout: cfg.App.ShutdownTimeout.Duration,
		Debug:           m.Debug,
		User:            m.User,
		Group:           m.Group,
		AbortOnPrivErr:  m.PrivilegeError == "abort",
		Logger:          logger,
		Signals:         sigs,
	})
}

func readConfig(r io.Reader) (*config.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read config from master: %w", err)
	}
	cfg, _, err := config.LoadBytes(data, "<master>")
	return cfg, err
}

// inheritListener wraps the listening socket inherited on fd. The
// descriptor is duplicated by net.FileListener, so the original is closed.
func inheritListener(fd uintptr) (net.Listener, error) {
	f := os.NewFile(fd, "listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("fd %d: %w", fd, err)
	}
	return ln, nil
}
