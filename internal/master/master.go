// Package master implements the golem supervisor: it owns the listening
// socket, keeps a pool of worker processes at the target size, and reacts
// to operator signals with reloads, drains, scaling and live re-exec.
package master

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/golemteam/golem/internal/app"
	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/events"
	"github.com/golemteam/golem/internal/logging"
	"github.com/golemteam/golem/internal/metrics"
	"github.com/golemteam/golem/internal/posix"
	"github.com/golemteam/golem/internal/version"
	"github.com/golemteam/golem/internal/watch"
	"github.com/golemteam/golem/internal/worker"
)

// State is the master's lifecycle phase.
type State int

const (
	StateBootstrapping State = iota
	StateAcquiringSocket
	StateSpawning
	StateRunning
	StateReloading
	StateDraining
	StateReexecuting
	StateTerminated
)

var stateNames = [...]string{
	"bootstrapping", "acquiring-socket", "spawning", "running",
	"reloading", "draining", "reexecuting", "terminated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Process titles, used as the "proc" log attribute.
const (
	titleMaster    = "golem-master"
	titleOldMaster = "golem-master.old"
)

// Options configures a Master.
type Options struct {
	// Config is the settled configuration the master starts with.
	Config *config.Config
	// Loader re-reads the configuration on reload. Nil makes reload
	// reuse Config.
	Loader *config.Loader
	// Factory resolves the application. The master calls it on reload to
	// reject a broken application before retiring any worker.
	Factory app.Factory

	Forker posix.Forker
	Logger *slog.Logger     // without a "proc" attribute; the master adds it
	Level  *logging.LevelVar // updated on reload
	Bus    *events.Bus

	// Signals replaces signal.Notify when non-nil.
	Signals <-chan os.Signal
	// Listener is an already bound listening socket. Nil makes the master
	// inherit one from a re-exec parent or bind Config's address.
	Listener *os.File
	// Startup is how the binary was invoked, for re-exec.
	Startup posix.Startup

	// Daemonized marks a master started through the daemon stages.
	Daemonized bool
	// Ready receives the master's pid once it is running, then is closed.
	Ready io.WriteCloser

	// Keyboard is the controlling terminal. Nil disables key commands.
	Keyboard *os.File
	// Echo receives echoed keys. Defaults to os.Stdout.
	Echo io.Writer
	// SetRaw is told when the terminal enters and leaves raw mode.
	SetRaw func(bool)

	// WorkerOutput receives worker stdout and stderr.
	WorkerOutput io.Writer
}

// Master supervises the worker pool. All fields below the channels are
// owned by the event loop goroutine.
type Master struct {
	opts   Options
	base   *slog.Logger
	logger *slog.Logger
	bus    *events.Bus
	forker posix.Forker

	msgs chan any
	done chan struct{}

	shutting atomic.Bool
	ready    atomic.Int32
	state    atomic.Int32

	cfg       *config.Config
	listener  *os.File
	pidPath   string
	started   time.Time
	target    int
	pool      map[int]*worker.Handle
	reexecPid int
	exitCode  int
	stopping  bool

	drain      drainMode
	drainTimer *time.Timer

	limiter      *rate.Limiter
	respawnTimer *time.Timer

	collector *metrics.Collector
	metricIDs []uint64
	metricSrv *metrics.Server
	webhooks  *events.WebhookManager
	watcher   *watch.Watcher
	restore   func()
}

type drainMode int

const (
	drainNone drainMode = iota
	drainKeep           // SIGWINCH: empty the pool, keep the master
	drainExit           // SIGQUIT: empty the pool, then exit
)

// Loop messages. Every goroutine other than the loop talks to it through
// one of these.
type (
	signalMsg   struct{ sig os.Signal }
	lineMsg     struct {
		h   *worker.Handle
		msg worker.Message
	}
	exitMsg struct {
		h     *worker.Handle
		state *os.ProcessState
		err   error
	}
	timeoutMsg struct {
		h   *worker.Handle
		gen uint64
	}
	reexecExitMsg struct {
		pid   int
		state *os.ProcessState
	}
	statusMsg       struct{ reply chan Status }
	respawnMsg      struct{}
	drainExpiredMsg struct{}
	configMsg       struct{}
)

// New creates a master. Run starts it.
func New(opts Options) *Master {
	if opts.Forker == nil {
		opts.Forker = posix.ExecForker{}
	}
	if opts.Factory == nil {
		opts.Factory = app.DefaultFactory
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger)
	}
	if opts.Echo == nil {
		opts.Echo = os.Stdout
	}
	if opts.WorkerOutput == nil {
		opts.WorkerOutput = os.Stderr
	}

	m := &Master{
		opts:   opts,
		base:   opts.Logger,
		bus:    opts.Bus,
		forker: opts.Forker,
		msgs:   make(chan any, 64),
		done:   make(chan struct{}),
		cfg:    opts.Config,
		pool:   make(map[int]*worker.Handle),
	}
	m.setTitle(titleMaster)
	return m
}

// Bus returns the master's event bus.
func (m *Master) Bus() *events.Bus { return m.bus }

// Done is closed when Run returns.
func (m *Master) Done() <-chan struct{} { return m.done }

// ShuttingDown reports whether the master has begun exiting.
func (m *Master) ShuttingDown() bool { return m.shutting.Load() }

// Ready reports whether at least one worker is accepting connections.
func (m *Master) Ready() bool { return m.ready.Load() > 0 }

func (m *Master) setTitle(title string) {
	m.logger = logging.WithFields(m.base, "proc", title, "pid", os.Getpid())
}

// post hands a message to the loop. After the loop has exited the message
// is dropped.
func (m *Master) post(msg any) {
	select {
	case m.msgs <- msg:
	case <-m.done:
	}
}

// Run brings the master up and runs the event loop until it exits. It
// returns the process exit code.
func (m *Master) Run(ctx context.Context) int {
	defer close(m.done)

	m.setState(StateBootstrapping)
	if code, ok := m.bootstrap(); !ok {
		m.teardown()
		return code
	}

	m.setState(StateAcquiringSocket)
	if err := m.acquireListener(); err != nil {
		logging.Crit(m.logger, "failed to bind to port", "addr", m.cfg.Master.Addr(), "error", err)
		m.teardown()
		return 1
	}
	m.logger.Info("listening on " + m.cfg.Master.Addr())

	sigs := m.opts.Signals
	if sigs == nil {
		ch := make(chan os.Signal, 16)
		signal.Notify(ch, handledSignals...)
		defer signal.Stop(ch)
		sigs = ch
	}

	m.startAncillary(ctx)
	m.started = time.Now()
	m.logger.Info("process ready")
	m.notifyReady()

	m.setState(StateSpawning)
	m.reconcile()
	if !m.stopping {
		m.setState(StateRunning)
	}

	for !m.stopping {
		select {
		case <-ctx.Done():
			m.logger.Info("context cancelled")
			m.killEach(sigTERM, true)
			m.finish(0)
		case sig := <-sigs:
			m.handleSignal(sig)
		case msg := <-m.msgs:
			m.handle(msg)
		}
	}

	m.teardown()
	return m.exitCode
}

func (m *Master) handle(msg any) {
	switch msg := msg.(type) {
	case signalMsg:
		m.handleSignal(msg.sig)
	case lineMsg:
		m.workerLine(msg.h, msg.msg)
	case exitMsg:
		m.workerExited(msg.h, msg.state, msg.err)
	case timeoutMsg:
		m.workerTimeout(msg.h, msg.gen)
	case reexecExitMsg:
		m.reexecExited(msg.pid, msg.state)
	case statusMsg:
		msg.reply <- m.status()
	case respawnMsg:
		m.respawnTimer = nil
		if m.drain == drainNone {
			m.reconcile()
		}
	case drainExpiredMsg:
		m.drainExpired()
	case configMsg:
		logging.Notice(m.logger, "configuration file changed")
		m.reload()
	}
}

// bootstrap takes the pid lock and prepares throttling. ok is false when
// the master must exit with code.
func (m *Master) bootstrap() (code int, ok bool) {
	if m.opts.Daemonized || os.Getppid() == 1 {
		m.opts.Daemonized = true
	}
	if err := m.lockPID(m.cfg.Master.PID); err != nil {
		logging.Crit(m.logger, err.Error())
		return 1, false
	}
	m.target = m.cfg.Master.Workers
	m.limiter = rate.NewLimiter(rate.Limit(m.cfg.Master.RespawnRate), max(m.target, 1))
	return 0, true
}

// startAncillary starts the optional collaborators: metrics, webhooks,
// config watching and keyboard commands.
func (m *Master) startAncillary(ctx context.Context) {
	m.collector = metrics.New(m.sample)
	m.collector.SetBuildInfo(version.Version, version.Go())
	m.metricIDs = m.collector.Subscribe(m.bus)

	if addr := m.cfg.Master.MetricsListen; addr != "" {
		srv := metrics.NewServer(m.collector, m, m.logger)
		if err := srv.Start(addr); err != nil {
			m.logger.Error("metrics server disabled", "error", err)
		} else {
			m.metricSrv = srv
		}
	}

	if len(m.cfg.Webhooks) > 0 {
		hooks, err := events.WebhooksFromConfig(m.cfg.Webhooks)
		if err != nil {
			m.logger.Error("webhooks disabled", "error", err)
		} else {
			m.webhooks = events.NewWebhookManager(m.bus, hooks, m.logger)
		}
	}

	if m.cfg.Master.Watch && m.cfg.Path != "" {
		w, err := watch.New(m.cfg.Path, 0, m.logger)
		if err != nil {
			m.logger.Error("config watching disabled", "error", err)
		} else {
			m.watcher = w
			w.Start(ctx)
			go m.forwardChanges(w)
		}
	}

	if m.opts.Keyboard != nil && !m.opts.Daemonized && !m.cfg.Master.Raw {
		restore, err := m.startKeyboard(m.opts.Keyboard)
		if err != nil {
			m.logger.Debug("keyboard commands unavailable", "error", err)
		} else {
			m.restore = restore
		}
	}
}

func (m *Master) forwardChanges(w *watch.Watcher) {
	for {
		select {
		case <-w.Changes():
			m.post(configMsg{})
		case <-m.done:
			return
		}
	}
}

func (m *Master) notifyReady() {
	if m.opts.Ready == nil {
		return
	}
	_, _ = io.WriteString(m.opts.Ready, itoa(os.Getpid()))
	_ = m.opts.Ready.Close()
	m.opts.Ready = nil
}

// finish ends the loop with code.
func (m *Master) finish(code int) {
	m.exitCode = code
	m.stopping = true
	m.shutting.Store(true)
}

// abort logs a critical message, terminates every worker and exits 1.
func (m *Master) abort(msg string, args ...any) {
	logging.Crit(m.logger, msg, args...)
	m.publish(events.Fatal, map[string]string{"reason": msg})
	m.killEach(sigTERM, true)
	m.finish(1)
}

func (m *Master) teardown() {
	m.setState(StateTerminated)
	m.shutting.Store(true)

	if m.respawnTimer != nil {
		m.respawnTimer.Stop()
	}
	if m.drainTimer != nil {
		m.drainTimer.Stop()
	}
	for _, h := range m.pool {
		h.Release()
	}
	if m.watcher != nil {
		_ = m.watcher.Stop()
	}

	m.publish(events.Shutdown, map[string]string{"code": itoa(m.exitCode)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if m.webhooks != nil {
		m.webhooks.Stop(ctx)
	}
	if m.metricSrv != nil {
		_ = m.metricSrv.Stop(ctx)
	}
	for _, id := range m.metricIDs {
		m.bus.Unsubscribe(id)
	}

	if m.listener != nil && m.opts.Listener == nil {
		_ = m.listener.Close()
	}
	m.unlockPID()
	logging.Notice(m.logger, "master process exiting with code "+itoa(m.exitCode))

	if m.restore != nil {
		m.restore()
	}
}

func (m *Master) publish(t events.EventType, data map[string]string) {
	if data == nil {
		data = map[string]string{}
	}
	data["master"] = itoa(os.Getpid())
	m.bus.Publish(events.Event{Type: t, Timestamp: time.Now(), Data: data})
}

// State returns the master's lifecycle phase.
func (m *Master) State() State { return State(m.state.Load()) }

func (m *Master) setState(s State) { m.state.Store(int32(s)) }
