package master

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/events"
	"github.com/golemteam/golem/internal/logging"
	"github.com/golemteam/golem/internal/posix"
	"github.com/golemteam/golem/internal/worker"
)

const (
	sigTERM = syscall.SIGTERM
	sigQUIT = syscall.SIGQUIT
	sigKILL = syscall.SIGKILL
)

// handles returns the pool ordered by ordinal.
func (m *Master) handles() []*worker.Handle {
	hs := make([]*worker.Handle, 0, len(m.pool))
	for _, h := range m.pool {
		hs = append(hs, h)
	}
	slices.SortFunc(hs, func(a, b *worker.Handle) int { return a.Ordinal() - b.Ordinal() })
	return hs
}

func (m *Master) hasOrdinal(n int) bool {
	for _, h := range m.pool {
		if h.Ordinal() == n {
			return true
		}
	}
	return false
}

// reconcile retires workers above the target and spawns the ordinals
// below it that have no live handle.
func (m *Master) reconcile() {
	for _, h := range m.handles() {
		if h.Ordinal() >= m.target && !h.Retiring() {
			m.killWorker(h, sigQUIT, false)
		}
	}
	for n := 0; n < m.target && !m.stopping; n++ {
		if m.hasOrdinal(n) {
			continue
		}
		if err := m.spawn(n); err != nil {
			m.abort("failed to spawn worker", "worker", n, "error", err)
		}
	}
}

// spawn forks the worker for ordinal n. The worker inherits the listener
// on fd 3 and the control pipe on fd 4, and reads its configuration from
// stdin.
func (m *Master) spawn(n int) error {
	snapshot, err := config.Encode(m.cfg)
	if err != nil {
		return err
	}
	r, w, err := posix.Pipe()
	if err != nil {
		return err
	}

	proc, err := m.forker.Fork(posix.ForkConfig{
		Role: posix.RoleWorker,
		Name: fmt.Sprintf("golem-worker/%d", n),
		Env: map[string]string{
			posix.EnvWorker:    itoa(n),
			posix.EnvMasterPID: "",
			posix.EnvFD:        "",
			posix.EnvReadyFD:   "",
		},
		Files:   []*os.File{m.listener, w},
		Stdin:   bytes.NewReader(snapshot),
		Stdout:  m.opts.WorkerOutput,
		Stderr:  m.opts.WorkerOutput,
		Setpgid: true,
	})
	w.Close()
	if err != nil {
		r.Close()
		return err
	}

	h := worker.NewHandle(n, proc, r)
	m.pool[proc.Pid()] = h
	m.armTimer(h)
	m.logger.Info("initializing " + h.String())
	m.publish(events.WorkerSpawn, map[string]string{"worker": h.String()})

	go m.readControl(h, r)
	go m.waitWorker(h, proc)
	return nil
}

func (m *Master) readControl(h *worker.Handle, r *os.File) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.post(lineMsg{h: h, msg: worker.Parse(sc.Text())})
	}
}

func (m *Master) waitWorker(h *worker.Handle, proc posix.Process) {
	state, err := proc.Wait()
	m.post(exitMsg{h: h, state: state, err: err})
}

func (m *Master) armTimer(h *worker.Handle) {
	h.ResetTimer(m.cfg.Master.Timeout.Duration, func(gen uint64) {
		m.post(timeoutMsg{h: h, gen: gen})
	})
}

// member reports whether h is still in the pool.
func (m *Master) member(h *worker.Handle) bool {
	return m.pool[h.Pid()] == h
}

func (m *Master) workerLine(h *worker.Handle, msg worker.Message) {
	if !m.member(h) {
		return
	}
	wasReady := h.Ready()
	h.Record(msg, time.Now())
	if !h.Retiring() {
		m.armTimer(h)
	}
	m.logger.Debug(fmt.Sprintf("received %q from %s", msg.Raw, h))

	switch msg.Event {
	case worker.EventReady:
		if !wasReady {
			m.ready.Add(1)
			m.logger.Info(h.String() + " ready")
			m.publish(events.WorkerReady, map[string]string{"worker": h.String()})
		}
	case worker.EventOK, worker.EventConnection:
	case worker.EventError:
		m.logger.Warn(h.String()+" reported an error", "error", msg.Payload)
	default:
		m.logger.Debug("ignoring unrecognized message", "worker", h.String())
	}
}

func (m *Master) workerTimeout(h *worker.Handle, gen uint64) {
	if !m.member(h) || gen != h.TimerGen() {
		return
	}
	logging.Notice(m.logger, fmt.Sprintf("received timeout from %s. sending SIGTERM.", h))
	m.publish(events.WorkerTimeout, map[string]string{"worker": h.String()})
	m.killWorker(h, sigTERM, false)
	if !m.member(h) {
		m.respawn()
	}
}

// killWorker signals h. With maintain, a delivered signal also lowers the
// target so the worker is not replaced. A worker that is already gone
// leaves the pool at once.
func (m *Master) killWorker(h *worker.Handle, sig os.Signal, maintain bool) {
	if sig != sigTERM || maintain {
		h.Retire()
	}
	signalled, err := h.Kill(sig)
	if err != nil {
		m.logger.Error("cannot signal worker", "worker", h.String(), "error", err)
		return
	}
	if !signalled {
		m.remove(h)
		return
	}
	if maintain && m.target > 0 {
		m.target--
	}
}

func (m *Master) killEach(sig os.Signal, maintain bool) {
	for _, h := range m.handles() {
		m.killWorker(h, sig, maintain)
	}
}

func (m *Master) remove(h *worker.Handle) {
	if !m.member(h) {
		return
	}
	delete(m.pool, h.Pid())
	h.Release()
	if h.Ready() {
		m.ready.Add(-1)
	}
}

func (m *Master) workerExited(h *worker.Handle, state *os.ProcessState, err error) {
	if !m.member(h) {
		return
	}
	m.remove(h)

	status := posix.DescribeExit(state)
	if err != nil {
		status = err.Error()
	}
	m.publish(events.WorkerExit, map[string]string{
		"worker":   h.String(),
		"status":   status,
		"retiring": fmt.Sprint(h.Retiring()),
	})

	if !h.Ready() && !h.Retiring() {
		m.abort(fmt.Sprintf("%s exited with %s before establishing a connection", h, status))
		return
	}
	m.logger.Info(fmt.Sprintf("%s exited with %s", h, status))

	switch {
	case m.stopping:
	case m.drain != drainNone:
		if len(m.pool) == 0 {
			m.drained()
		}
	case h.Retiring():
		m.reconcile()
	default:
		m.respawn()
	}
}

// respawn replaces lost workers, at most respawn_rate per second. When the
// bucket is empty the reconcile is deferred to a timer.
func (m *Master) respawn() {
	if m.respawnTimer != nil {
		return
	}
	r := m.limiter.Reserve()
	if !r.OK() {
		m.reconcile()
		return
	}
	d := r.Delay()
	if d == 0 {
		m.reconcile()
		return
	}
	m.logger.Debug("throttling respawn", "delay", d)
	m.respawnTimer = time.AfterFunc(d, func() { m.post(respawnMsg{}) })
}

// startDrain asks every worker to finish its connections and exit, and
// lowers the target for each so none is replaced.
func (m *Master) startDrain(mode drainMode) {
	m.drain = mode
	m.setState(StateDraining)
	m.publish(events.Drain, map[string]string{"workers": itoa(len(m.pool))})
	m.killEach(sigQUIT, true)
	if len(m.pool) == 0 {
		m.drained()
		return
	}
	m.armDrainWatchdog()
}

func (m *Master) armDrainWatchdog() {
	d := m.cfg.Master.DrainTimeout.Duration
	if d <= 0 {
		return
	}
	if m.drainTimer != nil {
		m.drainTimer.Stop()
	}
	m.drainTimer = time.AfterFunc(d, func() { m.post(drainExpiredMsg{}) })
}

// drainExpired kills retiring workers that outlived drain_timeout.
func (m *Master) drainExpired() {
	m.drainTimer = nil
	var stuck []*worker.Handle
	for _, h := range m.handles() {
		if h.Retiring() {
			stuck = append(stuck, h)
		}
	}
	if len(stuck) == 0 {
		return
	}
	m.logger.Warn("drain timed out, sending SIGKILL", "workers", len(stuck))
	for _, h := range stuck {
		m.killWorker(h, sigKILL, false)
	}
	if m.drain != drainNone && len(m.pool) == 0 {
		m.drained()
	}
}

// drained runs once the pool is empty after a drain.
func (m *Master) drained() {
	mode := m.drain
	m.drain = drainNone
	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}

	if mode == drainExit {
		if m.listener != nil {
			_ = m.listener.Close()
			m.listener = nil
		}
		m.finish(0)
		return
	}
	m.logger.Info("all workers drained")
	m.setState(StateRunning)
	m.reconcile()
}
