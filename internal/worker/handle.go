package worker

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golemteam/golem/internal/posix"
)

// Handle is the master's record of one worker process. It is owned by the
// master's event loop and is not safe for concurrent use, except that the
// heartbeat timer callback runs on its own goroutine and only sees the
// generation it was armed with.
type Handle struct {
	ordinal int
	proc    posix.Process
	control io.Closer

	spawned     time.Time
	ready       bool
	started     time.Time
	connections int
	idleSince   time.Time
	retiring    bool
	released    bool

	timer *time.Timer
	gen   uint64
}

// Snapshot is the observable state of a worker.
type Snapshot struct {
	Ordinal     int        `json:"number"`
	Pid         int        `json:"pid"`
	Ready       bool       `json:"ready"`
	Started     *time.Time `json:"started,omitempty"`
	Connections int        `json:"connections"`
	Idle        *float64   `json:"idle"`
	Retiring    bool       `json:"retiring"`
}

// NewHandle wraps a freshly forked worker. control is the master's read
// end of the control pipe.
func NewHandle(ordinal int, proc posix.Process, control io.Closer) *Handle {
	return &Handle{
		ordinal: ordinal,
		proc:    proc,
		control: control,
		spawned: time.Now(),
	}
}

func (h *Handle) Ordinal() int { return h.ordinal }
func (h *Handle) Pid() int     { return h.proc.Pid() }

// Ready reports whether the worker has sent "ready".
func (h *Handle) Ready() bool { return h.ready }

// Retiring reports whether the master has asked the worker to stop.
func (h *Handle) Retiring() bool { return h.retiring }

// Retire marks the worker as leaving the pool. Its exit is then expected.
func (h *Handle) Retire() { h.retiring = true }

// Connections returns the last reported connection count.
func (h *Handle) Connections() int { return h.connections }

// Record applies a control message to the handle.
func (h *Handle) Record(m Message, now time.Time) {
	switch m.Event {
	case EventReady:
		if !h.ready {
			h.ready = true
			h.started = now
		}
	case EventOK:
		h.connections = m.Count
		if m.Count > 0 {
			h.idleSince = time.Time{}
		} else if h.idleSince.IsZero() {
			h.idleSince = now
		}
	}
}

// IdleFor returns how long the worker has reported zero connections. ok is
// false while it has connections or has not reported yet.
func (h *Handle) IdleFor(now time.Time) (d time.Duration, ok bool) {
	if h.idleSince.IsZero() {
		return 0, false
	}
	return now.Sub(h.idleSince), true
}

// Kill delivers sig to the worker. On delivery, or when the process is
// already gone, the control channel and timer are released. signalled is
// false when the process no longer existed.
func (h *Handle) Kill(sig os.Signal) (signalled bool, err error) {
	err = h.proc.Signal(sig)
	if posix.Gone(err) {
		h.Release()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("signal %s: %w", h, err)
	}
	h.Release()
	return true, nil
}

// Release closes the control channel and stops the heartbeat timer. It is
// safe to call more than once.
func (h *Handle) Release() {
	h.StopTimer()
	if h.released {
		return
	}
	h.released = true
	if h.control != nil {
		_ = h.control.Close()
	}
}

// ResetTimer arms the heartbeat timer for d, replacing any pending one.
// fire receives the generation it was armed with; compare it against
// TimerGen to discard expiries that raced with a reset.
func (h *Handle) ResetTimer(d time.Duration, fire func(gen uint64)) {
	if h.released {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	gen := h.gen
	h.timer = time.AfterFunc(d, func() { fire(gen) })
}

// StopTimer disarms the heartbeat timer.
func (h *Handle) StopTimer() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.gen++
}

// TimerGen returns the generation of the currently armed timer.
func (h *Handle) TimerGen() uint64 { return h.gen }

func (h *Handle) String() string {
	return fmt.Sprintf("worker/%d[%d]", h.ordinal, h.Pid())
}

// Snapshot returns the worker's observable state.
func (h *Handle) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Ordinal:     h.ordinal,
		Pid:         h.Pid(),
		Ready:       h.ready,
		Connections: h.connections,
		Retiring:    h.retiring,
	}
	if h.ready {
		started := h.started
		s.Started = &started
	}
	if d, ok := h.IdleFor(now); ok {
		secs := d.Seconds()
		s.Idle = &secs
	}
	return s
}
