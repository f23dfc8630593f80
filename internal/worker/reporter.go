package worker

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Reporter is the worker side of the control pipe.
//
// The first failed write means the master is gone. broken is then called
// once and every later report is dropped.
type Reporter struct {
	w      io.Writer
	debug  bool
	broken func(error)

	mu     sync.Mutex
	failed bool
	conns  atomic.Int64
}

// NewReporter writes control lines to w.
func NewReporter(w io.Writer, debug bool, broken func(error)) *Reporter {
	return &Reporter{w: w, debug: debug, broken: broken}
}

// Ready announces that the worker accepts connections.
func (r *Reporter) Ready() error {
	return r.send(EventReady, "")
}

// Connection counts an accepted connection and, in debug mode, reports it.
func (r *Reporter) Connection(addr string) {
	r.conns.Add(1)
	if r.debug {
		_ = r.send(EventConnection, addr)
	}
}

// Closed counts a closed connection.
func (r *Reporter) Closed() {
	if r.conns.Add(-1) < 0 {
		r.conns.Store(0)
	}
}

// Connections returns the number of open connections.
func (r *Reporter) Connections() int {
	return int(r.conns.Load())
}

// Error reports a non-fatal error.
func (r *Reporter) Error(msg string) error {
	return r.send(EventError, msg)
}

// Heartbeat sends "ok <n>" every interval until ctx is done.
func (r *Reporter) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.send(EventOK, strconv.Itoa(r.Connections())); err != nil {
				return
			}
		}
	}
}

func (r *Reporter) send(e Event, payload string) error {
	r.mu.Lock()
	if r.failed {
		r.mu.Unlock()
		return io.ErrClosedPipe
	}
	_, err := io.WriteString(r.w, Format(e, payload))
	first := err != nil
	r.failed = first
	r.mu.Unlock()

	if first && r.broken != nil {
		r.broken(err)
	}
	return err
}
