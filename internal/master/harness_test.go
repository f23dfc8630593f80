package master

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/posix"
)

// fakeWorker is the test side of a forked worker: a mock process plus the
// write end of its control pipe.
type fakeWorker struct {
	ordinal int
	proc    *posix.MockProcess
	ctl     *os.File
	cfg     posix.ForkConfig
}

func (w *fakeWorker) send(t *testing.T, line string) {
	t.Helper()
	if _, err := w.ctl.WriteString(line + "\n"); err != nil {
		t.Fatalf("worker/%d: %v", w.ordinal, err)
	}
}

func (w *fakeWorker) got(sig os.Signal) bool {
	for _, s := range w.proc.Signals() {
		if s == sig {
			return true
		}
	}
	return false
}

// logBuffer collects master log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// line returns the first logged line containing s.
func (b *logBuffer) line(s string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(l, s) {
			return l
		}
	}
	return ""
}

type harness struct {
	t        *testing.T
	m        *Master
	forker   *posix.MockForker
	sigs     chan os.Signal
	listener *os.File
	pidPath  string
	code     chan int
	cancel   context.CancelFunc

	mu      sync.Mutex
	workers []*fakeWorker
	nextPid int
	// quitIgnored makes new workers ignore SIGQUIT.
	quitIgnored bool
	// masterFork handles re-exec forks.
	masterFork func(cfg posix.ForkConfig) (posix.Process, error)
}

func testConfig(t *testing.T, workers int) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Master.Workers = workers
	cfg.Master.PID = filepath.Join(t.TempDir(), "golem.pid")
	cfg.Master.Timeout = config.D(10 * time.Second)
	cfg.Master.RespawnRate = 100
	return cfg
}

func testListener(t *testing.T) *os.File {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	f, err := ln.(*net.TCPListener).File()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func newHarness(t *testing.T, cfg *config.Config, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		sigs:     make(chan os.Signal, 8),
		listener: testListener(t),
		pidPath:  cfg.Master.PID,
		code:     make(chan int, 1),
		nextPid:  1 << 20,
	}
	h.forker = &posix.MockForker{ForkFn: h.fork}

	opts := Options{
		Config:   cfg,
		Forker:   h.forker,
		Signals:  h.sigs,
		Listener: h.listener,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.m = New(opts)
	return h
}

func (h *harness) fork(cfg posix.ForkConfig) (posix.Process, error) {
	if cfg.Role == posix.RoleMaster {
		if h.masterFork != nil {
			return h.masterFork(cfg)
		}
		return posix.NewMockProcess(os.Getpid()), nil
	}

	fd, err := syscall.Dup(int(cfg.Files[1].Fd()))
	if err != nil {
		return nil, err
	}
	ordinal, _ := parseOrdinal(cfg.Env[posix.EnvWorker])

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextPid++
	p := posix.NewMockProcess(h.nextPid)
	if h.quitIgnored {
		p.SignalFn = func(sig os.Signal) error {
			if sig != syscall.SIGQUIT {
				p.Exit()
			}
			return nil
		}
	}
	w := &fakeWorker{ordinal: ordinal, proc: p, ctl: os.NewFile(uintptr(fd), "control"), cfg: cfg}
	h.t.Cleanup(func() { w.ctl.Close() })
	h.workers = append(h.workers, w)
	return p, nil
}

func parseOrdinal(s string) (int, bool) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, s != ""
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.code <- h.m.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.m.Done():
		case <-time.After(5 * time.Second):
			h.t.Error("master did not stop")
		}
	})
}

// signal queues sig behind any message already posted to the loop, so a
// following status request observes its effect.
func (h *harness) signal(sig os.Signal) {
	h.m.post(signalMsg{sig: sig})
}

func (h *harness) spawned() []*fakeWorker {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*fakeWorker, len(h.workers))
	copy(out, h.workers)
	return out
}

// waitSpawned waits for n forks in total and returns them.
func (h *harness) waitSpawned(n int) []*fakeWorker {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ws := h.spawned(); len(ws) >= n {
			return ws
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("expected %d forks, got %d", n, len(h.spawned()))
	return nil
}

func (h *harness) readyAll(ws []*fakeWorker) {
	h.t.Helper()
	for _, w := range ws {
		w.send(h.t, "ready")
	}
	h.waitStatus(func(s Status) bool {
		ready := 0
		for _, sw := range s.Workers {
			if sw.Ready {
				ready++
			}
		}
		return ready >= len(ws)
	})
}

func (h *harness) status() Status {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := h.m.Status(ctx)
	if err != nil {
		h.t.Fatalf("status: %v", err)
	}
	return s
}

func (h *harness) waitStatus(cond func(Status) bool) Status {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var s Status
	for time.Now().Before(deadline) {
		s = h.status()
		if cond(s) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("condition not met, last status: %+v", s)
	return s
}

func (h *harness) exitCode() int {
	h.t.Helper()
	select {
	case c := <-h.code:
		return c
	case <-time.After(5 * time.Second):
		h.t.Fatal("master did not exit")
		return -1
	}
}

func ordinals(s Status) []int {
	out := make([]int, len(s.Workers))
	for i, w := range s.Workers {
		out[i] = w.Ordinal
	}
	return out
}

func listenerOpen(f *os.File) bool {
	rc, err := f.SyscallConn()
	if err != nil {
		return false
	}
	return rc.Control(func(uintptr) {}) == nil
}
