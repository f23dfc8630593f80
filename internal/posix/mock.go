package posix

import (
	"os"
	"sync"
	"syscall"
)

// MockForker is a test double for Forker.
type MockForker struct {
	ForkFn func(cfg ForkConfig) (Process, error)

	mu    sync.Mutex
	calls []ForkConfig
}

// Fork records the call and delegates to ForkFn. Without ForkFn it returns
// a MockProcess that exits on any terminating signal.
func (m *MockForker) Fork(cfg ForkConfig) (Process, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cfg)
	n := len(m.calls)
	m.mu.Unlock()

	if m.ForkFn != nil {
		return m.ForkFn(cfg)
	}
	return NewMockProcess(1000 + n), nil
}

// Calls returns the configs passed to Fork so far.
func (m *MockForker) Calls() []ForkConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ForkConfig, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockProcess is a test double for Process.
type MockProcess struct {
	SignalFn func(os.Signal) error

	pid     int
	mu      sync.Mutex
	signals []os.Signal
	done    chan struct{}
	once    sync.Once
}

// NewMockProcess creates a running MockProcess with the given pid.
func NewMockProcess(pid int) *MockProcess {
	return &MockProcess{pid: pid, done: make(chan struct{})}
}

func (p *MockProcess) Pid() int { return p.pid }

// Wait blocks until Exit is called. The state is always nil.
func (p *MockProcess) Wait() (*os.ProcessState, error) {
	<-p.done
	return nil, nil
}

// Signal records sig. Unless SignalFn overrides it, SIGTERM, SIGQUIT,
// SIGINT and SIGKILL make the process exit.
func (p *MockProcess) Signal(sig os.Signal) error {
	if p.Exited() {
		return os.ErrProcessDone
	}
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()

	if p.SignalFn != nil {
		return p.SignalFn(sig)
	}
	switch sig {
	case syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGKILL:
		p.Exit()
	}
	return nil
}

// Exit makes Wait return.
func (p *MockProcess) Exit() {
	p.once.Do(func() { close(p.done) })
}

// Exited reports whether Exit has been called.
func (p *MockProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Signals returns the signals received so far.
func (p *MockProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]os.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}
