package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestReporterLines(t *testing.T) {
	var out syncBuffer
	r := NewReporter(&out, true, nil)

	if err := r.Ready(); err != nil {
		t.Fatal(err)
	}
	r.Connection("10.0.0.1:4000")
	r.Connection("10.0.0.2:4000")
	r.Closed()
	_ = r.Error("disk full")

	want := "ready\nconnection 10.0.0.1:4000\nconnection 10.0.0.2:4000\nerror disk full\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if r.Connections() != 1 {
		t.Errorf("Connections = %d, want 1", r.Connections())
	}
}

func TestReporterConnectionQuietWithoutDebug(t *testing.T) {
	var out syncBuffer
	r := NewReporter(&out, false, nil)
	r.Connection("10.0.0.1:4000")
	if out.String() != "" {
		t.Errorf("output = %q, want nothing", out.String())
	}
	if r.Connections() != 1 {
		t.Errorf("Connections = %d", r.Connections())
	}
}

func TestReporterHeartbeat(t *testing.T) {
	var out syncBuffer
	r := NewReporter(&out, false, nil)
	r.Connection("a")
	r.Connection("b")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Heartbeat(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(out.String(), "ok 2\n") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := strings.Count(out.String(), "ok 2\n"); n < 2 {
		t.Errorf("heartbeats = %d in %q", n, out.String())
	}
}

func TestReporterBrokenOnce(t *testing.T) {
	calls := 0
	r := NewReporter(failWriter{}, true, func(error) { calls++ })

	if err := r.Ready(); err == nil {
		t.Fatal("expected write error")
	}
	_ = r.Error("again")
	r.Connection("x")

	if calls != 1 {
		t.Errorf("broken called %d times, want 1", calls)
	}
	r.mu.Lock()
	failed := r.failed
	r.mu.Unlock()
	if !failed {
		t.Error("reporter not marked failed")
	}
}
