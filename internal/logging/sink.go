package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/lumberjack"
	"golang.org/x/term"
)

// SinkConfig selects where master log output goes.
type SinkConfig struct {
	Logfile   string // rotate through this file when set
	MaxSizeMB int    // rotation size, megabytes
	Backups   int    // rotated files kept
	Syslog    bool   // forward to the local syslog daemon instead
	Tag       string // syslog tag
	Stream    *os.File
}

// Sink is the shared destination of the master's logger and of its
// workers' stderr. Writes are serialised so lines from different sources
// never interleave mid-line.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	tty    bool
	raw    bool
}

// OpenSink opens the destination described by cfg. Without a logfile or
// syslog it writes to cfg.Stream, defaulting to stderr.
func OpenSink(cfg SinkConfig) (*Sink, error) {
	switch {
	case cfg.Syslog:
		w, err := NewSyslogWriter(cfg.Tag)
		if err != nil {
			return nil, err
		}
		return &Sink{out: w, closer: w}, nil

	case cfg.Logfile != "":
		dir := filepath.Dir(cfg.Logfile)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("cannot open log file: %s: directory %s does not exist", cfg.Logfile, dir)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.Logfile,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.Backups,
			LocalTime:  true,
		}
		return &Sink{out: lj, closer: lj}, nil
	}

	f := cfg.Stream
	if f == nil {
		f = os.Stderr
	}
	return &Sink{
		out:    f,
		tty:    term.IsTerminal(int(f.Fd())),
	}, nil
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.raw {
		if _, err := s.out.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return s.out.Write(p)
}

// SetRaw turns newline translation on while the terminal is in raw mode.
func (s *Sink) SetRaw(raw bool) {
	s.mu.Lock()
	s.raw = raw && s.tty
	s.mu.Unlock()
}

// Terminal reports whether the sink writes to a terminal.
func (s *Sink) Terminal() bool { return s.tty }

// Close flushes and closes file or syslog destinations.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
