// Package logging provides structured logging for golem using stdlib slog.
//
// On top of the slog levels it adds NOTICE and CRIT, which the master uses
// for operator-visible lifecycle events and for fatal conditions.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Extra levels. slog leaves gaps of four between its own levels.
const (
	LevelNotice = slog.Level(2)
	LevelCrit   = slog.Level(12)
)

// LogConfig controls logger creation.
type LogConfig struct {
	Level   *LevelVar // nil means info
	Format  string    // "text" (default), "json"
	Output  io.Writer // defaults to os.Stderr
	Color   bool      // colour level names (text format only)
	Process string    // value of the "proc" attribute, e.g. golem-master
}

// New creates a configured *slog.Logger.
func New(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	lv := cfg.Level
	if lv == nil {
		lv = NewLevelVar("info")
	}

	json := strings.EqualFold(cfg.Format, "json")
	opts := &slog.HandlerOptions{
		Level: &lv.v,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 || a.Key != slog.LevelKey {
				return a
			}
			lvl, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			return slog.String(slog.LevelKey, LevelName(lvl))
		},
	}

	var handler slog.Handler
	switch {
	case json:
		handler = slog.NewJSONHandler(out, opts)
	case cfg.Color:
		handler = slog.NewTextHandler(colorWriter{out}, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Process != "" {
		logger = WithFields(logger, "proc", cfg.Process, "pid", os.Getpid())
	}
	return logger
}

// WithFields returns a child logger with additional context fields.
func WithFields(logger *slog.Logger, fields ...any) *slog.Logger {
	return logger.With(fields...)
}

// Notice logs at NOTICE level.
func Notice(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelNotice, msg, args...)
}

// Crit logs at CRIT level.
func Crit(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelCrit, msg, args...)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LevelName renders a level the way golem prints it.
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelCrit:
		return "CRIT"
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= LevelNotice:
		return "NOTICE"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

var levelColors = map[string]string{
	"CRIT":   "31",
	"ERROR":  "31",
	"WARN":   "33",
	"NOTICE": "36",
	"INFO":   "37",
	"DEBUG":  "90",
}

// colorWriter colours the level value of each record. The text handler
// writes one record per call, with level= ahead of the message.
type colorWriter struct {
	w io.Writer
}

func (c colorWriter) Write(p []byte) (int, error) {
	i := bytes.Index(p, []byte("level="))
	if i < 0 {
		return c.w.Write(p)
	}
	start := i + len("level=")
	end := bytes.IndexByte(p[start:], ' ')
	if end < 0 {
		return c.w.Write(p)
	}
	end += start
	code, ok := levelColors[string(p[start:end])]
	if !ok {
		return c.w.Write(p)
	}

	out := make([]byte, 0, len(p)+16)
	out = append(out, p[:start]...)
	out = append(out, "\x1b["+code+";1m"...)
	out = append(out, p[start:end]...)
	out = append(out, "\x1b[0m"...)
	out = append(out, p[end:]...)
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// LevelVar is a level that can be changed after the logger is built, so a
// config reload can raise or lower verbosity in place.
type LevelVar struct {
	v slog.LevelVar
}

// NewLevelVar creates a LevelVar from a level name.
func NewLevelVar(s string) *LevelVar {
	lv := &LevelVar{}
	lv.Set(s)
	return lv
}

// Set changes the level. Unknown names select info.
func (lv *LevelVar) Set(s string) {
	lv.v.Set(ParseLevel(s))
}

// Level returns the current level.
func (lv *LevelVar) Level() slog.Level {
	return lv.v.Level()
}

// ValidateLevel reports whether s names a level.
func ValidateLevel(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "notice", "warn", "error", "crit":
		return nil
	}
	return fmt.Errorf("invalid log level %q (want debug, info, notice, warn, error or crit)", s)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "crit":
		return LevelCrit
	default:
		return slog.LevelInfo
	}
}
