package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogWriter forwards formatted log lines to syslog. Used when golem runs
// with env = "production".
type SyslogWriter struct {
	writer *syslog.Writer
	tag    string
}

// NewSyslogWriter connects to the local syslog daemon.
func NewSyslogWriter(tag string) (*SyslogWriter, error) {
	if tag == "" {
		tag = "golem"
	}
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to syslog: %w", err)
	}
	return &SyslogWriter{writer: w, tag: tag}, nil
}

// Write sends one record to syslog with escape sequences removed.
func (sw *SyslogWriter) Write(p []byte) (int, error) {
	if err := sw.writer.Info(string(StripANSI(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the syslog connection.
func (sw *SyslogWriter) Close() error {
	return sw.writer.Close()
}
