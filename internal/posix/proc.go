package posix

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid names a running process. A process owned by
// another user is alive too.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Gone reports whether a signal error means the target no longer exists.
func Gone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH)
}

// ExitStatus returns the exit code and, when the process was killed, the
// terminating signal. code is -1 for signalled processes.
func ExitStatus(state *os.ProcessState) (code int, sig syscall.Signal) {
	if state == nil {
		return -1, 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal()
	}
	return state.ExitCode(), 0
}

// DescribeExit renders an exit as "code N" or "signal SIGXXX".
func DescribeExit(state *os.ProcessState) string {
	code, sig := ExitStatus(state)
	if sig != 0 {
		return "signal " + SignalName(sig)
	}
	return fmt.Sprintf("code %d", code)
}

// SignalName returns the conventional name of sig, e.g. SIGTERM.
func SignalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(s); name != "" {
			return name
		}
	}
	return sig.String()
}
