package posix

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SetSessionLeader makes the calling process the leader of a new session,
// detaching it from the controlling terminal. Fails with EPERM when the
// process already leads a process group.
func SetSessionLeader() error {
	if _, err := unix.Setsid(); err != nil {
		return os.NewSyscallError("setsid", err)
	}
	return nil
}

// CloseStdio points fds 0, 1 and 2 at /dev/null.
func CloseStdio() error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	fd := int(devNull.Fd())
	for _, target := range []int{0, 1, 2} {
		if err := unix.Dup2(fd, target); err != nil {
			return os.NewSyscallError("dup2", err)
		}
	}
	return nil
}

// SetUmask sets the file mode creation mask and returns the previous one.
func SetUmask(mask int) int {
	return unix.Umask(mask)
}

// Writable reports whether the current process may write to path.
func Writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// NullStdin points fd 0 at /dev/null. Used once a descriptor handed over
// on stdin has been received.
func NullStdin() error {
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	if err := unix.Dup2(int(devNull.Fd()), 0); err != nil {
		return os.NewSyscallError("dup2", err)
	}
	return nil
}
