// Package pidfile implements the master's pid-file lock.
//
// A lock is a file holding the owner's pid followed by a newline. It is
// written to a uniquely named temporary file in the same directory and
// renamed into place, so readers never see a partial pid.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/golemteam/golem/internal/posix"
)

var (
	// ErrLocked matches any LockedError.
	ErrLocked = errors.New("pid file is locked")

	// ErrInvalidPID is returned when the file does not hold a positive pid.
	ErrInvalidPID = errors.New("invalid pid in file")
)

// LockedError reports a lock held by another live process.
type LockedError struct {
	Path string
	Pid  int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("a golem master process is already running (pid %d holds %s)", e.Pid, e.Path)
}

// Is makes errors.Is(err, ErrLocked) true.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Lock writes the current pid to path.
//
// An existing file naming a live process other than this one fails with a
// *LockedError. Files naming dead processes, or holding garbage, are stale
// and get replaced. Locking a path this process already holds is a no-op.
func Lock(path string) error {
	pid, err := Read(path)
	switch {
	case err == nil && pid == os.Getpid():
		return nil
	case err == nil && posix.Alive(pid):
		return &LockedError{Path: path, Pid: pid}
	case err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrInvalidPID):
		return err
	}

	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("cannot create pid file: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cannot write pid file %s: %w", tmp, errors.Join(werr, cerr))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cannot create pid file: %w", err)
	}
	return nil
}

// Unlock removes path if it still holds the current pid. Files owned by
// other processes are left alone.
func Unlock(path string) error {
	pid, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrInvalidPID) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove pid file: %w", err)
	}
	return nil
}

// Read returns the pid stored at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %s: %q", ErrInvalidPID, path, s)
	}
	return pid, nil
}
