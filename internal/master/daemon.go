package master

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golemteam/golem/internal/posix"
)

// readyFD is where the detach and daemon stages find the ready pipe.
const readyFD = 3

// FailedToStart is printed by the bootstrap process when the daemon never
// reports in.
const FailedToStart = "golem-master failed to start."

// Bootstrap daemonizes the master. It forks the detach stage with a ready
// pipe and waits for the daemon to write its pid. args are the command
// line the daemon runs with. It returns the bootstrap's exit code.
func Bootstrap(forker posix.Forker, args []string, stderr io.Writer) int {
	r, w, err := posix.Pipe()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer r.Close()

	proc, err := forker.Fork(posix.ForkConfig{
		Role:   posix.RoleDetach,
		Args:   args,
		Env:    map[string]string{posix.EnvReadyFD: strconv.Itoa(readyFD)},
		Files:  []*os.File{w},
		Stderr: stderr,
	})
	w.Close()
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, FailedToStart)
		return 1
	}
	go proc.Wait()

	if pid := readReadyPid(r); pid > 1 {
		return 0
	}
	fmt.Fprintln(stderr, FailedToStart)
	return 1
}

func readReadyPid(r io.Reader) int {
	data, err := io.ReadAll(io.LimitReader(r, 32))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Detach runs in the intermediate stage: it starts a new session, forks
// the daemon with the ready pipe and returns at once, so the daemon is
// not a session leader and cannot reacquire a terminal.
func Detach(forker posix.Forker, args []string) int {
	if err := posix.SetSessionLeader(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	ready := ReadyPipe()
	if ready == nil {
		fmt.Fprintln(os.Stderr, "golem: ready pipe missing")
		return 1
	}
	defer ready.Close()

	_, err := forker.Fork(posix.ForkConfig{
		Role:   posix.RoleDaemon,
		Args:   args,
		Env:    map[string]string{posix.EnvReadyFD: strconv.Itoa(readyFD)},
		Files:  []*os.File{ready},
		Stderr: os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// ReadyPipe returns the inherited ready pipe, or nil outside the daemon
// stages. The marker is removed so children do not see it.
func ReadyPipe() *os.File {
	fd, ok := posix.EnvInt(posix.EnvReadyFD)
	if !ok || fd < 3 {
		return nil
	}
	os.Unsetenv(posix.EnvReadyFD)
	return os.NewFile(uintptr(fd), "ready")
}

// EnterDaemon prepares the final daemon stage: no umask and stdio on
// /dev/null.
func EnterDaemon() error {
	posix.SetUmask(0)
	return posix.CloseStdio()
}
