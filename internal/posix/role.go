// Package posix holds the process and descriptor primitives golem is built
// on: re-exec based forking, pipes and socket pairs, descriptor passing,
// identity changes and session control.
package posix

import (
	"os"
	"strconv"
)

// Role tells a freshly started golem binary what it was forked to do.
type Role string

// Roles. The empty role is a master started by an operator.
const (
	RoleMaster Role = ""
	RoleWorker Role = "worker"
	RoleDetach Role = "detach"
	RoleDaemon Role = "daemon"
)

// Environment markers passed from a parent golem process to its children.
const (
	EnvRole      = "GOLEM_ROLE"
	EnvWorker    = "GOLEM_WORKER"
	EnvMasterPID = "GOLEM_MASTER_PID"
	EnvFD        = "GOLEM_FD"
	EnvReadyFD   = "GOLEM_READY_FD"
)

// CurrentRole returns the role this process was started with.
func CurrentRole() Role {
	return Role(os.Getenv(EnvRole))
}

// EnvInt reads an integer environment marker. ok is false when the
// variable is unset or malformed.
func EnvInt(name string) (int, bool) {
	v, found := os.LookupEnv(name)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
