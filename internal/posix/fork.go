package posix

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"
)

// ForkConfig describes a child golem process.
//
// The Go runtime cannot fork(2) itself, so a fork is a fresh exec of the
// running binary with Role set in the environment. The child decides what
// to do from posix.CurrentRole at startup.
type ForkConfig struct {
	Role    Role
	Name    string            // argv[0] as shown by ps; defaults to the binary name
	Path    string            // executable; defaults to SelfExecutable()
	Args    []string          // arguments after argv[0]
	Dir     string            // working directory
	Env     map[string]string // merged into the inherited environment; "" unsets
	Files   []*os.File        // become fds 3, 4, ... in the child
	Stdin   io.Reader         // nil = /dev/null
	Stdout  io.Writer         // nil = /dev/null
	Stderr  io.Writer         // nil = /dev/null
	Setpgid bool              // put the child in its own process group
}

// Process is a started child.
type Process interface {
	Pid() int
	Wait() (*os.ProcessState, error)
	Signal(os.Signal) error
}

// Forker starts child processes. ExecForker starts real ones; MockForker
// is used by tests.
type Forker interface {
	Fork(cfg ForkConfig) (Process, error)
}

// ExecForker forks real OS processes.
type ExecForker struct{}

type execProcess struct {
	cmd *exec.Cmd
}

// Fork starts a child with the given config.
func (ExecForker) Fork(cfg ForkConfig) (Process, error) {
	path := cfg.Path
	if path == "" {
		self, err := SelfExecutable()
		if err != nil {
			return nil, err
		}
		path = self
	}
	name := cfg.Name
	if name == "" {
		name = filepath.Base(path)
	}

	env := map[string]string{EnvRole: string(cfg.Role)}
	for k, v := range cfg.Env {
		env[k] = v
	}

	cmd := &exec.Cmd{
		Path:       path,
		Args:       append([]string{name}, cfg.Args...),
		Dir:        cfg.Dir,
		Env:        MergeEnv(os.Environ(), env),
		Stdin:      cfg.Stdin,
		Stdout:     cfg.Stdout,
		Stderr:     cfg.Stderr,
		ExtraFiles: cfg.Files,
		WaitDelay:  5 * time.Second,
		SysProcAttr: &syscall.SysProcAttr{
			Setpgid: cfg.Setpgid,
		},
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("fork %s: %w", roleName(cfg.Role), err)
	}
	return &execProcess{cmd: cmd}, nil
}

// Fork starts a child with ExecForker.
func Fork(cfg ForkConfig) (Process, error) {
	return ExecForker{}.Fork(cfg)
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

// Wait reaps the child. A non-zero exit is reported through the state, not
// as an error.
func (p *execProcess) Wait() (*os.ProcessState, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && p.cmd.ProcessState == nil {
		return nil, err
	}
	return p.cmd.ProcessState, nil
}

func roleName(r Role) string {
	if r == RoleMaster {
		return "master"
	}
	return string(r)
}

// SelfExecutable returns a path that execs the running binary, even when
// the file on disk has since been replaced.
func SelfExecutable() (string, error) {
	const proc = "/proc/self/exe"
	if _, err := os.Stat(proc); err == nil {
		return proc, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate own executable: %w", err)
	}
	return exe, nil
}

// Startup records how the running binary was invoked, so a re-exec can
// start whatever binary now lives at that path.
type Startup struct {
	Path string
	Args []string
	Dir  string
}

// StartContext captures the executable path, arguments and working
// directory of the current process.
func StartContext() (Startup, error) {
	dir, err := os.Getwd()
	if err != nil {
		return Startup{}, fmt.Errorf("cannot read working directory: %w", err)
	}
	path := os.Args[0]
	if !strings.Contains(path, "/") {
		if p, err := exec.LookPath(path); err == nil {
			path = p
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return Startup{
		Path: path,
		Args: slices.Clone(os.Args[1:]),
		Dir:  dir,
	}, nil
}

// MergeEnv returns base with the variables in set replaced. Empty values
// remove the variable.
func MergeEnv(base []string, set map[string]string) []string {
	out := make([]string, 0, len(base)+len(set))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := set[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if v := set[k]; v != "" {
			out = append(out, k+"="+v)
		}
	}
	return out
}
