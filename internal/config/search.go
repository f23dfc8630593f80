package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golemteam/golem/internal/posix"
)

// EnvConfig names the environment variable holding a config path.
const EnvConfig = "GOLEM_CONFIG"

// DefaultSearchPaths is the ordered list of config file paths to try.
var DefaultSearchPaths = []string{
	"./golem.toml",
	"/etc/golem/golem.toml",
}

// Resolve finds the config file path by checking, in order:
//  1. Explicit path from -c flag (if non-empty)
//  2. GOLEM_CONFIG environment variable
//  3. DefaultSearchPaths
//
// An explicit or environment path must exist. When nothing is found the
// result is empty and golem runs on defaults.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("cannot read config: %s: %w", explicit, err)
		}
		return filepath.Abs(explicit)
	}

	if env := os.Getenv(EnvConfig); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("cannot read config: %s: %w", env, err)
		}
		return filepath.Abs(env)
	}

	for _, p := range DefaultSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", nil
}

// ResolvePIDPath checks that the pid file can be written. When neither the
// file nor its directory is writable, a foreground master falls back to
// golem.pid in the working directory and warning says so; a daemon fails.
func ResolvePIDPath(path string, daemonize bool) (resolved, warning string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	if posix.Writable(abs) || posix.Writable(filepath.Dir(abs)) {
		return abs, "", nil
	}

	if !daemonize {
		if wd, err := os.Getwd(); err == nil && posix.Writable(wd) {
			fallback := filepath.Join(wd, "golem.pid")
			return fallback, fmt.Sprintf("couldn't write pid file, writing to %s", fallback), nil
		}
	}
	return "", "", fmt.Errorf("can't write pid file %s", abs)
}
