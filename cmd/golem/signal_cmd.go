package main

import (
	"fmt"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/pidfile"
	"github.com/golemteam/golem/internal/posix"
)

// signalActions maps operator actions to the signal the master reacts to.
var signalActions = map[string]syscall.Signal{
	"reload":  unix.SIGHUP,
	"quit":    unix.SIGQUIT,
	"stop":    unix.SIGTERM,
	"upgrade": unix.SIGUSR2,
	"incr":    unix.SIGTTIN,
	"decr":    unix.SIGTTOU,
	"drain":   unix.SIGWINCH,
}

var (
	signalConfig string
	signalPID    string
)

var signalCmd = &cobra.Command{
	Use:   "signal <action>",
	Short: "Signal a running master",
	Long: `Send an operator signal to the master named by the pid file.

Actions: reload (HUP), quit (QUIT), stop (TERM), upgrade (USR2),
incr (TTIN), decr (TTOU), drain (WINCH).`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: actionNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, ok := signalActions[args[0]]
		if !ok {
			return fmt.Errorf("unknown action %q (want %s)", args[0], strings.Join(actionNames(), ", "))
		}
		path, err := masterPIDPath()
		if err != nil {
			return err
		}
		pid, err := pidfile.Read(path)
		if err != nil {
			return fmt.Errorf("no master running: %w", err)
		}
		if !posix.Alive(pid) {
			return fmt.Errorf("no master running: pid %d from %s is gone", pid, path)
		}
		if err := unix.Kill(pid, sig); err != nil {
			return fmt.Errorf("cannot signal master %d: %w", pid, err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "sent %s to master %d\n", posix.SignalName(sig), pid)
		return err
	},
}

func actionNames() []string {
	names := make([]string, 0, len(signalActions))
	for name := range signalActions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// masterPIDPath returns --pid, or the pid path of the resolved config.
func masterPIDPath() (string, error) {
	if signalPID != "" {
		return signalPID, nil
	}
	cfg, _, err := (&config.Loader{Path: signalConfig}).Load()
	if err != nil {
		return "", err
	}
	return cfg.Master.PID, nil
}

func init() {
	signalCmd.Flags().StringVarP(&signalConfig, "config", "c", "", "config file naming the pid file")
	signalCmd.Flags().StringVar(&signalPID, "pid", "", "pid file (overrides the config)")
	rootCmd.AddCommand(signalCmd)
}
