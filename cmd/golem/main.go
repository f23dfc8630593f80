package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/golemteam/golem/internal/app"
	"github.com/golemteam/golem/internal/posix"
	"github.com/golemteam/golem/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:           "golem",
	Short:         "golem -- preforking master/worker supervisor",
	Long:          "golem binds a listening socket once and keeps a pool of worker processes serving it across crashes, reloads and binary upgrades.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCode ends the process with a status without printing anything. The
// command has already reported the failure.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func main() {
	// Workers are this binary re-executed by the master; they never reach
	// the command line parser.
	if posix.CurrentRole() == posix.RoleWorker {
		os.Exit(worker.Main(app.DefaultFactory))
	}

	err := rootCmd.Execute()
	var code exitCode
	switch {
	case errors.As(err, &code):
		os.Exit(int(code))
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
