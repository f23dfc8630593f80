package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/golemteam/golem/internal/app"
	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/logging"
	"github.com/golemteam/golem/internal/master"
	"github.com/golemteam/golem/internal/posix"
)

type runOptions struct {
	config    string
	workers   int
	host      string
	port      int
	pid       string
	daemonize bool
	debug     bool
	raw       bool
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a golem master",
	Long: `Start a golem master in the foreground, or in the background with
--daemonize. The master binds the listening socket, forks the workers and
reacts to signals: HUP reloads, USR2 upgrades the binary, QUIT drains and
exits, TTIN and TTOU change the pool size.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if code := runMaster(cmd); code != 0 {
			return exitCode(code)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.config, "config", "c", "", "config file (default: $GOLEM_CONFIG, ./golem.toml, /etc/golem/golem.toml)")
	f.IntVarP(&runFlags.workers, "workers", "w", 0, "number of worker processes")
	f.StringVar(&runFlags.host, "host", "", "listen host")
	f.IntVarP(&runFlags.port, "port", "p", 0, "listen port")
	f.StringVar(&runFlags.pid, "pid", "", "pid file")
	f.BoolVarP(&runFlags.daemonize, "daemonize", "d", false, "detach from the terminal")
	f.BoolVar(&runFlags.debug, "debug", false, "log every connection")
	f.BoolVar(&runFlags.raw, "raw", false, "leave the terminal alone")
	rootCmd.AddCommand(runCmd)
}

// overrides collects the flags given on the command line.
func overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	f := cmd.Flags()
	if f.Changed("workers") {
		o.Workers = &runFlags.workers
	}
	if f.Changed("host") {
		o.Host = &runFlags.host
	}
	if f.Changed("port") {
		o.Port = &runFlags.port
	}
	if f.Changed("pid") {
		o.PID = &runFlags.pid
	}
	if f.Changed("daemonize") {
		o.Daemonize = &runFlags.daemonize
	}
	if f.Changed("debug") {
		o.Debug = &runFlags.debug
	}
	if f.Changed("raw") {
		o.Raw = &runFlags.raw
	}
	return o
}

func runMaster(cmd *cobra.Command) int {
	forker := posix.ExecForker{}
	role := posix.CurrentRole()
	if role == posix.RoleDetach {
		return master.Detach(forker, os.Args[1:])
	}

	loader := &config.Loader{Path: runFlags.config, Overrides: overrides(cmd)}
	cfg, warnings, err := loader.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	daemonized := role == posix.RoleDaemon
	if cfg.Master.Daemonize && !daemonized && !master.Inherited() {
		return master.Bootstrap(forker, os.Args[1:], os.Stderr)
	}

	var ready io.WriteCloser
	if daemonized {
		if f := master.ReadyPipe(); f != nil {
			ready = f
		}
		if err := master.EnterDaemon(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	sink, err := logging.OpenSink(logging.SinkConfig{
		Logfile:   cfg.Master.Logfile,
		MaxSizeMB: cfg.Master.LogfileMaxSizeMB,
		Backups:   cfg.Master.LogfileBackups,
		Syslog:    cfg.Master.Production() && cfg.Master.Logfile == "",
		Tag:       "golem",
		Stream:    os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sink.Close()

	level := logging.NewLevelVar(cfg.Master.LogLevel)
	logger := logging.New(logging.LogConfig{
		Level:  level,
		Format: cfg.Master.LogFormat,
		Output: sink,
		Color:  sink.Terminal(),
	})
	for _, w := range warnings {
		logger.Warn(w)
	}

	startup, err := posix.StartContext()
	if err != nil {
		logging.Crit(logger, "cannot record startup context", "error", err)
		return 1
	}

	opts := master.Options{
		Config:       cfg,
		Loader:       loader,
		Factory:      app.DefaultFactory,
		Forker:       forker,
		Logger:       logger,
		Level:        level,
		Startup:      startup,
		Daemonized:   daemonized,
		Ready:        ready,
		Echo:         os.Stdout,
		SetRaw:       sink.SetRaw,
		WorkerOutput: sink,
	}
	if !daemonized {
		opts.Keyboard = os.Stdin
	}
	return master.New(opts).Run(context.Background())
}
