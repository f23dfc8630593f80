package config

// DefaultConfigTOML is a complete, commented sample golem.toml.
const DefaultConfigTOML = `# golem configuration file
# Command-line flags (--workers, --port, --host, --pid, --daemonize,
# --debug, --raw) override the values below.

[master]
# workers = 4                    # worker processes (default: one per CPU)
# host = "127.0.0.1"             # listen address
# port = 8080                    # listen port
# pid = "/var/run/golem.pid"     # pid file; falls back to ./golem.pid in the foreground
# user = ""                      # workers switch to this user
# group = ""                     # workers switch to this group
# privilege_error = "continue"   # continue or abort when the switch fails
# daemonize = false              # detach from the terminal
# debug = false                  # log every accepted connection
# raw = false                    # leave the terminal alone (no keyboard shortcuts)
# watch = false                  # reload when this file changes
# env = "development"            # production sends logs to syslog
# heartbeat = "1.5s"             # worker heartbeat interval
# timeout = "3s"                 # workers silent this long are terminated
# drain_timeout = "0s"           # force-kill draining workers after this (0 = wait)
# respawn_rate = 2.0             # respawns per second after crashes
# log_level = "info"             # debug, info, notice, warn, error, crit
# log_format = "text"            # text, json
# logfile = ""                   # log file (default: stderr)
# logfile_max_size_mb = 100      # rotate the log file at this size
# logfile_backups = 5            # rotated log files to keep
# metrics_listen = ""            # e.g. "127.0.0.1:9100" serves /metrics

[app]
# root = ""                      # serve static files from this directory
# shutdown_timeout = "30s"       # graceful connection drain per worker

# Webhook definitions
# [webhooks.ops]
# url = "https://hooks.slack.com/..."
# events = ["worker_exit", "worker_timeout", "fatal"]
# template = "slack"             # generic or slack
# timeout = 5
# retries = 3
# [webhooks.ops.headers]
# Authorization = "Bearer token"
`
