package master

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/golemteam/golem/internal/config"
	"github.com/golemteam/golem/internal/events"
)

// reload re-reads the configuration and the application, commits the new
// settings and retires every worker so replacements pick them up. The
// listener is left alone. Any failure is fatal: a reload never leaves the
// master half configured.
func (m *Master) reload() {
	if m.drain == drainExit {
		m.logger.Warn("reload ignored while shutting down")
		return
	}
	m.setState(StateReloading)

	cfg, warnings, err := m.loadConfig()
	if err != nil {
		m.publish(events.Reload, map[string]string{"error": err.Error()})
		m.abort("configuration reload failed", "error", err)
		return
	}
	for _, w := range warnings {
		m.logger.Warn(w)
	}
	if _, err := m.opts.Factory(cfg); err != nil {
		m.publish(events.Reload, map[string]string{"error": err.Error()})
		m.abort("application failed to load", "error", err)
		return
	}
	if err := m.commit(cfg); err != nil {
		m.publish(events.Reload, map[string]string{"error": err.Error()})
		m.abort("configuration reload failed", "error", err)
		return
	}

	where := cfg.Path
	if where == "" {
		where = "built-in defaults"
	}
	m.logger.Info("configuration loaded from " + where)
	m.publish(events.Reload, map[string]string{"path": where, "workers": itoa(m.target)})

	m.killEach(sigQUIT, false)
	m.armDrainWatchdog()
	if m.drain == drainNone {
		m.setState(StateRunning)
	} else {
		m.setState(StateDraining)
	}
	m.reconcile()
}

func (m *Master) loadConfig() (*config.Config, []string, error) {
	if m.opts.Loader == nil {
		cfg := *m.cfg
		return &cfg, nil, nil
	}
	return m.opts.Loader.Load()
}

// commit applies cfg to the running master.
func (m *Master) commit(cfg *config.Config) error {
	if err := m.lockPID(cfg.Master.PID); err != nil {
		return err
	}
	if cfg.Master.Addr() != m.cfg.Master.Addr() {
		m.logger.Warn("listen address change needs a restart", "current", m.cfg.Master.Addr(), "configured", cfg.Master.Addr())
	}
	if cfg.Master.MetricsListen != m.cfg.Master.MetricsListen {
		m.logger.Warn("metrics_listen change needs a restart")
	}

	if m.opts.Level != nil {
		m.opts.Level.Set(cfg.Master.LogLevel)
	}
	m.target = cfg.Master.Workers
	m.limiter.SetLimit(rate.Limit(cfg.Master.RespawnRate))
	m.limiter.SetBurst(max(m.target, 1))

	if m.webhooks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		m.webhooks.Stop(ctx)
		cancel()
		m.webhooks = nil
	}
	if len(cfg.Webhooks) > 0 {
		hooks, err := events.WebhooksFromConfig(cfg.Webhooks)
		if err != nil {
			return err
		}
		m.webhooks = events.NewWebhookManager(m.bus, hooks, m.logger)
	}

	m.cfg = cfg
	return nil
}
