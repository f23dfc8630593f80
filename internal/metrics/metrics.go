// Package metrics collects and exposes Prometheus metrics for golem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golemteam/golem/internal/events"
)

// Collector holds all golem-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	EventsTotal       *prometheus.CounterVec
	WorkerExitTotal   *prometheus.CounterVec
	ReloadTotal       prometheus.Counter
	ReloadErrorTotal  prometheus.Counter
	HeartbeatTimeouts prometheus.Counter
	BuildInfo         *prometheus.GaugeVec
}

// New creates and registers all golem metrics. source, when non-nil,
// supplies the master and per-worker gauges at scrape time.
func New(source SampleFunc) *Collector {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_events_total",
				Help: "Master lifecycle events by type.",
			},
			[]string{"type"},
		),

		WorkerExitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_worker_exit_total",
				Help: "Worker exits, split by whether the worker was retiring.",
			},
			[]string{"expected"},
		),

		ReloadTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "golem_master_reload_total",
				Help: "Total number of configuration reloads.",
			},
		),

		ReloadErrorTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "golem_master_reload_errors_total",
				Help: "Total number of failed configuration reloads.",
			},
		),

		HeartbeatTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "golem_worker_heartbeat_timeouts_total",
				Help: "Workers terminated for missing heartbeats.",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "golem_info",
				Help: "Build information about golem.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.EventsTotal,
		c.WorkerExitTotal,
		c.ReloadTotal,
		c.ReloadErrorTotal,
		c.HeartbeatTimeouts,
		c.BuildInfo,
	)
	if source != nil {
		reg.MustRegister(newPoolCollector(source))
	}

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Subscribe counts bus events. It returns the subscription ids so the
// caller can detach on shutdown.
func (c *Collector) Subscribe(bus *events.Bus) []uint64 {
	return bus.SubscribeAll(c.observe)
}

func (c *Collector) observe(e events.Event) {
	c.EventsTotal.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case events.WorkerExit:
		expected := "false"
		if e.Data["retiring"] == "true" {
			expected = "true"
		}
		c.WorkerExitTotal.WithLabelValues(expected).Inc()
	case events.WorkerTimeout:
		c.HeartbeatTimeouts.Inc()
	case events.Reload:
		if e.Data["error"] != "" {
			c.ReloadErrorTotal.Inc()
		} else {
			c.ReloadTotal.Inc()
		}
	}
}
