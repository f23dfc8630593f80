package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/golemteam/golem/internal/worker"
)

// Sample is the master state read at scrape time.
type Sample struct {
	Uptime  time.Duration
	RSS     uint64
	VMS     uint64
	Target  int
	Workers []worker.Snapshot
}

// SampleFunc returns the current sample. ok is false when the master
// cannot answer, for example while it is shutting down.
type SampleFunc func() (s Sample, ok bool)

var (
	uptimeDesc = prometheus.NewDesc(
		"golem_master_uptime_seconds", "Uptime of the golem master in seconds.", nil, nil)
	rssDesc = prometheus.NewDesc(
		"golem_master_memory_rss_bytes", "Resident set size of the master.", nil, nil)
	vmsDesc = prometheus.NewDesc(
		"golem_master_memory_vms_bytes", "Virtual memory size of the master.", nil, nil)
	targetDesc = prometheus.NewDesc(
		"golem_workers_target", "Number of workers the master maintains.", nil, nil)
	workersDesc = prometheus.NewDesc(
		"golem_workers", "Live workers per state.", []string{"state"}, nil)
	connDesc = prometheus.NewDesc(
		"golem_worker_connections", "Open connections reported by a worker.", []string{"worker", "pid"}, nil)
	idleDesc = prometheus.NewDesc(
		"golem_worker_idle_seconds", "Seconds since a worker last had connections.", []string{"worker", "pid"}, nil)
	workerUptimeDesc = prometheus.NewDesc(
		"golem_worker_uptime_seconds", "Seconds since a worker reported ready.", []string{"worker", "pid"}, nil)
)

// poolCollector turns a Sample into const metrics on every scrape, so
// per-worker series disappear with the worker.
type poolCollector struct {
	source SampleFunc
	now    func() time.Time
}

func newPoolCollector(source SampleFunc) *poolCollector {
	return &poolCollector{source: source, now: time.Now}
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- uptimeDesc
	ch <- rssDesc
	ch <- vmsDesc
	ch <- targetDesc
	ch <- workersDesc
	ch <- connDesc
	ch <- idleDesc
	ch <- workerUptimeDesc
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s, ok := p.source()
	if !ok {
		return
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(uptimeDesc, s.Uptime.Seconds())
	gauge(rssDesc, float64(s.RSS))
	gauge(vmsDesc, float64(s.VMS))
	gauge(targetDesc, float64(s.Target))

	counts := map[string]int{"starting": 0, "ready": 0, "retiring": 0}
	now := p.now()
	for _, w := range s.Workers {
		switch {
		case w.Retiring:
			counts["retiring"]++
		case w.Ready:
			counts["ready"]++
		default:
			counts["starting"]++
		}

		ord, pid := strconv.Itoa(w.Ordinal), strconv.Itoa(w.Pid)
		gauge(connDesc, float64(w.Connections), ord, pid)
		if w.Idle != nil {
			gauge(idleDesc, *w.Idle, ord, pid)
		}
		if w.Started != nil {
			gauge(workerUptimeDesc, now.Sub(*w.Started).Seconds(), ord, pid)
		}
	}
	for state, n := range counts {
		gauge(workersDesc, float64(n), state)
	}
}
