package master

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/golemteam/golem/internal/metrics"
	"github.com/golemteam/golem/internal/worker"
)

// ErrStopped is returned by Status once the master has stopped.
var ErrStopped = errors.New("master stopped")

// Status is a point-in-time view of the master and its workers.
type Status struct {
	Pid     int               `json:"pid"`
	UID     int               `json:"uid"`
	GID     int               `json:"gid"`
	Started time.Time         `json:"started"`
	Uptime  string            `json:"uptime"`
	Memory  Memory            `json:"memory"`
	State   string            `json:"state"`
	Target  int               `json:"target"`
	Workers []worker.Snapshot `json:"workers"`

	uptime time.Duration
}

// Memory is the master's memory use in bytes.
type Memory struct {
	RSS uint64 `json:"rss"`
	VMS uint64 `json:"vms"`
}

func (mem Memory) String() string {
	return fmt.Sprintf("rss %s, vms %s", humanSize(mem.RSS), humanSize(mem.VMS))
}

// Status asks the event loop for a snapshot.
func (m *Master) Status(ctx context.Context) (Status, error) {
	if m.shutting.Load() {
		return Status{}, ErrStopped
	}
	reply := make(chan Status, 1)
	select {
	case m.msgs <- statusMsg{reply: reply}:
	case <-m.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-m.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (m *Master) status() Status {
	now := time.Now()
	s := Status{
		Pid:     os.Getpid(),
		UID:     os.Getuid(),
		GID:     os.Getgid(),
		Started: m.started,
		uptime:  now.Sub(m.started),
		Memory:  memoryUsage(),
		State:   m.State().String(),
		Target:  m.target,
	}
	s.Uptime = humanDuration(s.uptime)
	for _, h := range m.handles() {
		s.Workers = append(s.Workers, h.Snapshot(now))
	}
	return s
}

// sample feeds the metrics collector.
func (m *Master) sample() (metrics.Sample, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := m.Status(ctx)
	if err != nil {
		return metrics.Sample{}, false
	}
	return metrics.Sample{
		Uptime:  s.uptime,
		RSS:     s.Memory.RSS,
		VMS:     s.Memory.VMS,
		Target:  s.Target,
		Workers: s.Workers,
	}, true
}

func memoryUsage() Memory {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return Memory{}
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return Memory{}
	}
	return Memory{RSS: info.RSS, VMS: info.VMS}
}

// humanDuration renders d in its largest whole unit, e.g. "3 minutes".
func humanDuration(d time.Duration) string {
	const day = 24 * time.Hour
	units := []struct {
		size time.Duration
		name string
	}{
		{day, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
		{time.Second, "second"},
	}
	for _, u := range units {
		if d >= u.size {
			n := int64((d + u.size/2) / u.size)
			if n == 1 {
				return "1 " + u.name
			}
			return fmt.Sprintf("%d %ss", n, u.name)
		}
	}
	return "less than a second"
}

// humanSize renders a byte count as 12M, 3K or 512.
func humanSize(b uint64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%dM", (b+1<<19)>>20)
	case b >= 1<<10:
		return fmt.Sprintf("%dK", (b+1<<9)>>10)
	default:
		return strconv.FormatUint(b, 10)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
