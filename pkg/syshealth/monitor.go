// Package syshealth samples host pressure (load, I/O wait, memory and
// database pool saturation) and folds it into a single score.
package syshealth

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/emergent-company/emergent.graph/pkg/logger"
)

// Monitor periodically samples the host. The zero value is not usable.
type Monitor struct {
	cfg  Config
	pool PoolStats
	log  *slog.Logger

	mu       sync.RWMutex
	last     Snapshot
	prevCPU  *cpu.TimesStat
	failures int

	loadAvg  func(context.Context) (*load.AvgStat, error)
	cpuTimes func(context.Context, bool) ([]cpu.TimesStat, error)
	memStats func(context.Context) (*mem.VirtualMemoryStat, error)
	numCPU   func() int
	now      func() time.Time
}

// NewMonitor creates a monitor. pool may be nil.
func NewMonitor(cfg Config, pool PoolStats, log *slog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		pool:     pool,
		log:      log.With(logger.Scope("syshealth")),
		last:     Snapshot{Score: 100, Zone: ZoneSafe},
		loadAvg:  load.AvgWithContext,
		cpuTimes: cpu.TimesWithContext,
		memStats: mem.VirtualMemoryWithContext,
		numCPU:   runtime.NumCPU,
		now:      time.Now,
	}
}

// Run samples immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Snapshot returns the latest sample, flagged stale when it is too old.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.last
	if s.SampledAt.IsZero() || m.now().Sub(s.SampledAt) > m.cfg.StaleAfter {
		s.Stale = true
	}
	return s
}

// Sample collects one round of signals. A signal that cannot be read keeps
// its previous value.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.last
	failed := false

	if l, err := m.loadAvg(ctx); err == nil {
		next.LoadAvg = l.Load1
	} else {
		failed = true
		m.log.Debug("load average unavailable", logger.Error(err))
	}

	if times, err := m.cpuTimes(ctx, false); err == nil && len(times) > 0 {
		t := times[0]
		if m.prevCPU != nil {
			if total := t.Total() - m.prevCPU.Total(); total > 0 {
				next.IOWaitPercent = (t.Iowait - m.prevCPU.Iowait) / total * 100
			}
		}
		m.prevCPU = &t
	} else {
		failed = true
		m.log.Debug("cpu times unavailable", logger.Error(err))
	}

	if v, err := m.memStats(ctx); err == nil {
		next.MemoryPercent = v.UsedPercent
	} else {
		failed = true
		m.log.Debug("memory stats unavailable", logger.Error(err))
	}

	if m.pool != nil {
		if acquired, max := m.pool(); max > 0 {
			next.PoolPercent = float64(acquired) / float64(max) * 100
		}
	}

	if failed {
		m.failures++
		if m.failures == 3 {
			m.log.Warn("host metrics keep failing, readiness uses stale values", slog.Int("failures", m.failures))
		}
	} else {
		m.failures = 0
	}

	next.Score = m.score(next)
	next.Zone = zoneFor(next.Score)
	next.SampledAt = m.now()
	next.Stale = false

	if next.Zone != m.last.Zone {
		m.log.Warn("host health zone changed",
			slog.String("from", string(m.last.Zone)),
			slog.String("to", string(next.Zone)),
			slog.Int("score", next.Score))
	}
	m.last = next

	hostScore.Set(float64(next.Score))
	hostSignal.WithLabelValues("load_avg_1m").Set(next.LoadAvg)
	hostSignal.WithLabelValues("io_wait_percent").Set(next.IOWaitPercent)
	hostSignal.WithLabelValues("memory_percent").Set(next.MemoryPercent)
	hostSignal.WithLabelValues("db_pool_percent").Set(next.PoolPercent)

	return next
}

// score subtracts weighted penalties from 100; I/O wait weighs heaviest.
func (m *Monitor) score(s Snapshot) int {
	cores := float64(m.numCPU())
	if cores < 1 {
		cores = 1
	}
	penalty := 0.40*penaltyFor(s.IOWaitPercent, m.cfg.IOWaitWarning, m.cfg.IOWaitCritical) +
		0.30*penaltyFor(s.LoadAvg/cores, m.cfg.LoadWarning, m.cfg.LoadCritical) +
		0.20*penaltyFor(s.PoolPercent, m.cfg.PoolWarning, m.cfg.PoolCritical) +
		0.10*penaltyFor(s.MemoryPercent, m.cfg.MemoryWarning, m.cfg.MemoryCritical)
	return max(0, 100-int(penalty))
}

func penaltyFor(value, warning, critical float64) float64 {
	switch {
	case value >= critical:
		return 100
	case value >= warning:
		return 50
	}
	return 0
}

func zoneFor(score int) Zone {
	switch {
	case score <= 33:
		return ZoneCritical
	case score <= 66:
		return ZoneWarning
	}
	return ZoneSafe
}
