package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
	"github.com/t77yq/port-monitor/internal/scheduler"
)

// EngineSource exposes the scheduler state included in a snapshot
type EngineSource interface {
	ActiveTasks() int
	Counters() scheduler.Counters
}

// StatsCollector combines engine counters with host CPU and memory usage
type StatsCollector struct {
	logger    *zap.Logger
	engine    EngineSource
	interval  time.Duration
	startedAt time.Time

	alertsSent   atomic.Uint64
	alertsFailed atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStatsCollector creates a collector that logs a snapshot every interval
func NewStatsCollector(engine EngineSource, interval time.Duration, logger *zap.Logger) *StatsCollector {
	return &StatsCollector{
		logger:    logger.Named("stats"),
		engine:    engine,
		interval:  interval,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}
}

// RecordDelivery counts one alert delivery attempt
func (c *StatsCollector) RecordDelivery(err error) {
	if err != nil {
		c.alertsFailed.Add(1)
		return
	}
	c.alertsSent.Add(1)
}

// Snapshot returns the current stats. Host usage is left at zero when it
// cannot be read.
func (c *StatsCollector) Snapshot(ctx context.Context) model.EngineStats {
	counters := c.engine.Counters()
	stats := model.EngineStats{
		ActiveTasks:  c.engine.ActiveTasks(),
		ChecksTotal:  counters.ChecksTotal,
		ChecksFailed: counters.ChecksFailed,
		TicksSkipped: counters.TicksSkipped,
		AlertsSent:   c.alertsSent.Load(),
		AlertsFailed: c.alertsFailed.Load(),
		StartedAt:    c.startedAt,
		CollectedAt:  time.Now(),
	}

	// interval 0 compares against the previous call instead of blocking
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		c.logger.Debug("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.logger.Debug("Failed to get memory usage", zap.Error(err))
	} else {
		stats.MemoryUsage = memInfo.UsedPercent
	}

	return stats
}

// Start logs a snapshot every interval until ctx is done or Stop is called
func (c *StatsCollector) Start(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	c.logger.Info("Starting stats collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the collection loop
func (c *StatsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *StatsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			s := c.Snapshot(ctx)
			c.logger.Info("Engine stats",
				zap.Int("active_tasks", s.ActiveTasks),
				zap.Uint64("checks_total", s.ChecksTotal),
				zap.Uint64("checks_failed", s.ChecksFailed),
				zap.Uint64("ticks_skipped", s.TicksSkipped),
				zap.Uint64("alerts_sent", s.AlertsSent),
				zap.Uint64("alerts_failed", s.AlertsFailed),
				zap.Float64("cpu_usage", s.CPUUsage),
				zap.Float64("memory_usage", s.MemoryUsage))
		}
	}
}
