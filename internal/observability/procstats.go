package observability

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcStats is a point-in-time snapshot of this process's resource usage.
type ProcStats struct {
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
	Uptime     time.Duration
}

// ProcStatsSampler samples resource usage of the current process.
type ProcStatsSampler struct {
	proc    *process.Process
	started time.Time
}

// NewProcStatsSampler creates a sampler bound to the current PID.
func NewProcStatsSampler() (*ProcStatsSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcStatsSampler{proc: proc, started: time.Now()}, nil
}

// Sample collects current process statistics. Individual probe failures are
// tolerated; the corresponding field is left zero.
func (s *ProcStatsSampler) Sample(ctx context.Context) ProcStats {
	stats := ProcStats{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(s.started),
	}

	if pct, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = pct
	}
	if mi, err := s.proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		stats.RSSBytes = mi.RSS
	}

	return stats
}

// LogPeriodically samples and logs process stats at the given interval until
// the context is cancelled. Intended to run in its own goroutine.
func (s *ProcStatsSampler) LogPeriodically(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.Sample(ctx)
			logger.Info("process stats",
				slog.Float64("cpu_percent", stats.CPUPercent),
				slog.Uint64("rss_bytes", stats.RSSBytes),
				slog.Int("goroutines", stats.Goroutines),
				slog.Duration("uptime", stats.Uptime))
		}
	}
}
