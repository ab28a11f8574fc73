package workers

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Telemetry periodically logs the service's own resource usage. Purely
// observational; it holds no chat state and can restart at any time.
type Telemetry struct {
	log      *slog.Logger
	interval time.Duration
}

func NewTelemetry(log *slog.Logger, interval time.Duration) *Telemetry {
	return &Telemetry{log: log, interval: interval}
}

func (w *Telemetry) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			mem, err := p.MemoryInfo()
			if err != nil {
				w.log.Warn("Failed to read memory info", "error", err)
				continue
			}
			cpu, err := p.CPUPercent()
			if err != nil {
				w.log.Warn("Failed to read cpu usage", "error", err)
				continue
			}
			w.log.Info("Telemetry", "rss_bytes", mem.RSS, "cpu_percent", cpu, "goroutines", runtime.NumGoroutine())
		}
	}
}
