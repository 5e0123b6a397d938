package check

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/obsidianstack/sentinel/internal/config"
)

// hostSampler reads local resource usage:
//
//	cpu_pct              CPU busy percentage since the previous sample
//	mem_pct              used virtual memory percentage
//	disk_pct             used space on cfg.Path (default "/")
//	load1 load5 load15   load averages (not on Windows)
//
// CPU and memory are required; disk and load are skipped with a warning when
// the platform cannot report them.
func hostSampler(cfg config.Check) sampler {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	return func(ctx context.Context) (Sample, error) {
		s := make(Sample, 6)

		// Interval 0 compares against the previous call, so the first
		// sample after start-up covers the time since boot.
		pct, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return nil, fmt.Errorf("cpu: %w", err)
		}
		if len(pct) > 0 {
			s["cpu_pct"] = pct[0]
		}

		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		s["mem_pct"] = vm.UsedPercent

		if du, err := disk.UsageWithContext(ctx, path); err != nil {
			slog.Warn("check: disk usage unavailable", "check", cfg.Name, "path", path, "err", err)
		} else {
			s["disk_pct"] = du.UsedPercent
		}

		if runtime.GOOS != "windows" {
			if avg, err := load.AvgWithContext(ctx); err != nil {
				slog.Warn("check: load average unavailable", "check", cfg.Name, "err", err)
			} else {
				s["load1"] = avg.Load1
				s["load5"] = avg.Load5
				s["load15"] = avg.Load15
			}
		}
		return s, nil
	}
}
