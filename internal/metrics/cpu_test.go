package metrics

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestProcessPercentFirstObservation(t *testing.T) {
	tr := NewCpuUsageTracker(100, 2)
	if got := tr.ProcessPercent(10, 5000, t0); got != 0 {
		t.Fatalf("first observation = %v, want 0", got)
	}
}

func TestProcessPercent(t *testing.T) {
	tests := []struct {
		name  string
		prev  uint64
		cur   uint64
		dt    time.Duration
		cores int
		want  float64
	}{
		{"half a core", 1000, 1050, time.Second, 2, 50},
		{"two cores busy", 1000, 1200, time.Second, 2, 200},
		{"clamped to core count", 1000, 1500, time.Second, 2, 200},
		{"counter went backwards", 1000, 900, time.Second, 2, 0},
		{"no elapsed time", 1000, 1100, 0, 2, 0},
		{"clock went backwards", 1000, 1100, -time.Second, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewCpuUsageTracker(100, tt.cores)
			tr.ProcessPercent(1, tt.prev, t0)
			tr.EndProcessCycle()
			got := tr.ProcessPercent(1, tt.cur, t0.Add(tt.dt))
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndProcessCycleForgetsVanishedPids(t *testing.T) {
	tr := NewCpuUsageTracker(100, 1)
	tr.ProcessPercent(1, 100, t0)
	tr.ProcessPercent(2, 100, t0)
	tr.EndProcessCycle()

	tr.ProcessPercent(1, 150, t0.Add(time.Second))
	tr.EndProcessCycle()

	if _, ok := tr.ProcessSample(2); ok {
		t.Fatal("pid 2 kept after it was not sampled")
	}
	s, ok := tr.ProcessSample(1)
	if !ok || s.ActiveTicks != 150 {
		t.Fatalf("pid 1 sample = %+v, %v", s, ok)
	}

	// pid 2 returning is a first observation again.
	if got := tr.ProcessPercent(2, 500, t0.Add(2*time.Second)); got != 0 {
		t.Fatalf("returning pid = %v, want 0", got)
	}
}

func times(name string, busy, idle float64) cpu.TimesStat {
	return cpu.TimesStat{CPU: name, User: busy, Idle: idle}
}

func TestSystemUsage(t *testing.T) {
	tr := NewCpuUsageTracker(100, 2)
	first := tr.SystemUsage(
		times("cpu-total", 3, 7),
		[]cpu.TimesStat{times("cpu0", 1.5, 3.5), times("cpu1", 1.5, 3.5)},
		t0,
	)
	if first.UsagePct != 0 || first.IdlePct != 100 {
		t.Fatalf("first sample = %+v", first)
	}
	if len(first.Cores) != 2 || first.Cores[1].Name != "Core 1" || first.Cores[1].UsagePct != 0 {
		t.Fatalf("first cores = %+v", first.Cores)
	}

	got := tr.SystemUsage(
		times("cpu-total", 4, 8),
		[]cpu.TimesStat{times("cpu0", 2.4, 3.6), times("cpu1", 1.6, 4.4)},
		t0.Add(time.Second),
	)
	if !approx(got.UsagePct, 50) || !approx(got.IdlePct, 50) {
		t.Fatalf("overall = %v/%v, want 50/50", got.UsagePct, got.IdlePct)
	}
	if got.NumCores != 2 || !approx(got.Cores[0].UsagePct, 90) || !approx(got.Cores[1].UsagePct, 10) {
		t.Fatalf("cores = %+v", got.Cores)
	}
}

func TestSystemUsageCountsIowaitAsIdle(t *testing.T) {
	tr := NewCpuUsageTracker(100, 1)
	tr.SystemUsage(cpu.TimesStat{User: 1, Idle: 1, Iowait: 1}, nil, t0)
	got := tr.SystemUsage(cpu.TimesStat{User: 2, Idle: 2, Iowait: 3}, nil, t0.Add(time.Second))
	// 4s elapsed, 3s of it idle or waiting on I/O
	if !approx(got.UsagePct, 25) {
		t.Fatalf("usage = %v, want 25", got.UsagePct)
	}
}

func TestSystemUsageKeepsCoreNumbers(t *testing.T) {
	tr := NewCpuUsageTracker(100, 2)
	got := tr.SystemUsage(times("cpu-total", 1, 1), []cpu.TimesStat{times("cpu0", 1, 1), times("cpu2", 1, 1)}, t0)
	if got.Cores[0].ID != 0 || got.Cores[1].ID != 2 || got.Cores[1].Name != "Core 2" {
		t.Fatalf("cores = %+v", got.Cores)
	}
}

func TestSystemUsageCounterReset(t *testing.T) {
	tr := NewCpuUsageTracker(100, 1)
	tr.SystemUsage(times("cpu-total", 10, 40), nil, t0)
	got := tr.SystemUsage(times("cpu-total", 0.5, 0.5), nil, t0.Add(time.Second))
	if got.UsagePct != 0 {
		t.Fatalf("usage after reset = %v, want 0", got.UsagePct)
	}
	got = tr.SystemUsage(times("cpu-total", 1.5, 0.5), nil, t0.Add(2*time.Second))
	if got.UsagePct != 100 {
		t.Fatalf("usage = %v, want 100", got.UsagePct)
	}
}

func TestReadCpuUsageFailures(t *testing.T) {
	tests := []struct {
		name  string
		times cpuTimesFunc
	}{
		{"missing", func(context.Context, bool) ([]cpu.TimesStat, error) {
			return nil, &fs.PathError{Op: "open", Path: "/proc/stat", Err: fs.ErrNotExist}
		}},
		{"empty", func(context.Context, bool) ([]cpu.TimesStat, error) {
			return []cpu.TimesStat{}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewCpuUsageTracker(100, 1)
			res := readCpuUsage(context.Background(), tt.times, tr, t0)
			if res.OK() || res.Reason != ReasonUnavailable {
				t.Fatalf("reason = %q", res.Reason)
			}
			if res.Value.UsagePct != 0 || res.Value.IdlePct != 100 || res.Value.Cores == nil {
				t.Fatalf("default = %+v", res.Value)
			}
		})
	}
}

func TestReadCpuUsageMissingStat(t *testing.T) {
	tr := NewCpuUsageTracker(100, 1)
	ctx := withProcRoot(context.Background(), t.TempDir())
	res := readCpuUsage(ctx, cpu.TimesWithContext, tr, t0)
	if res.OK() || res.Reason != ReasonUnavailable {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestReadCpuUsage(t *testing.T) {
	root := t.TempDir()
	stat := filepath.Join(root, "stat")
	ctx := withProcRoot(context.Background(), root)
	tr := NewCpuUsageTracker(100, 1)

	writeFile(t, stat, "cpu  100 0 100 700 0 0 0 0 0 0\ncpu0 100 0 100 700 0 0 0 0 0 0\nintr 1\n")
	readCpuUsage(ctx, cpu.TimesWithContext, tr, t0)
	if err := os.WriteFile(stat, []byte("cpu  150 0 150 800 0 0 0 0 0 0\ncpu0 150 0 150 800 0 0 0 0 0 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := readCpuUsage(ctx, cpu.TimesWithContext, tr, t0.Add(time.Second))
	if !res.OK() {
		t.Fatalf("reason = %q", res.Reason)
	}
	if !approx(res.Value.UsagePct, 50) || len(res.Value.Cores) != 1 || !approx(res.Value.Cores[0].UsagePct, 50) {
		t.Fatalf("usage = %+v", res.Value)
	}
}
