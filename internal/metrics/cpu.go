package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CpuUsageTracker turns cumulative tick counters into utilisation over the
// interval since the previous sample of the same key. It keeps one previous
// sample per scope: overall, per core, and per process.
//
// Process samples are collected into a pending window during a scan and only
// become the previous samples on EndProcessCycle, so a pid missing from a
// scan is forgotten rather than carried forward.
type CpuUsageTracker struct {
	mu         sync.Mutex
	clockTicks float64
	cores      int

	system      CpuSnapshot
	hasSystem   bool
	procs       map[int32]ProcessCpuSnapshot
	pendingProc map[int32]ProcessCpuSnapshot
}

// NewCpuUsageTracker creates a tracker for a host with the given clock ticks
// per second and logical core count.
func NewCpuUsageTracker(clockTicks int64, cores int) *CpuUsageTracker {
	if clockTicks <= 0 {
		clockTicks = 100
	}
	if cores < 1 {
		cores = 1
	}
	return &CpuUsageTracker{
		clockTicks:  float64(clockTicks),
		cores:       cores,
		procs:       make(map[int32]ProcessCpuSnapshot),
		pendingProc: make(map[int32]ProcessCpuSnapshot),
	}
}

func (t *CpuUsageTracker) Cores() int {
	return t.cores
}

// ProcessPercent records activeTicks for pid at time at and returns the
// process's CPU usage since its previous sample. The result is 0 for a first
// observation, a non-positive interval, or a counter that went backwards,
// and is clamped to 100 per logical core.
func (t *CpuUsageTracker) ProcessPercent(pid int32, activeTicks uint64, at time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pendingProc[pid] = ProcessCpuSnapshot{ActiveTicks: activeTicks, At: at}
	prev, ok := t.procs[pid]
	if !ok {
		return 0
	}
	elapsed := at.Sub(prev.At).Seconds()
	if elapsed <= 0 || activeTicks < prev.ActiveTicks {
		return 0
	}
	delta := float64(activeTicks - prev.ActiveTicks)
	pct := (delta / t.clockTicks) / elapsed * 100
	return clampFloat(pct, 0, 100*float64(t.cores))
}

// EndProcessCycle makes the samples recorded since the previous call the
// new baseline, replacing the old one.
func (t *CpuUsageTracker) EndProcessCycle() {
	t.mu.Lock()
	t.procs = t.pendingProc
	t.pendingProc = make(map[int32]ProcessCpuSnapshot, len(t.procs))
	t.mu.Unlock()
}

// ProcessSample returns the baseline sample held for pid.
func (t *CpuUsageTracker) ProcessSample(pid int32) (ProcessCpuSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.procs[pid]
	return s, ok
}

// SystemUsage records the aggregate and per-core counters and returns the
// utilisation since the previous call.
func (t *CpuUsageTracker) SystemUsage(overall cpu.TimesStat, cores []cpu.TimesStat, at time.Time) CpuUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := CpuSnapshot{
		Overall: cpuTicks(overall, at),
		Cores:   make(map[string]CpuTicks, len(cores)),
	}
	usage := CpuUsage{NumCores: len(cores), Cores: make([]CoreUsage, 0, len(cores))}

	var prevOverall *CpuTicks
	if t.hasSystem {
		prevOverall = &t.system.Overall
	}
	usage.UsagePct = idleUsage(prevOverall, next.Overall)
	usage.IdlePct = 100 - usage.UsagePct

	for i, c := range cores {
		cur := cpuTicks(c, at)
		next.Cores[c.CPU] = cur
		var prev *CpuTicks
		if p, ok := t.system.Cores[c.CPU]; ok && t.hasSystem {
			prev = &p
		}
		id := coreID(c.CPU, i)
		usage.Cores = append(usage.Cores, CoreUsage{
			ID:       id,
			Name:     fmt.Sprintf("Core %d", id),
			UsagePct: idleUsage(prev, cur),
		})
	}

	t.system = next
	t.hasSystem = true
	return usage
}

// cpuTicks reduces a times sample to total and idle, counting iowait as idle.
func cpuTicks(s cpu.TimesStat, at time.Time) CpuTicks {
	total := s.User + s.System + s.Nice + s.Idle + s.Iowait + s.Irq + s.Softirq + s.Steal + s.Guest + s.GuestNice
	return CpuTicks{Total: total, Idle: s.Idle + s.Iowait, At: at}
}

// coreID takes the number from a "cpuN" label so offline cores leave gaps.
func coreID(label string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimPrefix(label, "cpu")); err == nil && n >= 0 {
		return n
	}
	return fallback
}

// idleUsage computes (1 - dIdle/dTotal) * 100 between two samples of the
// same scope, returning 0 when there is no usable previous sample.
func idleUsage(prev *CpuTicks, cur CpuTicks) float64 {
	if prev == nil {
		return 0
	}
	if cur.At.Sub(prev.At) <= 0 {
		return 0
	}
	if cur.Total <= prev.Total || cur.Idle < prev.Idle {
		return 0
	}
	dTotal := cur.Total - prev.Total
	dIdle := cur.Idle - prev.Idle
	return clampFloat((1-dIdle/dTotal)*100, 0, 100)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type cpuTimesFunc func(ctx context.Context, percpu bool) ([]cpu.TimesStat, error)

// readCpuUsage samples host CPU times through the tracker. When the
// aggregate line cannot be read the result is zero usage and the baseline is
// left untouched. Per-core failures only drop the core list.
func readCpuUsage(ctx context.Context, times cpuTimesFunc, tracker *CpuUsageTracker, at time.Time) Result[CpuUsage] {
	fallback := CpuUsage{IdlePct: 100, Cores: []CoreUsage{}}
	overall, err := times(ctx, false)
	if err != nil {
		return Result[CpuUsage]{Value: fallback, Reason: hostReason(classify(err))}
	}
	if len(overall) == 0 {
		return Result[CpuUsage]{Value: fallback, Reason: ReasonUnavailable}
	}
	cores, err := times(ctx, true)
	if err != nil {
		cores = nil
	}
	return resultOf(tracker.SystemUsage(overall[0], cores, at))
}
