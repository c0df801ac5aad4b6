package metrics

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

type ProcSort string

const (
	ProcSortCpu  ProcSort = "cpu"
	ProcSortMem  ProcSort = "mem"
	ProcSortPid  ProcSort = "pid"
	ProcSortName ProcSort = "name"
)

// ProcessQuery shapes the process list returned by Processes. A zero Limit
// means no limit; an empty Sort keeps pid order.
type ProcessQuery struct {
	Limit     int
	Sort      ProcSort
	Direction SortDirection
}

const (
	DefaultInterval = 5 * time.Second
	DefaultCacheTTL = 5 * time.Second
)

type Options struct {
	ProcRoot   string
	PasswdPath string
	GroupPath  string
	Interval   time.Duration
	CacheTTL   time.Duration
	Logger     *log.Logger
}

// MetricsCollector owns the periodically refreshed host snapshot and the
// short lived directory and process I/O caches. All accessors are safe for
// concurrent use and return copies.
type MetricsCollector struct {
	mu       sync.RWMutex
	snapshot Snapshot

	interval time.Duration
	now      func() time.Time
	log      *log.Logger

	collect       func(ctx context.Context) Snapshot
	listDirectory func(path string) DirectoryListing
	readProcessIO func(pid int32) ProcessIoInfo

	// refreshMu serialises cycles so an older collection never replaces a
	// newer one and scans do not share the tracker's pending window.
	refreshMu sync.Mutex

	dirs *ttlCache[string, DirectoryListing]
	ios  *ttlCache[int32, ProcessIoInfo]

	runMu sync.Mutex
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewMetricsCollector(opts Options) *MetricsCollector {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.PasswdPath == "" {
		opts.PasswdPath = "/etc/passwd"
	}
	if opts.GroupPath == "" {
		opts.GroupPath = "/etc/group"
	}
	if opts.Logger == nil {
		opts.Logger = log.New("metrics")
	}

	fs := procfs.NewFS(opts.ProcRoot)
	cores, err := cpu.CountsWithContext(context.Background(), true)
	if err != nil || cores < 1 {
		cores = runtime.NumCPU()
	}
	tracker := NewCpuUsageTracker(procfs.ClockTicks(), cores)
	scanner := NewProcessScanner(fs, opts.PasswdPath, tracker, opts.Logger)
	memory := NewMemoryUsageReader(fs)
	mounts := NewFilesystemEnumerator(fs.Root())
	lister := NewDirectoryLister(opts.PasswdPath, opts.GroupPath)
	ioReader := NewProcessIoReader(fs)

	mc := &MetricsCollector{
		snapshot:      emptySnapshot(),
		interval:      opts.Interval,
		now:           time.Now,
		log:           opts.Logger,
		listDirectory: lister.List,
		readProcessIO: ioReader.Read,
	}
	mc.dirs = newTTLCache[string, DirectoryListing](opts.CacheTTL, mc.clock)
	mc.ios = newTTLCache[int32, ProcessIoInfo](opts.CacheTTL, mc.clock)
	mc.collect = func(ctx context.Context) Snapshot {
		at := mc.now()
		procs := scanner.Scan(ctx)
		cpuUsage := readCpuUsage(withProcRoot(ctx, fs.Root()), cpu.TimesWithContext, tracker, at)
		mem := memory.Read()
		fsList := mounts.List(ctx)
		mc.logDegraded("cpu", cpuUsage.Reason)
		mc.logDegraded("memory", mem.Reason)
		mc.logDegraded("filesystem", fsList.Reason)
		return assembleSnapshot(procs, cpuUsage.Value, mem.Value, fsList.Value, at)
	}
	return mc
}

// clock defers to mc.now so tests can swap it after construction.
func (mc *MetricsCollector) clock() time.Time {
	return mc.now()
}

func (mc *MetricsCollector) logDegraded(source string, reason Reason) {
	if reason != ReasonOK {
		mc.log.Debugf("%s defaulted: %s", source, reason)
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Processes:  []ProcessRecord{},
		Cpu:        CpuUsage{IdlePct: 100, Cores: []CoreUsage{}},
		Filesystem: []MountInfo{},
	}
}

func assembleSnapshot(procs []ProcessRecord, cpuUsage CpuUsage, mem MemorySnapshot, mounts []MountInfo, at time.Time) Snapshot {
	threads := 0
	for _, p := range procs {
		threads += p.Threads
	}
	cpuUsage.TotalProcesses = len(procs)
	cpuUsage.TotalThreads = threads
	if cpuUsage.Cores == nil {
		cpuUsage.Cores = []CoreUsage{}
	}
	if mounts == nil {
		mounts = []MountInfo{}
	}
	return Snapshot{
		Processes:  procs,
		Memory:     mem,
		Cpu:        cpuUsage,
		Filesystem: mounts,
		CapturedAt: at,
	}
}

// Refresh runs one collection cycle and swaps the result in. Expired
// secondary cache entries are dropped first. A panic during collection is
// returned as an error and leaves the previous snapshot in place. Concurrent
// calls run one after another.
func (mc *MetricsCollector) Refresh(ctx context.Context) (err error) {
	mc.refreshMu.Lock()
	defer mc.refreshMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	swept := mc.dirs.sweep() + mc.ios.sweep()
	if swept > 0 {
		mc.log.Debugf("swept %d expired cache entries", swept)
	}

	start := time.Now()
	snap := mc.collect(ctx)

	mc.mu.Lock()
	mc.snapshot = snap
	mc.mu.Unlock()

	mc.log.Debugf("refreshed %d processes in %s", len(snap.Processes), time.Since(start))
	return nil
}

// Start launches the background refresh loop. It refreshes immediately and
// then every interval until ctx is done or Stop is called. Calling Start on
// a running collector does nothing.
func (mc *MetricsCollector) Start(ctx context.Context) {
	mc.runMu.Lock()
	defer mc.runMu.Unlock()
	if mc.stop != nil {
		return
	}
	stop := make(chan struct{})
	mc.stop = stop

	mc.wg.Add(1)
	go func() {
		defer mc.wg.Done()
		mc.refreshLogged(ctx)

		ticker := time.NewTicker(mc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mc.refreshLogged(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (mc *MetricsCollector) refreshLogged(ctx context.Context) {
	if err := mc.Refresh(ctx); err != nil && ctx.Err() == nil {
		mc.log.Errorf("refresh failed: %v", err)
	}
}

// Stop ends the background loop and waits for an in-flight cycle to finish.
func (mc *MetricsCollector) Stop() {
	mc.runMu.Lock()
	stop := mc.stop
	mc.stop = nil
	mc.runMu.Unlock()

	if stop != nil {
		close(stop)
	}
	mc.wg.Wait()
}

// Snapshot returns a copy of the whole primary snapshot.
func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.snapshot.Clone()
}

// Processes returns the latest process list shaped by q.
func (mc *MetricsCollector) Processes(q ProcessQuery) []ProcessRecord {
	mc.mu.RLock()
	procs := cloneProcesses(mc.snapshot.Processes)
	mc.mu.RUnlock()

	return ApplyQuery(procs, q)
}

// Process returns the record for pid from the latest snapshot. Cached I/O
// details are attached when a fresh entry exists; none are loaded here.
func (mc *MetricsCollector) Process(pid int32) (ProcessRecord, bool) {
	mc.mu.RLock()
	i, found := slices.BinarySearchFunc(mc.snapshot.Processes, pid, func(p ProcessRecord, pid int32) int {
		return int(p.Pid) - int(pid)
	})
	var rec ProcessRecord
	if found {
		rec = mc.snapshot.Processes[i].Clone()
	}
	mc.mu.RUnlock()
	if !found {
		return ProcessRecord{}, false
	}

	if info, ok := mc.ios.get(pid); ok {
		io := info.Clone()
		rec.IO = &io
	}
	return rec, true
}

func (mc *MetricsCollector) Memory() MemorySnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.snapshot.Memory
}

func (mc *MetricsCollector) Cpu() CpuUsage {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.snapshot.Cpu.Clone()
}

func (mc *MetricsCollector) Filesystem() []MountInfo {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return slices.Clone(mc.snapshot.Filesystem)
}

// Directory returns the listing of path, reading the filesystem only when
// no fresh listing is cached.
func (mc *MetricsCollector) Directory(path string) DirectoryListing {
	key := NormalizePath(path)
	return mc.dirs.getOrLoad(key, func() DirectoryListing {
		return mc.listDirectory(key)
	}).Clone()
}

// ProcessIO returns I/O counters and open files for pid, reading them only
// when no fresh entry is cached.
func (mc *MetricsCollector) ProcessIO(pid int32) ProcessIoInfo {
	return mc.ios.getOrLoad(pid, func() ProcessIoInfo {
		return mc.readProcessIO(pid)
	}).Clone()
}

// ApplyQuery sorts processes in place and truncates them to q.Limit.
func ApplyQuery(processes []ProcessRecord, q ProcessQuery) []ProcessRecord {
	sortProcesses(processes, q.Sort, q.Direction)
	if q.Limit > 0 && len(processes) > q.Limit {
		processes = processes[:q.Limit]
	}
	return processes
}

func sortProcesses(processes []ProcessRecord, by ProcSort, dir SortDirection) {
	asc := dir != SortDirectionDesc
	sort.SliceStable(processes, func(i, j int) bool {
		a, b := processes[i], processes[j]
		switch by {
		case ProcSortCpu:
			if asc {
				return a.CpuPct < b.CpuPct
			}
			return a.CpuPct > b.CpuPct
		case ProcSortMem:
			if asc {
				return a.MemBytes < b.MemBytes
			}
			return a.MemBytes > b.MemBytes
		case ProcSortPid:
			if asc {
				return a.Pid < b.Pid
			}
			return a.Pid > b.Pid
		case ProcSortName:
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if asc {
				return an < bn
			}
			return an > bn
		}
		return false
	})
}

// StreamMetrics sends the current snapshot immediately and then every
// interval until ctx is done. The channel is closed when streaming stops.
func (mc *MetricsCollector) StreamMetrics(ctx context.Context, interval time.Duration) <-chan Snapshot {
	if interval <= 0 {
		interval = mc.interval
	}
	ch := make(chan Snapshot)
	go func() {
		defer close(ch)

		select {
		case ch <- mc.Snapshot():
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- mc.Snapshot():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}
