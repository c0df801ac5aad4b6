package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

// ProcessScanner enumerates the process table and builds one ProcessRecord
// per process. A process that exits while it is being read is left out of
// the result; fields that are merely unreadable keep their defaults.
type ProcessScanner struct {
	fs         procfs.FS
	passwdPath string
	tracker    *CpuUsageTracker
	clockTicks float64
	pageSize   uint64
	now        func() time.Time
	bootTime   func(ctx context.Context) (time.Time, bool)
	log        *log.Logger

	anomalies sync.Map
}

func NewProcessScanner(fs procfs.FS, passwdPath string, tracker *CpuUsageTracker, logger *log.Logger) *ProcessScanner {
	if logger == nil {
		logger = log.New("scanner")
	}
	s := &ProcessScanner{
		fs:         fs,
		passwdPath: passwdPath,
		tracker:    tracker,
		clockTicks: float64(procfs.ClockTicks()),
		pageSize:   procfs.PageSize(),
		now:        time.Now,
		log:        logger,
	}
	s.bootTime = s.readBootTime
	return s
}

// Scan returns every readable process ordered by pid. It never fails; a
// missing process table yields an empty slice.
func (s *ProcessScanner) Scan(ctx context.Context) []ProcessRecord {
	defer s.tracker.EndProcessCycle()

	pids, err := s.fs.Pids()
	if err != nil {
		s.noteAnomaly("proc root", hostReason(classify(err)), err)
		return []ProcessRecord{}
	}

	now := s.now()
	users := loadIDNames(s.passwdPath)
	boot, hasBoot := s.bootTime(ctx)

	records := make([]ProcessRecord, 0, len(pids))
	for _, pid := range pids {
		rec, ok := s.scanProcess(pid, users, boot, hasBoot, now)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (s *ProcessScanner) scanProcess(pid int32, users idNames, boot time.Time, hasBoot bool, now time.Time) (ProcessRecord, bool) {
	status := read(s.pidFile(pid, "status"), func(b []byte) (procfs.Status, error) {
		return procfs.ParseStatus(b), nil
	})
	if !status.OK() {
		s.noteAnomaly("status", status.Reason, nil)
		return ProcessRecord{}, false
	}
	stat := read(s.pidFile(pid, "stat"), procfs.ParseProcStat)
	if !stat.OK() {
		s.noteAnomaly("stat", stat.Reason, nil)
		return ProcessRecord{}, false
	}
	statm := read(s.pidFile(pid, "statm"), procfs.ParseStatm)
	if statm.Reason == ReasonVanished {
		return ProcessRecord{}, false
	}

	st, ps, pages := status.Value, stat.Value, statm.Or(procfs.Statm{})

	name := st.Name
	if name == "" {
		name = ps.Comm
	}
	state := st.State
	if state == 0 {
		state = ps.State
	}
	threads := int(st.Threads)
	if threads == 0 {
		threads = int(ps.Threads)
	}

	rec := ProcessRecord{
		Pid:        pid,
		Name:       name,
		Uid:        st.Uid,
		User:       "unknown",
		Threads:    threads,
		ThreadList: s.threads(pid),
		State:      StateFromCode(state),
		PPid:       ps.PPid,
		Priority:   ps.Priority,
		Nice:       ps.Nice,
		CpuPct:     s.tracker.ProcessPercent(pid, ps.ActiveTicks(), now),
		Memory:     s.memoryDetails(st, pages),
		ExePath:    s.exePath(pid),
	}
	if st.HasUid {
		rec.User = users.name(st.Uid)
	}
	rec.MemBytes = rec.Memory.Resident
	rec.CommandLine = s.commandLine(pid, name)
	rec.CreateTime = s.createTime(pid, ps.StartTime, boot, hasBoot)
	return rec, true
}

func (s *ProcessScanner) pidFile(pid int32, name string) func() ([]byte, error) {
	return func() ([]byte, error) { return s.fs.ReadPidFile(pid, name) }
}

func (s *ProcessScanner) memoryDetails(st procfs.Status, pages procfs.Statm) MemoryDetails {
	m := MemoryDetails{
		Virtual:   st.VmSize,
		Resident:  st.VmRSS,
		Peak:      st.VmPeak,
		Heap:      st.VmData,
		Stack:     st.VmStk,
		Code:      st.VmExe,
		Shared:    st.RssFile + st.RssShm,
		Swap:      st.VmSwap,
		PageTable: st.VmPTE,
	}
	// Kernel threads report no Vm* lines; statm still has page counts.
	if m.Resident == 0 {
		m.Resident = pages.Resident * s.pageSize
	}
	if m.Virtual == 0 {
		m.Virtual = pages.Size * s.pageSize
	}
	if m.Shared == 0 {
		m.Shared = pages.Shared * s.pageSize
	}
	return m
}

func (s *ProcessScanner) commandLine(pid int32, name string) string {
	cmd := read(s.pidFile(pid, "cmdline"), func(b []byte) (string, error) {
		return procfs.ParseCmdline(b), nil
	}).Or("")
	if cmd == "" {
		return "[" + name + "]"
	}
	return cmd
}

func (s *ProcessScanner) exePath(pid int32) *string {
	target, err := os.Readlink(s.fs.PidPath(pid, "exe"))
	if err != nil || target == "" {
		return nil
	}
	return &target
}

func (s *ProcessScanner) threads(pid int32) []ThreadInfo {
	tids, err := s.fs.Tids(pid)
	if err != nil {
		return []ThreadInfo{}
	}
	out := make([]ThreadInfo, 0, len(tids))
	for _, tid := range tids {
		data, err := os.ReadFile(s.fs.PidPath(pid, "task", fmt.Sprint(tid), "status"))
		if err != nil {
			continue
		}
		st := procfs.ParseStatus(data)
		out = append(out, ThreadInfo{Tid: tid, Name: st.Name, State: StateFromCode(st.State)})
	}
	return out
}

// createTime places the start tick offset on the wall clock. Without a boot
// time it falls back to the process directory's modification time.
func (s *ProcessScanner) createTime(pid int32, startTicks uint64, boot time.Time, hasBoot bool) string {
	if hasBoot {
		offset := time.Duration(float64(startTicks) / s.clockTicks * float64(time.Second))
		return boot.Add(offset).Format(time.RFC3339)
	}
	info, err := os.Stat(s.fs.PidPath(pid))
	if err != nil {
		return ""
	}
	return info.ModTime().Format(time.RFC3339)
}

// readBootTime derives the boot instant from the uptime counter, falling
// back to the host's recorded boot time.
func (s *ProcessScanner) readBootTime(ctx context.Context) (time.Time, bool) {
	uptime := read(func() ([]byte, error) { return s.fs.ReadFile("uptime") }, procfs.ParseUptime)
	if uptime.OK() {
		return s.now().Add(-time.Duration(uptime.Value * float64(time.Second))), true
	}
	s.noteAnomaly("uptime", uptime.Reason, nil)
	bt, err := host.BootTimeWithContext(withProcRoot(ctx, s.fs.Root()))
	if err != nil || bt == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(bt), 0), true
}

// noteAnomaly logs an unexpected read failure once per source and reason.
// Vanished processes are routine and not logged.
func (s *ProcessScanner) noteAnomaly(source string, reason Reason, err error) {
	if reason == ReasonOK || reason == ReasonVanished {
		return
	}
	if _, seen := s.anomalies.LoadOrStore(source+"/"+string(reason), struct{}{}); seen {
		return
	}
	if err != nil {
		s.log.Debugf("%s unreadable (%s): %v", source, reason, err)
		return
	}
	s.log.Debugf("%s unreadable (%s)", source, reason)
}
