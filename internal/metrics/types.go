package metrics

import (
	"slices"
	"time"
)

type ProcessState string

const (
	StateRunning     ProcessState = "running"
	StateSleeping    ProcessState = "sleeping"
	StateDiskSleep   ProcessState = "disk-sleep"
	StateZombie      ProcessState = "zombie"
	StateStopped     ProcessState = "stopped"
	StateTracingStop ProcessState = "tracing-stop"
	StateDead        ProcessState = "dead"
	StateWakeKill    ProcessState = "wakekill"
	StateWaking      ProcessState = "waking"
	StateParked      ProcessState = "parked"
	StateIdle        ProcessState = "idle"
	StateUnknown     ProcessState = "unknown"
)

// StateFromCode maps the single letter state code used by stat and status.
func StateFromCode(c byte) ProcessState {
	switch c {
	case 'R':
		return StateRunning
	case 'S':
		return StateSleeping
	case 'D':
		return StateDiskSleep
	case 'Z':
		return StateZombie
	case 'T':
		return StateStopped
	case 't':
		return StateTracingStop
	case 'X', 'x':
		return StateDead
	case 'K':
		return StateWakeKill
	case 'W':
		return StateWaking
	case 'P':
		return StateParked
	case 'I':
		return StateIdle
	}
	return StateUnknown
}

type ThreadInfo struct {
	Tid   int32        `json:"tid"`
	Name  string       `json:"name"`
	State ProcessState `json:"state"`
}

// MemoryDetails is the per-process memory breakdown in bytes.
type MemoryDetails struct {
	Virtual   uint64 `json:"virtual"`
	Resident  uint64 `json:"resident"`
	Peak      uint64 `json:"peak"`
	Heap      uint64 `json:"heap"`
	Stack     uint64 `json:"stack"`
	Code      uint64 `json:"code"`
	Shared    uint64 `json:"shared"`
	Swap      uint64 `json:"swap"`
	PageTable uint64 `json:"page_table"`
}

// ProcessRecord describes one process as seen by a single scan.
type ProcessRecord struct {
	Pid         int32          `json:"pid"`
	Name        string         `json:"name"`
	Uid         uint32         `json:"uid"`
	User        string         `json:"user_name"`
	Threads     int            `json:"threads"`
	ThreadList  []ThreadInfo   `json:"threads_detailed_info"`
	State       ProcessState   `json:"status"`
	PPid        int32          `json:"ppid"`
	Priority    int64          `json:"priority"`
	Nice        int64          `json:"nice"`
	CpuPct      float64        `json:"cpu_percent"`
	MemBytes    uint64         `json:"memory_rss_bytes"`
	Memory      MemoryDetails  `json:"memory_details"`
	CreateTime  string         `json:"create_time_iso,omitempty"`
	ExePath     *string        `json:"executable_path"`
	CommandLine string         `json:"command_line"`
	IO          *ProcessIoInfo `json:"io,omitempty"`
}

// Clone returns a copy that shares no memory with r.
func (r ProcessRecord) Clone() ProcessRecord {
	out := r
	out.ThreadList = slices.Clone(r.ThreadList)
	if r.ExePath != nil {
		exe := *r.ExePath
		out.ExePath = &exe
	}
	if r.IO != nil {
		io := r.IO.Clone()
		out.IO = &io
	}
	return out
}

// CpuTicks is one cumulative idle/total sample in seconds of CPU time.
type CpuTicks struct {
	Total float64   `json:"total_seconds"`
	Idle  float64   `json:"idle_seconds"`
	At    time.Time `json:"timestamp"`
}

// CpuSnapshot is the raw sample a CpuUsageTracker keeps between cycles.
type CpuSnapshot struct {
	Overall CpuTicks            `json:"overall"`
	Cores   map[string]CpuTicks `json:"cores"`
}

// ProcessCpuSnapshot is the per-process sample kept between cycles.
type ProcessCpuSnapshot struct {
	ActiveTicks uint64    `json:"active_ticks"`
	At          time.Time `json:"timestamp"`
}

type CoreUsage struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	UsagePct float64 `json:"usage_percent"`
}

type CpuUsage struct {
	UsagePct       float64     `json:"overall_usage_percent"`
	IdlePct        float64     `json:"overall_idle_percent"`
	NumCores       int         `json:"number_of_cores"`
	Cores          []CoreUsage `json:"cores"`
	TotalProcesses int         `json:"total_processes"`
	TotalThreads   int         `json:"total_threads"`
}

func (c CpuUsage) Clone() CpuUsage {
	out := c
	out.Cores = slices.Clone(c.Cores)
	return out
}

// MemUsage figures are in bytes.
type MemUsage struct {
	Total     uint64  `json:"total"`
	Used      uint64  `json:"used"`
	Free      uint64  `json:"free"`
	Available uint64  `json:"available"`
	UsagePct  float64 `json:"usage_percent"`
}

type MemorySnapshot struct {
	Ram  MemUsage `json:"ram"`
	Swap MemUsage `json:"swap"`
}

type MountInfo struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	FSType     string  `json:"type"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	UsagePct   float64 `json:"usage_percent"`
}

type DirectoryEntry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDir       bool      `json:"is_dir"`
	Size        int64     `json:"size"`
	SizeHuman   string    `json:"size_human"`
	ModTime     time.Time `json:"modified"`
	Permissions string    `json:"permissions"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group"`
}

type DirectoryListing struct {
	Path    string           `json:"path"`
	Entries []DirectoryEntry `json:"entries"`
	Reason  Reason           `json:"reason,omitempty"`
}

func (d DirectoryListing) Clone() DirectoryListing {
	out := d
	out.Entries = slices.Clone(d.Entries)
	return out
}

type IoCounters struct {
	Rchar               uint64 `json:"rchar"`
	Wchar               uint64 `json:"wchar"`
	Syscr               uint64 `json:"syscr"`
	Syscw               uint64 `json:"syscw"`
	ReadBytes           uint64 `json:"read_bytes"`
	WriteBytes          uint64 `json:"write_bytes"`
	CancelledWriteBytes uint64 `json:"cancelled_write_bytes"`
}

type FileType string

const (
	FileTypeDirectory  FileType = "directory"
	FileTypeRegular    FileType = "file"
	FileTypeSymlink    FileType = "symlink"
	FileTypeMountPoint FileType = "mount point"
	FileTypeSpecial    FileType = "special"
	FileTypeUnknown    FileType = "unknown"
)

type OpenFile struct {
	FD     int      `json:"fd"`
	Target string   `json:"path"`
	Type   FileType `json:"type"`
}

type ProcessIoInfo struct {
	Pid       int32       `json:"pid"`
	Stats     *IoCounters `json:"io_stats"`
	OpenFiles []OpenFile  `json:"open_files"`
}

// Empty reports whether neither counters nor descriptors could be read.
func (p ProcessIoInfo) Empty() bool {
	return p.Stats == nil && len(p.OpenFiles) == 0
}

func (p ProcessIoInfo) Clone() ProcessIoInfo {
	out := p
	if p.Stats != nil {
		stats := *p.Stats
		out.Stats = &stats
	}
	out.OpenFiles = slices.Clone(p.OpenFiles)
	return out
}

// Snapshot is the primary cache content, replaced wholesale every cycle.
type Snapshot struct {
	Processes  []ProcessRecord `json:"processes"`
	Memory     MemorySnapshot  `json:"memory"`
	Cpu        CpuUsage        `json:"cpu"`
	Filesystem []MountInfo     `json:"filesystem"`
	CapturedAt time.Time       `json:"captured_at"`
}

func (s Snapshot) Clone() Snapshot {
	out := s
	out.Processes = cloneProcesses(s.Processes)
	out.Cpu = s.Cpu.Clone()
	out.Filesystem = slices.Clone(s.Filesystem)
	return out
}

func cloneProcesses(in []ProcessRecord) []ProcessRecord {
	if in == nil {
		return nil
	}
	out := make([]ProcessRecord, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
