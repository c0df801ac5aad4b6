package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const initStatus = `Name:	init
State:	S (sleeping)
PPid:	0
Uid:	0	0	0	0
Threads:	1
VmPeak:	   12000 kB
VmSize:	   10000 kB
VmRSS:	    2000 kB
RssFile:	     500 kB
RssShmem:	      12 kB
VmData:	     800 kB
VmStk:	     132 kB
VmExe:	     300 kB
VmPTE:	      40 kB
VmSwap:	       0 kB
`

func statLine(pid int, comm string, utime, stime, start int) string {
	return fmt.Sprintf("%d (%s) S 0 1 1 0 -1 4194560 0 0 0 0 %d %d 0 0 20 0 1 0 %d 10240000 500\n", pid, comm, utime, stime, start)
}

// newProcTree builds a small proc root: pid 1 is a normal process, pid 2 a
// kernel thread, pid 3 vanished before its stat was read, and pid 4 has a
// corrupt stat line.
func newProcTree(t *testing.T) (root, passwd string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "proc")

	writeFile(t, filepath.Join(root, "uptime"), "1000.00 3900.50\n")

	writeFile(t, filepath.Join(root, "1", "status"), initStatus)
	writeFile(t, filepath.Join(root, "1", "stat"), statLine(1, "init", 100, 50, 500))
	writeFile(t, filepath.Join(root, "1", "statm"), "2500 500 125 75 0 200 0\n")
	writeFile(t, filepath.Join(root, "1", "cmdline"), "/sbin/init\x00splash\x00")
	writeFile(t, filepath.Join(root, "1", "task", "1", "status"), "Name:\tinit\nState:\tS (sleeping)\n")
	if err := os.Symlink("/sbin/init", filepath.Join(root, "1", "exe")); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(root, "2", "status"), "Name:\tkthreadd\nState:\tI (idle)\nPPid:\t0\nUid:\t0\t0\t0\t0\nThreads:\t1\n")
	writeFile(t, filepath.Join(root, "2", "stat"), statLine(2, "kthreadd", 0, 3, 2))
	writeFile(t, filepath.Join(root, "2", "statm"), "100 20 5 0 0 0 0\n")
	writeFile(t, filepath.Join(root, "2", "cmdline"), "")

	writeFile(t, filepath.Join(root, "3", "status"), "Name:\tgone\nState:\tR (running)\n")

	writeFile(t, filepath.Join(root, "4", "status"), "Name:\tbroken\nState:\tR (running)\n")
	writeFile(t, filepath.Join(root, "4", "stat"), "4 (broken) R 1\n")
	writeFile(t, filepath.Join(root, "4", "statm"), "1 1 1 1 1 1 1\n")

	if err := os.MkdirAll(filepath.Join(root, "sys"), 0o755); err != nil {
		t.Fatal(err)
	}

	passwd = filepath.Join(dir, "passwd")
	writeFile(t, passwd, "root:x:0:0:root:/root:/bin/bash\n")
	return root, passwd
}

func newTestScanner(root, passwd string, now time.Time) (*ProcessScanner, *CpuUsageTracker) {
	tracker := NewCpuUsageTracker(100, 4)
	s := NewProcessScanner(procfs.NewFS(root), passwd, tracker, nil)
	s.clockTicks = 100
	s.pageSize = 4096
	s.now = func() time.Time { return now }
	return s, tracker
}

func TestScanSkipsUnreadableProcesses(t *testing.T) {
	root, passwd := newProcTree(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestScanner(root, passwd, now)

	recs := s.Scan(context.Background())
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(recs), recs)
	}
	if recs[0].Pid != 1 || recs[1].Pid != 2 {
		t.Fatalf("unexpected pids %d, %d", recs[0].Pid, recs[1].Pid)
	}
}

func TestScanBuildsRecord(t *testing.T) {
	root, passwd := newProcTree(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestScanner(root, passwd, now)

	p := s.Scan(context.Background())[0]
	if p.Name != "init" || p.User != "root" || p.State != StateSleeping {
		t.Fatalf("unexpected identity: %+v", p)
	}
	if p.Priority != 20 || p.Nice != 0 || p.PPid != 0 || p.Threads != 1 {
		t.Fatalf("unexpected scheduling fields: %+v", p)
	}
	if p.CpuPct != 0 {
		t.Fatalf("first observation cpu = %v, want 0", p.CpuPct)
	}
	if p.MemBytes != 2000*1024 {
		t.Fatalf("rss = %d", p.MemBytes)
	}
	want := MemoryDetails{
		Virtual:   10000 * 1024,
		Resident:  2000 * 1024,
		Peak:      12000 * 1024,
		Heap:      800 * 1024,
		Stack:     132 * 1024,
		Code:      300 * 1024,
		Shared:    512 * 1024,
		PageTable: 40 * 1024,
	}
	if p.Memory != want {
		t.Fatalf("memory = %+v, want %+v", p.Memory, want)
	}
	if p.CommandLine != "/sbin/init splash" {
		t.Fatalf("cmdline = %q", p.CommandLine)
	}
	if p.ExePath == nil || *p.ExePath != "/sbin/init" {
		t.Fatalf("exe = %v", p.ExePath)
	}
	// boot = now - 1000s, started 500 ticks = 5s later
	if p.CreateTime != "2025-12-31T23:43:25Z" {
		t.Fatalf("create time = %q", p.CreateTime)
	}
	if len(p.ThreadList) != 1 || p.ThreadList[0] != (ThreadInfo{Tid: 1, Name: "init", State: StateSleeping}) {
		t.Fatalf("threads = %+v", p.ThreadList)
	}
}

func TestScanKernelThreadFallbacks(t *testing.T) {
	root, passwd := newProcTree(t)
	s, _ := newTestScanner(root, passwd, time.Now())

	k := s.Scan(context.Background())[1]
	if k.CommandLine != "[kthreadd]" {
		t.Fatalf("cmdline = %q", k.CommandLine)
	}
	if k.MemBytes != 20*4096 || k.Memory.Virtual != 100*4096 || k.Memory.Shared != 5*4096 {
		t.Fatalf("statm fallback not applied: %+v", k.Memory)
	}
	if k.ExePath != nil {
		t.Fatalf("exe = %q, want nil", *k.ExePath)
	}
	if k.State != StateIdle {
		t.Fatalf("state = %q", k.State)
	}
	if len(k.ThreadList) != 0 {
		t.Fatalf("threads = %+v", k.ThreadList)
	}
}

func TestScanCpuPercentAcrossCycles(t *testing.T) {
	root, passwd := newProcTree(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, tracker := newTestScanner(root, passwd, now)
	s.Scan(context.Background())

	// 100 more ticks over 10s at 100 ticks/s is 10%.
	writeFile(t, filepath.Join(root, "1", "stat"), statLine(1, "init", 150, 100, 500))
	if err := os.RemoveAll(filepath.Join(root, "2")); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now.Add(10 * time.Second) }

	recs := s.Scan(context.Background())
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if got := recs[0].CpuPct; got < 9.999 || got > 10.001 {
		t.Fatalf("cpu = %v, want 10", got)
	}
	if _, ok := tracker.ProcessSample(2); ok {
		t.Fatal("vanished pid still has a baseline")
	}
}

func TestScanMissingProcRoot(t *testing.T) {
	s, _ := newTestScanner(filepath.Join(t.TempDir(), "nope"), "", time.Now())
	recs := s.Scan(context.Background())
	if recs == nil || len(recs) != 0 {
		t.Fatalf("got %#v, want empty slice", recs)
	}
}

func TestScanCreateTimeFallsBackToDirMtime(t *testing.T) {
	root, passwd := newProcTree(t)
	s, _ := newTestScanner(root, passwd, time.Now())
	s.bootTime = func(context.Context) (time.Time, bool) { return time.Time{}, false }

	mtime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(root, "1"), mtime, mtime); err != nil {
		t.Fatal(err)
	}
	rec := s.Scan(context.Background())[0]
	got, err := time.Parse(time.RFC3339, rec.CreateTime)
	if err != nil {
		t.Fatalf("create time %q: %v", rec.CreateTime, err)
	}
	if !got.Equal(mtime) {
		t.Fatalf("create time = %v, want %v", got, mtime)
	}
}
