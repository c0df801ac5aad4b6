package metrics

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

// ProcessIoReader reads a process's I/O counters and open descriptors.
type ProcessIoReader struct {
	fs procfs.FS
}

func NewProcessIoReader(fs procfs.FS) ProcessIoReader {
	return ProcessIoReader{fs: fs}
}

// Read never fails. A process that is gone or not ours to inspect produces
// an info with no counters and no open files.
func (r ProcessIoReader) Read(pid int32) ProcessIoInfo {
	info := ProcessIoInfo{Pid: pid, OpenFiles: []OpenFile{}}

	counters := read(func() ([]byte, error) { return r.fs.ReadPidFile(pid, "io") }, func(b []byte) (IoCounters, error) {
		kv := procfs.ParseKeyValues(b)
		if len(kv) == 0 {
			return IoCounters{}, procfs.ErrMalformed
		}
		return IoCounters{
			Rchar:               kv["rchar"],
			Wchar:               kv["wchar"],
			Syscr:               kv["syscr"],
			Syscw:               kv["syscw"],
			ReadBytes:           kv["read_bytes"],
			WriteBytes:          kv["write_bytes"],
			CancelledWriteBytes: kv["cancelled_write_bytes"],
		}, nil
	})
	if counters.OK() {
		info.Stats = &counters.Value
	}

	fdDir := r.fs.PidPath(pid, "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return info
	}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		f := OpenFile{FD: fd, Type: FileTypeUnknown}
		if target, err := os.Readlink(filepath.Join(fdDir, e.Name())); err == nil {
			f.Target = target
			f.Type = classifyTarget(target)
		}
		info.OpenFiles = append(info.OpenFiles, f)
	}
	sort.Slice(info.OpenFiles, func(i, j int) bool { return info.OpenFiles[i].FD < info.OpenFiles[j].FD })
	return info
}

// classifyTarget inspects what a descriptor link points at. Pseudo targets
// such as "socket:[123]" or "anon_inode:[eventfd]" are not paths.
func classifyTarget(target string) FileType {
	if !filepath.IsAbs(target) {
		return FileTypeSpecial
	}
	st, err := os.Lstat(target)
	if err != nil {
		return FileTypeUnknown
	}
	mode := st.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return FileTypeSymlink
	case mode.IsDir():
		mount, err := isMountPoint(target)
		if err != nil {
			return FileTypeUnknown
		}
		if mount {
			return FileTypeMountPoint
		}
		return FileTypeDirectory
	case mode.IsRegular():
		return FileTypeRegular
	}
	return FileTypeSpecial
}
