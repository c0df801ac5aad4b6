package procfs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed procfs data")

// ProcStat holds the fields of /proc/<pid>/stat used by the collector.
type ProcStat struct {
	Pid       int32
	Comm      string
	State     byte
	PPid      int32
	UTime     uint64
	STime     uint64
	Priority  int64
	Nice      int64
	Threads   int64
	StartTime uint64
}

// ActiveTicks is user plus system time in clock ticks.
func (s ProcStat) ActiveTicks() uint64 {
	return s.UTime + s.STime
}

// ParseProcStat parses a stat line. The command name is enclosed in
// parentheses and may itself contain spaces and parentheses, so fields are
// counted from the last closing parenthesis.
func ParseProcStat(data []byte) (ProcStat, error) {
	line := string(bytes.TrimSpace(data))
	open := strings.IndexByte(line, '(')
	closing := strings.LastIndexByte(line, ')')
	if open < 0 || closing < open {
		return ProcStat{}, fmt.Errorf("stat: missing comm: %w", ErrMalformed)
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(line[:open]), 10, 32)
	if err != nil {
		return ProcStat{}, fmt.Errorf("stat: pid: %w", ErrMalformed)
	}
	// rest[i] is field i+3 of proc(5).
	rest := strings.Fields(line[closing+1:])
	if len(rest) < 20 || len(rest[0]) == 0 {
		return ProcStat{}, fmt.Errorf("stat: %d fields: %w", len(rest), ErrMalformed)
	}

	s := ProcStat{
		Pid:   int32(pid),
		Comm:  line[open+1 : closing],
		State: rest[0][0],
	}
	var perr error
	parseInt := func(idx int) int64 {
		v, err := strconv.ParseInt(rest[idx], 10, 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("stat: field %d: %w", idx+3, ErrMalformed)
		}
		return v
	}
	parseUint := func(idx int) uint64 {
		v, err := strconv.ParseUint(rest[idx], 10, 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("stat: field %d: %w", idx+3, ErrMalformed)
		}
		return v
	}
	s.PPid = int32(parseInt(1))
	s.UTime = parseUint(11)
	s.STime = parseUint(12)
	s.Priority = parseInt(15)
	s.Nice = parseInt(16)
	s.Threads = parseInt(17)
	s.StartTime = parseUint(19)
	if perr != nil {
		return ProcStat{}, perr
	}
	return s, nil
}

// Status holds /proc/<pid>/status. Memory figures are in bytes.
type Status struct {
	Name    string
	State   byte
	PPid    int32
	Uid     uint32
	HasUid  bool
	Threads int64

	VmPeak  uint64
	VmSize  uint64
	VmHWM   uint64
	VmRSS   uint64
	VmData  uint64
	VmStk   uint64
	VmExe   uint64
	VmLib   uint64
	VmPTE   uint64
	VmSwap  uint64
	RssFile uint64
	RssShm  uint64
}

// ParseStatus parses the key:value status format. Unknown keys are ignored
// and unparsable values are left at zero.
func ParseStatus(data []byte) Status {
	var st Status
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			st.Name = value
		case "State":
			if value != "" {
				st.State = value[0]
			}
		case "PPid":
			if v, err := strconv.ParseInt(value, 10, 32); err == nil {
				st.PPid = int32(v)
			}
		case "Uid":
			// real, effective, saved, filesystem
			if f := strings.Fields(value); len(f) > 0 {
				if v, err := strconv.ParseUint(f[0], 10, 32); err == nil {
					st.Uid = uint32(v)
					st.HasUid = true
				}
			}
		case "Threads":
			st.Threads, _ = strconv.ParseInt(value, 10, 64)
		case "VmPeak":
			st.VmPeak = parseKB(value)
		case "VmSize":
			st.VmSize = parseKB(value)
		case "VmHWM":
			st.VmHWM = parseKB(value)
		case "VmRSS":
			st.VmRSS = parseKB(value)
		case "VmData":
			st.VmData = parseKB(value)
		case "VmStk":
			st.VmStk = parseKB(value)
		case "VmExe":
			st.VmExe = parseKB(value)
		case "VmLib":
			st.VmLib = parseKB(value)
		case "VmPTE":
			st.VmPTE = parseKB(value)
		case "VmSwap":
			st.VmSwap = parseKB(value)
		case "RssFile":
			st.RssFile = parseKB(value)
		case "RssShmem":
			st.RssShm = parseKB(value)
		}
	}
	return st
}

// parseKB converts "1234 kB" into bytes.
func parseKB(value string) uint64 {
	f := strings.Fields(value)
	if len(f) == 0 {
		return 0
	}
	v, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return 0
	}
	if len(f) > 1 && strings.EqualFold(f[1], "kB") {
		v *= 1024
	}
	return v
}

// Statm holds /proc/<pid>/statm, in pages.
type Statm struct {
	Size     uint64
	Resident uint64
	Shared   uint64
	Text     uint64
	Data     uint64
}

func ParseStatm(data []byte) (Statm, error) {
	f := strings.Fields(string(data))
	if len(f) < 2 {
		return Statm{}, fmt.Errorf("statm: %d fields: %w", len(f), ErrMalformed)
	}
	vals := make([]uint64, 7)
	for i := 0; i < len(f) && i < len(vals); i++ {
		v, err := strconv.ParseUint(f[i], 10, 64)
		if err != nil {
			return Statm{}, fmt.Errorf("statm: field %d: %w", i, ErrMalformed)
		}
		vals[i] = v
	}
	return Statm{Size: vals[0], Resident: vals[1], Shared: vals[2], Text: vals[3], Data: vals[5]}, nil
}

// ParseCmdline joins the NUL separated argument vector with spaces.
func ParseCmdline(data []byte) string {
	data = bytes.TrimRight(data, "\x00")
	return strings.TrimSpace(string(bytes.ReplaceAll(data, []byte{0}, []byte{' '})))
}

// ParseKeyValues parses "key: value" lines with an optional unit suffix, as
// used by /proc/<pid>/io and /proc/meminfo. Units are not applied.
func ParseKeyValues(data []byte) map[string]uint64 {
	out := make(map[string]uint64)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		f := strings.Fields(value)
		if len(f) == 0 {
			continue
		}
		v, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil {
			continue
		}
		out[strings.TrimSpace(key)] = v
	}
	return out
}
