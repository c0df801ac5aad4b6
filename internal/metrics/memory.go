package metrics

import (
	"github.com/jeffypooo/hostscope/internal/procfs"
)

// MemoryUsageReader reads RAM and swap usage from meminfo. It keeps no
// state between calls.
type MemoryUsageReader struct {
	fs procfs.FS
}

func NewMemoryUsageReader(fs procfs.FS) MemoryUsageReader {
	return MemoryUsageReader{fs: fs}
}

// Read returns the current usage, or an all-zero snapshot when meminfo
// cannot be read.
func (r MemoryUsageReader) Read() Result[MemorySnapshot] {
	data, err := r.fs.ReadFile("meminfo")
	if err != nil {
		return Result[MemorySnapshot]{Reason: hostReason(classify(err))}
	}
	counters := procfs.ParseKeyValues(data)
	if _, ok := counters["MemTotal"]; !ok {
		return Result[MemorySnapshot]{Reason: ReasonMalformed}
	}
	return resultOf(MemoryFromCounters(counters))
}

// MemoryFromCounters derives usage from meminfo counters given in kB.
func MemoryFromCounters(kb map[string]uint64) MemorySnapshot {
	total := int64(kb["MemTotal"])
	free := int64(kb["MemFree"])

	var available int64
	if v, ok := kb["MemAvailable"]; ok {
		available = int64(v)
	} else {
		available = free + int64(kb["Buffers"]) + int64(kb["Cached"]) - int64(kb["SReclaimable"])
		if available < 0 {
			available = free
		}
	}
	if available > total {
		available = total
	}
	used := total - available

	swapTotal := int64(kb["SwapTotal"])
	swapFree := int64(kb["SwapFree"])
	if swapFree > swapTotal {
		swapFree = swapTotal
	}
	swapUsed := swapTotal - swapFree

	return MemorySnapshot{
		Ram: MemUsage{
			Total:     kbToBytes(total),
			Used:      kbToBytes(used),
			Free:      kbToBytes(free),
			Available: kbToBytes(available),
			UsagePct:  percentOf(used, total),
		},
		Swap: MemUsage{
			Total:     kbToBytes(swapTotal),
			Used:      kbToBytes(swapUsed),
			Free:      kbToBytes(swapFree),
			Available: kbToBytes(swapFree),
			UsagePct:  percentOf(swapUsed, swapTotal),
		},
	}
}

func kbToBytes(v int64) uint64 {
	if v <= 0 {
		return 0
	}
	return uint64(v) * 1024
}

func percentOf(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
