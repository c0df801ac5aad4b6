package metrics

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

// HumanBytes formats a size with 1024-based units.
func HumanBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
		tb = gb * 1024
	)
	v := float64(n)
	switch {
	case n >= tb:
		return fmt.Sprintf("%.1f TB", v/tb)
	case n >= gb:
		return fmt.Sprintf("%.1f GB", v/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", v/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", v/kb)
	case n > 0:
		return fmt.Sprintf("%d B", n)
	default:
		return "0 B"
	}
}

// idNames resolves numeric user or group ids from a passwd/group style
// file, falling back to the decimal id.
type idNames map[uint32]string

func loadIDNames(path string) idNames {
	data, err := os.ReadFile(path)
	if err != nil {
		return idNames{}
	}
	return idNames(procfs.ParseIDNames(data))
}

func (n idNames) name(id uint32) string {
	if name, ok := n[id]; ok {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}
