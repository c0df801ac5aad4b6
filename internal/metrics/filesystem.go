package metrics

import (
	"context"

	"github.com/shirou/gopsutil/v4/disk"
)

// virtualFSTypes never back real storage and are left out of listings.
var virtualFSTypes = map[string]struct{}{
	"proc":     {},
	"sysfs":    {},
	"devpts":   {},
	"tmpfs":    {},
	"devtmpfs": {},
	"cgroup":   {},
	"cgroup2":  {},
}

// FilesystemEnumerator lists mounted filesystems with their capacity.
type FilesystemEnumerator struct {
	procRoot   string
	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func NewFilesystemEnumerator(procRoot string) FilesystemEnumerator {
	return FilesystemEnumerator{
		procRoot:   procRoot,
		partitions: disk.PartitionsWithContext,
		usage:      disk.UsageWithContext,
	}
}

// List returns one entry per distinct mountpoint. Mounts whose capacity
// cannot be queried are skipped; an unreadable mount table yields nothing.
func (e FilesystemEnumerator) List(ctx context.Context) Result[[]MountInfo] {
	ctx = withProcRoot(ctx, e.procRoot)
	parts, err := e.partitions(ctx, true)
	if err != nil {
		return Result[[]MountInfo]{Value: []MountInfo{}, Reason: hostReason(classify(err))}
	}
	if len(parts) == 0 {
		return Result[[]MountInfo]{Value: []MountInfo{}, Reason: ReasonUnavailable}
	}

	out := make([]MountInfo, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if _, skip := virtualFSTypes[p.Fstype]; skip {
			continue
		}
		if _, dup := seen[p.Mountpoint]; dup {
			continue
		}
		u, err := e.usage(ctx, p.Mountpoint)
		if err != nil || u == nil {
			continue
		}
		seen[p.Mountpoint] = struct{}{}
		out = append(out, MountInfo{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			FSType:     p.Fstype,
			Total:      u.Total,
			Used:       u.Used,
			Free:       u.Free,
			UsagePct:   u.UsedPercent,
		})
	}
	return resultOf(out)
}
