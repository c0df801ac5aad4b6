package procfs

import (
	"os"

	"github.com/tklauser/go-sysconf"
)

const defaultClockTicks = 100

// ClockTicks returns the kernel's clock ticks per second (USER_HZ).
func ClockTicks() int64 {
	if v, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && v > 0 {
		return v
	}
	return defaultClockTicks
}

// PageSize returns the memory page size in bytes.
func PageSize() uint64 {
	if v, err := sysconf.Sysconf(sysconf.SC_PAGESIZE); err == nil && v > 0 {
		return uint64(v)
	}
	return uint64(os.Getpagesize())
}
