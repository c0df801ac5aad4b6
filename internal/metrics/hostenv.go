package metrics

import (
	"context"

	"github.com/shirou/gopsutil/v4/common"
)

// withProcRoot points gopsutil readers at root instead of /proc.
func withProcRoot(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostProcEnvKey: root})
}
