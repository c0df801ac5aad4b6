package web

import (
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"

	"github.com/jeffypooo/hostscope/internal/metrics"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var b strings.Builder
	if err := c.Render(context.Background(), &b); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return b.String()
}

func TestIndexStreamsWithParams(t *testing.T) {
	out := render(t, Index("2s", "15"))
	if !strings.Contains(out, `sse-connect="/api/stream?format=html&amp;interval=2s&amp;limit=15"`) {
		t.Fatalf("stream source missing:\n%s", out)
	}
}

func TestMetricsDisplayEscapes(t *testing.T) {
	s := metrics.Snapshot{
		Processes: []metrics.ProcessRecord{{Pid: 7, Name: "<script>", User: "root", State: metrics.StateRunning, MemBytes: 2048}},
		Memory:    metrics.MemorySnapshot{Ram: metrics.MemUsage{Total: 1024 * 1024, Used: 512 * 1024, UsagePct: 50}},
		Cpu:       metrics.CpuUsage{UsagePct: 12.5, NumCores: 1, Cores: []metrics.CoreUsage{{Name: "Core 0", UsagePct: 12.5}}},
	}
	out := render(t, MetricsDisplay(s))
	if strings.Contains(out, "<script>") {
		t.Fatal("process name was not escaped")
	}
	for _, want := range []string{"&lt;script&gt;", "CPU 12.5%", "2.0 KB", "512.0 KB", "Core 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestMetricsDisplayRows(t *testing.T) {
	s := metrics.Snapshot{
		Memory:     metrics.MemorySnapshot{Swap: metrics.MemUsage{Total: 4096, Used: 1024, UsagePct: 25}},
		Filesystem: []metrics.MountInfo{{Device: "/dev/sdb1", Mountpoint: "/mnt/a&b", FSType: "xfs", Total: 2048, Used: 1024, UsagePct: 50}},
	}
	out := render(t, MetricsDisplay(s))
	for _, want := range []string{
		"<tr><td>Swap</td><td>1.0 KB</td><td>4.0 KB</td><td>25.0</td></tr>",
		"<td>/mnt/a&amp;b</td><td>/dev/sdb1</td><td>xfs</td>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
