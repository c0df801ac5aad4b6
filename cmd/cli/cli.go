package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/hostscope/internal/metrics"
)

// Prints one snapshot as JSON. Two cycles are taken one interval apart so
// CPU percentages have a baseline.
func main() {
	procRoot := flag.String("proc", "/proc", "proc filesystem root")
	interval := flag.Duration("interval", time.Second, "time between the two samples")
	limit := flag.Int("limit", 10, "number of processes to print")
	flag.Parse()

	mc := metrics.NewMetricsCollector(metrics.Options{ProcRoot: *procRoot, Interval: *interval})
	ctx := context.Background()
	if err := mc.Refresh(ctx); err != nil {
		log.Fatalf("Error getting metrics: %v", err)
	}
	time.Sleep(*interval)
	if err := mc.Refresh(ctx); err != nil {
		log.Fatalf("Error getting metrics: %v", err)
	}

	snap := mc.Snapshot()
	snap.Processes = metrics.ApplyQuery(snap.Processes, metrics.ProcessQuery{
		Limit:     *limit,
		Sort:      metrics.ProcSortCpu,
		Direction: metrics.SortDirectionDesc,
	})
	out, err := json.MarshalIndent(snap, "", " ")
	if err != nil {
		log.Fatalf("Error marshalling metrics: %v", err)
	}
	fmt.Println(string(out))
}
