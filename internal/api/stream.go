package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jeffypooo/hostscope/internal/metrics"
	"github.com/jeffypooo/hostscope/internal/web"
)

// stream pushes the cached snapshot as server-sent events. With
// format=html each event carries a rendered fragment of the top processes
// by CPU; otherwise it carries the snapshot as JSON.
func (h *handler) stream(c echo.Context) error {
	c.Logger().Infof("SSE request received from %s", c.Request().RemoteAddr)

	interval, err := parseInterval(c.QueryParam("interval"), h.opts.StreamInterval)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid interval: %v", err))
	}
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	html := c.QueryParam("format") == "html"

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	fmt.Fprintf(resp.Writer, "event: connected\ndata: Connected to metrics stream\n\n")
	resp.Flush()

	ctx := c.Request().Context()
	for snap := range h.src.StreamMetrics(ctx, interval) {
		data, err := encodeEvent(c, snap, html, limit)
		if err != nil {
			c.Logger().Errorf("encode metrics event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(resp.Writer, "event: metrics\ndata: %s\n\n", data); err != nil {
			return nil
		}
		resp.Flush()
	}
	c.Logger().Info("Client disconnected")
	return nil
}

func encodeEvent(c echo.Context, snap metrics.Snapshot, html bool, limit int) (string, error) {
	if !html {
		b, err := json.Marshal(snap)
		return string(b), err
	}
	snap.Processes = metrics.ApplyQuery(snap.Processes, metrics.ProcessQuery{
		Limit:     limit,
		Sort:      metrics.ProcSortCpu,
		Direction: metrics.SortDirectionDesc,
	})
	var buf strings.Builder
	if err := web.MetricsDisplay(snap).Render(c.Request().Context(), &buf); err != nil {
		return "", err
	}
	// an SSE data field ends at a newline
	return strings.ReplaceAll(buf.String(), "\n", " "), nil
}

// parseInterval accepts "500ms", "2s", or a bare number of seconds.
func parseInterval(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("%q is not positive", s)
		}
		return d, nil
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%q is not positive", s)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
