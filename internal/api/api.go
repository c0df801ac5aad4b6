// Package api exposes the collector's accessors over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/jeffypooo/hostscope/internal/metrics"
	"github.com/jeffypooo/hostscope/internal/web"
)

// Source is the read side of the metrics collector.
type Source interface {
	Processes(q metrics.ProcessQuery) []metrics.ProcessRecord
	Process(pid int32) (metrics.ProcessRecord, bool)
	Memory() metrics.MemorySnapshot
	Cpu() metrics.CpuUsage
	Filesystem() []metrics.MountInfo
	Directory(path string) metrics.DirectoryListing
	ProcessIO(pid int32) metrics.ProcessIoInfo
	StreamMetrics(ctx context.Context, interval time.Duration) <-chan metrics.Snapshot
}

type Options struct {
	CORSOrigins []string
	// RateLimit is requests per second per client on the endpoints that
	// read the filesystem on demand. Zero disables it.
	RateLimit float64
	// StreamInterval is the default push interval of /api/stream.
	StreamInterval time.Duration
}

type handler struct {
	src  Source
	opts Options
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Register installs middleware and routes on e.
func Register(e *echo.Echo, src Source, opts Options) {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = metrics.DefaultInterval
	}
	h := &handler{src: src, opts: opts}

	e.Validator = &requestValidator{v: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: opts.CORSOrigins}))

	e.GET("/", h.index)

	g := e.Group("/api")
	g.GET("/processes", h.processes)
	g.GET("/process/:pid", h.process)
	g.GET("/memory", h.memory)
	g.GET("/cpu", h.cpu)
	g.GET("/filesystem", h.filesystem)
	g.GET("/stream", h.stream)

	var limited []echo.MiddlewareFunc
	if opts.RateLimit > 0 {
		store := middleware.NewRateLimiterMemoryStore(rate.Limit(opts.RateLimit))
		limited = append(limited, middleware.RateLimiter(store))
	}
	g.GET("/process/:pid/io", h.processIO, limited...)
	g.GET("/filesystem/directory", h.directory, limited...)
}

func (h *handler) index(c echo.Context) error {
	interval := c.QueryParam("interval")
	if interval == "" {
		interval = h.opts.StreamInterval.String()
	}
	limit := c.QueryParam("limit")
	if limit == "" {
		limit = "10"
	}
	return h.render(c, http.StatusOK, web.Index(interval, limit))
}

func (h *handler) render(c echo.Context, status int, t templ.Component) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	resp.WriteHeader(status)
	return t.Render(c.Request().Context(), resp.Writer)
}

type processParams struct {
	Limit int    `query:"limit" validate:"gte=0"`
	Sort  string `query:"sort" validate:"omitempty,oneof=cpu mem pid name"`
	Dir   string `query:"dir" validate:"omitempty,oneof=asc desc"`
}

func (p processParams) query() metrics.ProcessQuery {
	return metrics.ProcessQuery{
		Limit:     p.Limit,
		Sort:      metrics.ProcSort(p.Sort),
		Direction: metrics.SortDirection(p.Dir),
	}
}

func (h *handler) processes(c echo.Context) error {
	var p processParams
	if err := c.Bind(&p); err != nil {
		return err
	}
	if err := c.Validate(&p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.src.Processes(p.query()))
}

func pidParam(c echo.Context) (int32, error) {
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 32)
	if err != nil || pid <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid pid")
	}
	return int32(pid), nil
}

func (h *handler) process(c echo.Context) error {
	pid, err := pidParam(c)
	if err != nil {
		return err
	}
	rec, ok := h.src.Process(pid)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "process not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *handler) processIO(c echo.Context) error {
	pid, err := pidParam(c)
	if err != nil {
		return err
	}
	info := h.src.ProcessIO(pid)
	if info.Empty() {
		return echo.NewHTTPError(http.StatusNotFound, "process not found or not accessible")
	}
	return c.JSON(http.StatusOK, info)
}

func (h *handler) memory(c echo.Context) error {
	return c.JSON(http.StatusOK, h.src.Memory())
}

func (h *handler) cpu(c echo.Context) error {
	return c.JSON(http.StatusOK, h.src.Cpu())
}

func (h *handler) filesystem(c echo.Context) error {
	return c.JSON(http.StatusOK, h.src.Filesystem())
}

func (h *handler) directory(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		path = "/"
	}
	listing := h.src.Directory(path)
	switch listing.Reason {
	case metrics.ReasonVanished:
		return echo.NewHTTPError(http.StatusNotFound, "directory not found")
	case metrics.ReasonPermission:
		return echo.NewHTTPError(http.StatusForbidden, "permission denied")
	}
	return c.JSON(http.StatusOK, listing)
}
