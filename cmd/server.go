package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/hostscope/internal/api"
	"github.com/jeffypooo/hostscope/internal/config"
	"github.com/jeffypooo/hostscope/internal/metrics"
)

func main() {
	configPath := flag.String("config", "hostscope.yaml", "path to the YAML config file")
	listen := flag.String("listen", "", "listen address, overrides the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(cfg.Level())

	logger := log.New("metrics")
	logger.SetLevel(cfg.Level())
	mc := metrics.NewMetricsCollector(metrics.Options{
		ProcRoot:   cfg.ProcRoot,
		PasswdPath: cfg.PasswdPath,
		GroupPath:  cfg.GroupPath,
		Interval:   cfg.Interval(),
		CacheTTL:   cfg.TTL(),
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc.Start(ctx)
	defer mc.Stop()

	api.Register(e, mc, api.Options{
		CORSOrigins:    cfg.CORSOrigins,
		RateLimit:      cfg.RateLimit,
		StreamInterval: cfg.Interval(),
	})

	go func() {
		if err := e.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal(err)
		}
	}()

	<-ctx.Done()
	e.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Error(err)
	}
}
