package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/pulseguard/pulseguard/agent/internal/config"
	"github.com/pulseguard/pulseguard/agent/internal/probe"
	"github.com/pulseguard/pulseguard/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	slog.Info("pulseguard-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"targets", len(cfg.Monitors),
		"ship_interval", cfg.Agent.ShipInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The shipper runs until ctx is cancelled.
	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	runner := &runner{ctx: ctx, ship: ship}
	runner.sync(cfg.Monitors)
	if len(cfg.Monitors) == 0 {
		slog.Warn("no targets configured, agent will idle")
	}
	defer runner.stop()

	// Hot-reload replaces the probe schedule with the new target set.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			runner.sync(updated.Monitors)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pulseguard-agent shutting down", "unshipped", ship.Pending())
}

// runner schedules one cron entry per target and swaps the whole schedule
// on config reload. Probers hold no state beyond an HTTP client, so a
// rebuild is cheap.
type runner struct {
	ctx  context.Context
	ship *shipper.Shipper

	mu    sync.Mutex
	sched *cron.Cron
}

// sync replaces the running schedule with one entry per target.
func (r *runner) sync(targets []config.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sched != nil {
		r.sched.Stop()
	}
	r.sched = cron.New()

	for _, target := range targets {
		p, err := probe.New(target)
		if err != nil {
			slog.Error("skipping target, could not build prober", "target", target.ID, "err", err)
			continue
		}
		target := target
		r.sched.Schedule(cron.Every(target.Interval), cron.FuncJob(func() {
			r.check(target, p)
		}))
		slog.Info("probing target", "id", target.ID, "type", target.Type,
			"url", target.URL, "interval", target.Interval)
	}
	r.sched.Start()
}

func (r *runner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched != nil {
		r.sched.Stop()
	}
}

// check probes one target and hands the result to the shipper.
func (r *runner) check(target config.Target, p probe.Prober) {
	res := p.Probe(r.ctx)
	r.ship.Ship(res)
	if !res.Success {
		slog.Warn("check failed", "target", target.ID,
			"status", res.StatusCode, "err", res.Error)
	} else {
		slog.Debug("check ok", "target", target.ID,
			"latency_ms", res.LatencyMS)
	}
}
