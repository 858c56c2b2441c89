package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/pulseguard/pulseguard/server/internal/alerts"
	"github.com/pulseguard/pulseguard/server/internal/api"
	"github.com/pulseguard/pulseguard/server/internal/auth"
	"github.com/pulseguard/pulseguard/server/internal/config"
	"github.com/pulseguard/pulseguard/server/internal/engine"
	"github.com/pulseguard/pulseguard/server/internal/event"
	"github.com/pulseguard/pulseguard/server/internal/metrics"
	"github.com/pulseguard/pulseguard/server/internal/store"
	"github.com/pulseguard/pulseguard/server/internal/training"
	"github.com/pulseguard/pulseguard/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Secrets (API keys, DSNs, tracker tokens) come from the environment;
	// a local .env is a convenience for development.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	slog.Info("pulseguard-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"listen_addr", cfg.Server.ListenAddr,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Server.Storage.Backend,
		"tracker", cfg.Server.Tracker.Type,
		"monitors", len(cfg.Monitors),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := buildStore(ctx, cfg.Server.Storage)
	if err != nil {
		slog.Error("failed to initialise storage", "err", err)
		os.Exit(1)
	}

	bus := event.NewBus()
	met := metrics.New()

	// Alert manager with the configured issue tracker; tracker deliveries
	// run on their own ticker, decoupled from ingest.
	mgr := alerts.NewManager(st, buildTracker(cfg.Server.Tracker), bus, met, alerts.Options{
		RiskThreshold:   cfg.Server.Alerts.RiskThreshold,
		MaxSyncAttempts: cfg.Server.Alerts.MaxSyncAttempts,
		SyncInterval:    cfg.Server.Alerts.SyncInterval,
	})
	go mgr.Run(ctx)

	eng := engine.New(st, mgr, bus, met, engine.Options{
		ShortWindow:  cfg.Server.SLO.ShortWindow,
		LongWindow:   cfg.Server.SLO.LongWindow,
		WarningMult:  cfg.Server.SLO.WarningBurn,
		CriticalMult: cfg.Server.SLO.CriticalBurn,
	})
	for _, def := range toEngineMonitors(cfg) {
		if err := eng.AddMonitor(ctx, def); err != nil {
			slog.Error("failed to register monitor", "monitor", def.ID, "err", err)
			os.Exit(1)
		}
		slog.Info("registered monitor", "id", def.ID, "url", def.URL)
	}

	// Predictive training: the stat worker samples the engine's check
	// windows, and the orchestrator feeds completed predictions back
	// through the engine's serialized entry point.
	worker := training.NewStatWorker(eng, cfg.Server.SLO.LongWindow, cfg.Server.Training.MinSamples)
	orch := training.NewOrchestrator(worker, st, bus, met, eng, training.Options{
		Interval:      cfg.Server.Training.Interval,
		SafetyTimeout: cfg.Server.Training.SafetyTimeout,
	})
	go orch.Run(ctx)

	// Scheduled work: periodic retraining across all monitors, plus a decay
	// tick so burn-rate levels relax when checks stop arriving.
	sched := cron.New()
	sched.Schedule(cron.Every(orch.Interval()), cron.FuncJob(func() {
		orch.TriggerAll(ctx, eng.MonitorIDs())
	}))
	sched.Schedule(cron.Every(time.Minute), cron.FuncJob(func() {
		eng.RecomputeAll(ctx)
	}))
	sched.Start()
	defer sched.Stop()

	// Watch config file for monitor roster changes.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			added, removed := eng.SyncMonitors(ctx, toEngineMonitors(updated))
			for _, id := range removed {
				orch.Forget(id)
			}
			slog.Info("monitor roster updated", "added", added, "removed", removed)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	hub := ws.New(eng, bus, met)
	go hub.Run(ctx)

	// REST API behind optional API key auth; the stream and scrape
	// endpoints stay open for dashboards and Prometheus.
	authed := auth.Middleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		api.New(eng, orch, mgr, st, cfg.Server.Alerts.MaxSyncAttempts),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", authed)
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", met.Handler())

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pulseguard-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// buildStore selects the persistence backend from config.
func buildStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	if cfg.Backend != "postgres" {
		slog.Info("using in-memory store")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	slog.Info("using postgres store")
	return pg, nil
}

// buildTracker selects the issue tracker integration from config.
func buildTracker(cfg config.TrackerConfig) alerts.IssueTracker {
	if cfg.Type != "github" {
		slog.Info("issue tracker disabled")
		return alerts.NoopTracker{}
	}
	slog.Info("using github issue tracker", "repo", cfg.Repo, "labels", cfg.Labels)
	return alerts.NewGitHub(cfg.Repo, cfg.Token(), cfg.Labels)
}

// toEngineMonitors converts config monitor blocks to engine definitions.
func toEngineMonitors(cfg *config.Config) []engine.Monitor {
	defs := make([]engine.Monitor, 0, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		defs = append(defs, engine.Monitor{
			ID:                m.ID,
			Name:              m.Name,
			URL:               m.URL,
			Interval:          m.Interval,
			DownThreshold:     m.DownThreshold,
			RecoveryThreshold: m.RecoveryThreshold,
			SLOTargetPct:      m.SLOTargetPct,
			Category:          m.Category,
		})
	}
	return defs
}
