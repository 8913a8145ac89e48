package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetpulse/internal/advisory"
	"fleetpulse/internal/api"
	"fleetpulse/internal/auth"
	"fleetpulse/internal/conditioner"
	"fleetpulse/internal/config"
	"fleetpulse/internal/engine"
	"fleetpulse/internal/fanout"
	"fleetpulse/internal/ingest"
	"fleetpulse/internal/logging"
	"fleetpulse/internal/maintenance"
	"fleetpulse/internal/metrics"
	"fleetpulse/internal/realtime"
	"fleetpulse/internal/storage"
	"fleetpulse/internal/workqueue"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "fleetpulse.yaml", "path to YAML or JSON config")
	flag.Parse()

	mgr, err := loadConfig(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	if err := run(mgr, logger); err != nil {
		logger.Error("fleetpulse stopped", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Manager, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(path)
}

func run(mgr *config.Manager, logger *slog.Logger) error {
	cfg := mgr.Get()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	logger.Info("storage ready", "driver", cfg.Storage.Driver)

	hub := realtime.NewHub(realtime.NewHistory(cfg.Realtime.HistorySize), logger)
	go hub.Run(ctx)

	condPool := workqueue.New("conditioner", cfg.Conditioner.Shards, cfg.Conditioner.QueueSize, logger)
	condPool.Start()
	cond := conditioner.New(store, condPool, logger)

	alerts := engine.NewEngine(cfg.Alerts, store, hub, logger)
	trigger := maintenance.NewTrigger(maintenance.NewStoreScheduler(store), hub, logger)

	var kv advisory.KV = advisory.NewMemoryKV()
	if cfg.Redis.Enabled {
		redisKV, err := advisory.NewRedisKV(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return err
		}
		defer redisKV.Close()
		kv = redisKV
		logger.Info("advisory throttle backed by redis", "addr", cfg.Redis.Addr)
	}
	var generator advisory.Generator
	if cfg.Advisory.Endpoint != "" {
		generator = advisory.NewHTTPGenerator(cfg.Advisory.Endpoint, cfg.Advisory.Timeout)
	}
	throttle := advisory.NewThrottle(kv, generator, mgr, store, hub, cfg.Advisory.DefaultThrottle, logger)

	coordinator := fanout.New(cfg.Fanout, alerts, trigger, throttle, logger)
	coordinator.Start()

	latest := metrics.NewStore(10000)
	service := ingest.NewService(store, cond, coordinator, latest, mgr, logger)
	authenticator := auth.NewAuthenticator(store, mgr, logger, cfg.HTTP.MaxBodyBytes)
	handler := ingest.NewHandler(service, authenticator, cfg.HTTP.MaxBodyBytes, logger)
	ingest.StartKafka(ctx, mgr, service, authenticator, logger)

	onReload := func(next *config.Config) {
		alerts.UpdateConfig(next.Alerts)
		logger.Info("config reloaded", "path", mgr.Path())
	}
	watchStop := make(chan struct{})
	defer close(watchStop)
	go mgr.Watch(3*time.Second, onReload, func(err error) {
		logger.Warn("config watch error", "err", err)
	}, watchStop)

	server := api.NewServer(api.Options{
		Config:   mgr,
		Store:    store,
		Latest:   latest,
		Hub:      hub,
		Queues:   coordinator,
		OnReload: onReload,
		Mounts:   []func(chi.Router){handler.Routes},
		Logger:   logger,
		Version:  version,
	})
	httpServer := server.Start(ctx)
	logger.Info("fleetpulse started", "version", version)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	condPool.Stop(5 * time.Second)
	if !coordinator.Shutdown() {
		logger.Warn("fan-out drain timed out, pending branch work dropped")
	}
	logger.Info("fleetpulse stopped")
	return nil
}
