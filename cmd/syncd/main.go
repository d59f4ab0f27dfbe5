package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"picpic.sync/internal/adapters/api"
	"picpic.sync/internal/adapters/bridge/mqtt"
	"picpic.sync/internal/adapters/bridge/redismirror"
	http_handler "picpic.sync/internal/adapters/handler/http"
	"picpic.sync/internal/adapters/realtime"
	"picpic.sync/internal/config"
	"picpic.sync/internal/core/events"
	"picpic.sync/internal/core/logger"
	"picpic.sync/internal/core/ports"
	"picpic.sync/internal/core/services"
	"picpic.sync/internal/core/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	logger.Info("starting picpic sync client", "version", "0.1.0")

	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core state.
	bus := events.NewDispatcher()
	store := services.NewJobStore()
	notifications := services.NewNotificationCenter()
	notifications.Attach(bus)

	prefs := services.NewPrefStore(cfg.WorkDir)
	if err := prefs.Load(); err != nil {
		logger.Warn("preferences not loaded, using defaults", "error", err)
	}

	// Companion endpoint and health monitor.
	apiClient := api.NewClient(cfg.ServerURL)
	healthSvc := services.NewHealthService(apiClient, cfg)

	// Push channel.
	conn := realtime.NewManager(realtime.Options{
		URL:                   cfg.PushURL,
		HeartbeatInterval:     cfg.HeartbeatInterval(),
		ReconnectBaseInterval: cfg.ReconnectBase(),
		MaxReconnectAttempts:  cfg.MaxReconnectAttempts,
		HealthGate:            healthSvc.Healthy,
	}, bus)

	registry := realtime.NewRegistry(conn)
	registry.Attach(bus)

	// Live updates flow into the cache through the single merge path.
	bus.On(events.KindJobUpdate, func(payload any) {
		update, ok := payload.(events.JobUpdate)
		if !ok {
			return
		}
		if !store.ApplyLiveUpdate(update.JobID, update.Patch()) {
			logger.Debug("live update for unknown job dropped", "job_id", update.JobID)
		}
	})

	http_handler.ObserveBus(bus, store)

	// Optional event mirrors.
	var mirrors []ports.EventMirror
	if cfg.RedisURL != "" {
		mirror, err := redismirror.New(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to init redis mirror", "error", err)
		} else {
			mirrors = append(mirrors, mirror)
			logger.Info("redis mirror started", "url", cfg.RedisURL)
		}
	}
	if cfg.MQTTBroker != "" {
		publisher, err := mqtt.NewPublisher(cfg.MQTTBroker)
		if err != nil {
			logger.Error("failed to init MQTT publisher", "error", err)
		} else {
			mirrors = append(mirrors, publisher)
			logger.Info("MQTT publisher started", "broker", cfg.MQTTBroker)
		}
	}
	for _, mirror := range mirrors {
		mirror.Attach(bus)
		defer mirror.Close()
	}

	// Health monitor runs on its own timer, independent of the push channel.
	go healthSvc.Monitor(ctx, services.DefaultMonitorInterval, func(report *services.HealthReport) {
		http_handler.RecordHealthReport(report)
		if !report.Healthy() {
			logger.Warn("health check cycle failed", "score", report.Score)
		}
	})

	// Follow the active workspace from the persisted preferences.
	if ws := prefs.Get().ActiveWorkspaceID; ws != "" {
		registry.Subscribe("workspace", ws)
	}

	conn.Connect(ctx)

	statusServer := http_handler.NewServer(conn, registry, store, healthSvc, notifications)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.StatusPort)
		logger.Info("status server starting", "addr", addr)
		if err := statusServer.Start(addr); err != nil {
			logger.Error("status server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	cancel()
	conn.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
}
