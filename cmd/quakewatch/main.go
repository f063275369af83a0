package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/usgs"
	wsadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/websocket"
	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/fanout"
	"github.com/couchcryptid/quake-alert-service/internal/feed"
	"github.com/couchcryptid/quake-alert-service/internal/monitor"
	"github.com/couchcryptid/quake-alert-service/internal/notify"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/settings"
	"github.com/couchcryptid/quake-alert-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	regions, err := settings.LoadRegions(cfg.RegionsFile)
	if err != nil {
		logger.Error("failed to load regions", "error", err)
		os.Exit(1)
	}
	subscribers, err := settings.NewProvider(cfg.SubscribersFile, logger)
	if err != nil {
		logger.Error("failed to load subscribers", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, err := storage.New(cfg)
	if err != nil {
		logger.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	if snapshots != nil {
		if err := snapshots.Init(ctx); err != nil {
			logger.Error("failed to init snapshot store", "error", err)
			os.Exit(1)
		}
		logger.Info("working set snapshot enabled", "driver", cfg.StorageDriver)
	}

	// Notification delivery (Kafka feature-flagged via KAFKA_ENABLED).
	sinks := notify.MultiSink{notify.NewLogSink(logger)}
	var notifications *kafkaadapter.NotificationWriter
	if cfg.KafkaEnabled {
		notifications = kafkaadapter.NewNotificationWriter(cfg, logger)
		sinks = append(sinks, notifications)
		logger.Info("kafka notification delivery enabled", "topic", cfg.KafkaNotificationTopic, "brokers", cfg.KafkaBrokers)
	}
	dispatcher := notify.NewDispatcher(subscribers, sinks, cfg.DeliveryTimeout, logger, metrics)

	hub := fanout.NewHub()
	engine := monitor.NewEngine(regions, cfg.StatsWindow, cfg.RiskWindow, clock, metrics)

	dialer := wsadapter.NewDialer(wsadapter.Options{
		URL:              cfg.FeedURL,
		HandshakeTimeout: cfg.FeedHandshakeTimeout,
		ReadTimeout:      cfg.FeedReadTimeout,
		PingInterval:     cfg.FeedPingInterval,
	}, logger)
	client := feed.NewClient(dialer, engine.Store, dispatcher, hub, clock, feed.Options{
		BaseDelay:            cfg.FeedBaseDelay,
		MaxDelay:             cfg.FeedMaxDelay,
		MaxReconnectAttempts: cfg.FeedMaxReconnectAttempts,
		HandshakeTimeout:     cfg.FeedHandshakeTimeout,
		MaxFutureSkew:        cfg.MaxFutureSkew,
		Retention:            cfg.RiskWindow,
	}, logger, metrics)

	opts := monitor.Options{
		RiskWindow:          cfg.RiskWindow,
		SweepInterval:       cfg.SweepInterval,
		CatalogMinMagnitude: cfg.CatalogMinMagnitude,
	}
	if cfg.CatalogRadiusKm > 0 {
		opts.CatalogCenter = &domain.Geo{Lat: cfg.CatalogCenterLat, Lng: cfg.CatalogCenterLng}
		opts.CatalogRadiusKm = cfg.CatalogRadiusKm
	}
	catalog := usgs.NewClient(cfg.CatalogURL, cfg.CatalogTimeout, logger)
	mon := monitor.New(engine, catalog, snapshots, client, hub, clock, opts, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:   mon,
		Stats:   engine.Window,
		Risk:    engine.Scorer,
		Events:  engine.Store,
		Feed:    client,
		Updates: hub,
		Metrics: metrics,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Seed before going live so the first feed events land on a full window.
	if err := mon.Seed(ctx); err != nil {
		logger.Warn("seed incomplete", "error", err)
	}

	if err := client.Connect(ctx); err != nil {
		logger.Error("feed connect failed", "error", err)
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if err := mon.Run(ctx); err != nil {
			logger.Error("monitor error", "error", err)
		}
	}()

	// SIGHUP reloads subscriber settings.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-hup:
			if err := subscribers.Reload(); err != nil {
				logger.Error("subscriber reload failed", "error", err)
			}
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	client.Disconnect()
	<-monitorDone

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if notifications != nil {
		if err := notifications.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if snapshots != nil {
		if err := snapshots.Close(); err != nil {
			logger.Error("snapshot store close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
