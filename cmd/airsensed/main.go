package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"airsense-backend/config"
	"airsense-backend/internal/api"
	"airsense-backend/internal/db"
	"airsense-backend/internal/jobs"
	"airsense-backend/internal/notification"
	"airsense-backend/internal/qingping"
	"airsense-backend/internal/store"
	"airsense-backend/internal/syncer"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "path", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		slog.Error("VAPID keys must be configured; generate them and add them to the config file")
		os.Exit(1)
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := jobs.NewQueue(gormDB, cfg.Retention.JobPollInterval)
	appStore := store.NewGormStore(gormDB,
		store.WithScheduler(queue),
		store.WithRetentionBatchSize(cfg.Retention.BatchSize),
		store.WithConnectRetryDelay(cfg.Sync.ConnectRetryDelay),
	)

	var alertPool *notification.WorkerPool
	if cfg.Alerts.Enabled {
		alertPool = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
		alertPool.Start(ctx)
	}

	client := qingping.NewClient(&cfg.Sync)
	syncSvc := syncer.NewService(cfg, appStore, client, alertPool)
	syncSvc.RegisterJobHandlers(queue)

	go queue.Run(ctx)
	go syncSvc.Run(ctx)

	router := api.NewRouter(appStore, syncSvc, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	slog.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("server gracefully stopped")
}
