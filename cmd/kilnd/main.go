package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kiln/internal/cloud"
	"kiln/internal/comfy"
	"kiln/internal/config"
	"kiln/internal/daemon"
	"kiln/internal/logging"
	"kiln/internal/pods"
	"kiln/internal/requests"
	"kiln/internal/scheduler"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, cfgPath, err := config.Load(os.Getenv("KILN_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		LogDir: cfg.Paths.LogDir,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logger.Info("configuration loaded", logging.String("path", cfgPath))

	store, err := requests.Open(cfg.Paths.DataDir)
	if err != nil {
		logger.Error("open request store", logging.Error(err))
		os.Exit(1)
	}

	cloudTimeout := time.Duration(cfg.Cloud.RequestTimeout) * time.Second
	backendTimeout := time.Duration(cfg.Backend.RequestTimeout) * time.Second

	cloudClient := cloud.NewHTTPClient(cfg.Cloud.BaseURL, cfg.Cloud.APIKey, cloudTimeout, nil)
	podManager := pods.NewManager(cfg, cloudClient, logger,
		pods.WithBackendCheck(func(ctx context.Context, baseURL string) error {
			_, err := comfy.NewClient(baseURL, backendTimeout, nil).HealthCheck(ctx)
			return err
		}),
	)

	sched := scheduler.New(cfg, store, podManager, func(address string) scheduler.Backend {
		return comfy.NewClient(address, backendTimeout, nil)
	}, logger)

	d, err := daemon.New(cfg, store, sched, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = store.Close()
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		d.Close()
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("kilnd shutting down")
}
