package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/connectivity-monitor/internal/api"
	"github.com/connectivity-monitor/internal/config"
	"github.com/connectivity-monitor/internal/endpoints"
	"github.com/connectivity-monitor/internal/metrics"
	"github.com/connectivity-monitor/internal/monitor"
	"github.com/connectivity-monitor/internal/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file (JSON or YAML)")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	log.Infof("Starting Connectivity Monitor v%s", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	configureLogging(cfg.Logging)

	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)

	sink, err := storage.NewStorage(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.WithField("type", cfg.Storage.Type).Info("Snapshot export configured")

	svc, err := monitor.New(cfg, endpoints.Default(), sink, metricsCollector)
	if err != nil {
		sink.Close()
		log.Fatalf("Failed to initialize monitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start monitor: %v", err)
	}

	apiServer := api.NewServer(cfg, svc, metricsCollector, prometheus.DefaultGatherer)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Infof("Service started successfully on %s", cfg.API.Addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		log.Errorf("Monitor shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}

func configureLogging(cfg config.LoggingConfig) {
	if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, keeping info", cfg.Level)
	}
}
