package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ids-guard/api/internal/handlers"
	"ids-guard/api/internal/storage"
	"ids-guard/internal/alert"
	"ids-guard/internal/app"
	"ids-guard/internal/utils"
)

func main() {
	var (
		configFile = flag.String("config", "configs/ids_guard.yaml", "Configuration file path (YAML)")
		port       = flag.String("port", "", "API server port (overrides api.port)")
	)
	flag.Parse()

	config, err := utils.LoadGuardConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		config.API.Port = *port
	}

	logger := utils.NewLoggerFromConfig(config.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, config, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	// In-memory event and status hub for the API and the websocket stream
	store := storage.NewStorage(logger)
	a.Dispatcher.RegisterNotifier(store)
	a.Monitor.AddSink(store)
	a.Start(ctx)

	exporter := alert.NewPrometheusExporter(config.GetPrometheusPort(), a.Registry, logger)
	go func() {
		if err := exporter.Start(ctx); err != nil {
			logger.Errorf("Prometheus exporter error: %v", err)
		}
	}()

	if config.Application.AutoStart {
		a.Monitor.Start(ctx)
	}

	h := handlers.NewHandlers(handlers.Deps{
		Blocklist:      a.Blocklist,
		Records:        a.Records,
		Audit:          a.Audit,
		Monitor:        a.Monitor,
		Store:          store,
		Limiter:        handlers.NewRateLimiter(config.API.RateLimit, config.API.RateBurst),
		MonitorContext: ctx,
		AllowedOrigins: config.API.AllowedOrigins,
		Logger:         logger,
	})

	addr := fmt.Sprintf(":%s", config.API.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewRouter(h, config.API.AllowedOrigins),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("API server starting on port %s", config.API.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down API server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("Server failed: %v", err)
	}

	cancel()
	if err := a.Close(); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	}
	logger.Info("API server stopped")
}
