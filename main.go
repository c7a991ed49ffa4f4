package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"

	"doc-sync/app"
	"doc-sync/pkg/config"
)

func main() {
	cfg, cfgErr := config.Load()
	logLevel := "PRODUCTION"
	if cfg != nil {
		logLevel = cfg.LogLevel
	}
	log := logger.New(logLevel)
	defer func(logger *zap.SugaredLogger) {
		_ = logger.Sync()
	}(log)

	if cfgErr != nil {
		log.Fatalw("Invalid configuration", "error", cfgErr)
	}

	server, err := app.NewServer(context.Background(), cfg, log)
	if err != nil {
		log.Fatalw("Failed to start server", "error", err)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infow("Received signal, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("Error during shutdown", "error", err)
	}
	log.Infow("Shutdown complete")
}
