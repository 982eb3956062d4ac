// Package main provides the task consumer entry point for the fund analytics engine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fund-analytics/internal/app"
	"github.com/fund-analytics/internal/config"
	"github.com/fund-analytics/internal/task"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.InitLogging(cfg)
	logger.Info("Worker starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize worker")
	}
	defer a.Close()

	consumer := task.NewConsumer(a.Tasks, a.Registry, task.ConsumerConfigFrom(cfg.Tasks))
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start task consumer")
	}

	logger.WithField("handlers", a.Registry.Names()).Info("Worker started")

	// Set up graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, draining in-flight tasks...")

	// In-flight tasks finish under their own timeout; the drain waits a little longer
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Tasks.Timeout+30*time.Second)
	defer shutdownCancel()
	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Consumer did not stop cleanly")
	}
	cancel()

	logger.Info("Worker stopped. Goodbye!")
}
