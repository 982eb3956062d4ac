// Package main provides the ops API server entry point for the fund analytics engine.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fund-analytics/internal/api"
	"github.com/fund-analytics/internal/app"
	"github.com/fund-analytics/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.InitLogging(cfg)
	logger.Info("Server starting...")

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}
	defer a.Close()

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  cfg.Server.RequestsPerSec,
		Burst:           cfg.Server.Burst,
	}

	server := api.NewServer(serverConfig, api.Services{
		Tasks:      a.Manager,
		Rebuilds:   a.Producer,
		Trades:     a.Trades,
		Navs:       a.Navs,
		Benchmarks: a.Benchmarks,
		Settings:   a.Settings,
		Health: map[string]api.Pinger{
			"postgres": a.Postgres,
			"redis":    a.Redis,
		},
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
