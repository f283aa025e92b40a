package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/api"
	"github.com/brandlens/visibility-bot/internal/app"
	"github.com/brandlens/visibility-bot/internal/config"
	"github.com/brandlens/visibility-bot/internal/scheduler"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app.SetupLogging(cfg)
	logrus.Info("Starting Visibility Bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := app.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize services: %v", err)
	}
	defer services.Close()

	if err := services.DB.Migrate(ctx); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize scheduler
	schedulerService, err := scheduler.NewService(cfg, services.Monitoring)
	if err != nil {
		logrus.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	// Background prompt jobs get the fan-out budget plus time to persist
	apiServer := api.NewServer(services.Monitoring, services.DB, cfg.FanOutTimeout+time.Minute)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		apiServer.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logrus.Warn("Background jobs still running at shutdown")
	}

	logrus.Info("Server exited")
}
