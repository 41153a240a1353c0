package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"task-router/internal/common/logging"
	"task-router/internal/config"
	"task-router/internal/handlers"
	"task-router/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting task router",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: "1.0.0"},
	)

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	// Load compiled rules and start the escalation sweep
	ctx := context.Background()
	if err := app.Engine.LoadRules(ctx); err != nil {
		logging.Error("Failed to load routing rules", err)
		return err
	}
	if err := app.Scheduler.Start(); err != nil {
		logging.Error("Failed to start escalation scheduler", err)
		return err
	}

	// Build and start the HTTP server
	router := mux.NewRouter()
	h := handlers.New(app.Engine, app.Storage, app.Metrics, app.Scheduler, app.Breakers, cfg)
	SetupRoutes(router, h, app.RateLimiter, cfg.RateLimitEnabled)

	srv := server.New(router, cfg.Port)
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	logging.Info("Server listening", logging.Field{Key: "port", Value: cfg.Port})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
