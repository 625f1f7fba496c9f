// Package main runs the walk-forward HTTP service: the runs API, status
// streams, health and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"walkforward-lab/internal/app"
	"walkforward-lab/internal/config"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (default $WF_CONFIG_FILE)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	offline := flag.Bool("offline", false, "Use synthetic warehouse collaborators")
	verbose := flag.Bool("verbose", false, "Log every batch")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := loadConfig(*configFile, *addr, *offline, *verbose)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer application.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      application.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Listening on %s (stores: %s)", cfg.Server.Addr, application.Stores.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Println("Received shutdown signal, draining runs...")
	case err := <-errCh:
		if err != nil {
			logger.Printf("HTTP server error: %v", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Runs did not stop within %v: %v", cfg.Server.ShutdownTimeout, err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}

	logger.Println("Shutdown complete")
}

// loadConfig loads the config file and environment, then applies flags.
func loadConfig(path, addr string, offline, verbose bool) (*config.Config, error) {
	if offline {
		// Offline must be known before validation, which requires a URL otherwise.
		if err := os.Setenv("WF_WAREHOUSE_OFFLINE", "true"); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if verbose {
		cfg.Logging.Verbose = true
	}
	return cfg, nil
}
