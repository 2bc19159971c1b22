// Command server runs the HTTP control surface of the railway environment.
//
// Configuration comes from the YAML file named by RAILENV_CONFIG (default
// railenv.yaml, optional). A .env file in the working directory is loaded
// first; RAILENV_PORT and RAILENV_DSN override the file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cxd309/tms-railenv/internal/config"
	"github.com/cxd309/tms-railenv/internal/loader"
	"github.com/cxd309/tms-railenv/internal/logging"
	"github.com/cxd309/tms-railenv/internal/server"
	"github.com/cxd309/tms-railenv/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Try to load .env file (optional for local development)
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	net, err := loader.New(cfg.Loader, nil, nil, logger).LoadFiles(cfg.Data.Stations, cfg.Data.Tracks)
	if err != nil {
		return fmt.Errorf("loading network: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(net.Graph(), server.Options{
		Engine:      cfg.EngineOptions(),
		CORSOrigins: cfg.Server.CORSOrigins,
		FeedEpoch:   cfg.FeedEpoch(),
		MaxSessions: cfg.Server.MaxSessions,
	}, st, logger)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: srv.Router(),
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", httpSrv.Addr, "stations", net.Stats.Stations, "tracks", net.Stats.Tracks)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	path := getEnv("RAILENV_CONFIG", "railenv.yaml")
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	} else if os.Getenv("RAILENV_CONFIG") != "" {
		return config.Config{}, fmt.Errorf("config file: %w", err)
	}

	if p := os.Getenv("RAILENV_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return config.Config{}, fmt.Errorf("RAILENV_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if dsn := os.Getenv("RAILENV_DSN"); dsn != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.DSN = dsn
	}
	return cfg, cfg.Validate()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
