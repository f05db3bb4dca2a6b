// ABOUTME: Entry point for the relay-hub coordination server
// ABOUTME: Serves the hub HTTP API over a shared workspace or SQLite store

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loomworks/relay-hub/internal/config"
	"github.com/loomworks/relay-hub/internal/hub"
	"github.com/loomworks/relay-hub/internal/watch"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                  _           _
  _ __ ___| | __ _ _   _     | |__  _   _| |__
 | '__/ _ \ |/ _' | | | |____| '_ \| | | | '_ \
 | | |  __/ | (_| | |_| |____| | | | |_| | |_) |
 |_|  \___|_|\__,_|\__, |    |_| |_|\__,_|_.__/
                   |___/
`

// getConfigPath returns the path to the hub config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay-hub/hub.yaml > ~/.config/relay-hub/hub.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hub.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relay-hub", "hub.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: relay-hub <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the hub server")
		fmt.Println("  init       Write a default config file")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe()
	case "init":
		err = cmdInit()
	case "version":
		fmt.Println("relay-hub", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdServe() error {
	fmt.Print(banner)

	cfgPath := getConfigPath()
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	setupLogging(cfg.Logging)
	logger := slog.Default()
	logger.Info("starting relay-hub",
		"version", version,
		"config", cfgPath,
		"backend", cfg.Storage.Backend)

	h, err := hub.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing hub: %w", err)
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Watcher.Enabled && cfg.Storage.Backend == "fs" {
		watcher, err := watch.New(cfg.Storage.Root, h.Bus, logger)
		if err != nil {
			return fmt.Errorf("starting workspace watcher: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("workspace watcher stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           h.APIHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadConfig loads the config file, falling back to defaults when none
// exists so `relay-hub serve` works out of the box.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, err
}

func cmdInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaultConfig := `server:
  http_addr: ":8420"

storage:
  # backend: fs | sqlite | memory
  backend: fs
  root: ${HOME}/.local/share/relay-hub/workspace
  # path: ${HOME}/.local/share/relay-hub/hub.db

fanout:
  workers: 4

watcher:
  enabled: true

logging:
  level: info
  format: text
`
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	fmt.Println("Wrote", path)
	return nil
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
