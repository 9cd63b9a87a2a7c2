// Heimdall Battery Sentinel
//
// This is the main entry point for the battery sentinel service. It
// connects to a Home Assistant instance, discovers every battery-class
// entity, tracks their levels against a configurable low threshold, and
// serves the current picture over a REST API, a websocket feed, and an
// embedded status panel.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/api"
	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/battery"
	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/homeassistant"
	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/infrastructure/config"
	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Heimdall Battery Sentinel",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to Home Assistant
	ha, err := homeassistant.Dial(ctx, homeassistant.Config{
		URL:   cfg.HomeAssistant.URL,
		Token: cfg.HomeAssistant.Token,
	})
	if err != nil {
		return fmt.Errorf("connecting to Home Assistant: %w", err)
	}
	defer func() {
		log.Info("disconnecting from Home Assistant")
		if closeErr := ha.Close(); closeErr != nil {
			log.Error("error closing Home Assistant connection", "error", closeErr)
		}
	}()
	ha.SetLogger(log.With("component", "homeassistant"))
	log.Info("Home Assistant connected", "url", cfg.HomeAssistant.URL)

	// A dropped connection is fatal; systemd (or the container runtime)
	// restarts the service and discovery rebuilds the session from scratch.
	ctx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	ha.SetOnDisconnect(func(err error) {
		log.Error("Home Assistant connection lost", "error", err)
		stop(err)
	})

	// Create tracking session and monitor
	session := battery.NewSession(cfg.Sentinel.Threshold)
	session.SetLogger(log.With("component", "session"))
	log.Info("tracking session created",
		"session_id", session.ID(),
		"threshold", session.Threshold(),
	)

	monitor := battery.NewMonitor(ha, session)
	monitor.SetLogger(log.With("component", "monitor"))

	if err := monitor.Start(ha); err != nil {
		return fmt.Errorf("starting battery monitor: %w", err)
	}
	all, low := session.Counts()
	log.Info("battery monitor started", "tracked", all, "low", low)

	// Start API server
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.With("component", "api"),
		Monitor: monitor,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Tear down the session first so subscribers stop receiving updates
	// and event subscriptions on the Home Assistant connection are
	// released before the connection itself closes.
	cleanups := session.Teardown()
	log.Info("tracking session torn down", "cleanups", cleanups)

	log.Info("Heimdall Battery Sentinel stopped")

	// A signal-driven shutdown exits cleanly; a lost host connection
	// exits with an error so the supervisor restarts the service.
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("connection to Home Assistant lost: %w", cause)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEIMDALL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEIMDALL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
