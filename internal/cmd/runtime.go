package cmd

import (
	"fmt"

	"github.com/Iron-Ham/phonefleet/internal/config"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/logging"
	"github.com/Iron-Ham/phonefleet/internal/orchestrator"
)

// loadConfig reads the configuration assembled by initConfig.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger opens the debug log described by cfg. Disabled logging yields
// a logger that discards everything.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level, cfg.Logging.Rotation())
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log: %w", err)
	}
	return logger, nil
}

// newOrchestrator wires an orchestrator to a fresh event bus.
func newOrchestrator(cfg *config.Config, logger *logging.Logger) *orchestrator.Orchestrator {
	bus := event.NewBus()
	bus.SetLogger(logger.Slog())
	return orchestrator.New(bus, cfg.Orchestrator.Settings(), logger)
}
