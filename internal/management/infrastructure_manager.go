// Package management assembles the motion core: the infrastructure layer
// (configuration, hardware link, telemetry) and the application layer
// (actuators, scheduler, control cycle, status API, walking).
package management

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/multierr"

	"biped/internal/config"
	"biped/internal/hardware"
	"biped/internal/hardware/comm"
	"biped/internal/logging"
	"biped/internal/telemetry"
	"biped/pkg/types"
)

// InfrastructureManager owns the components with no motion semantics.
type InfrastructureManager struct {
	configManager *config.ConfigManager
	configHandler *ConfigHandler
	override      func(*types.SystemConfig)
	link          comm.Connection
	recorder      *telemetry.Recorder
	logger        *logging.Logger
}

type InfrastructureOption func(*InfrastructureManager)

// WithOverride edits the loaded configuration before anything is built
// from it. Overrides also apply to reloaded configurations.
func WithOverride(fn func(*types.SystemConfig)) InfrastructureOption {
	return func(im *InfrastructureManager) { im.override = fn }
}

// NewInfrastructureManager loads configPath, writing a default configuration
// there first if the file does not exist. A file that exists but does not
// parse or validate is an error and is left untouched.
func NewInfrastructureManager(configPath string, opts ...InfrastructureOption) (*InfrastructureManager, error) {
	im := &InfrastructureManager{
		configManager: config.NewConfigManager(configPath),
		logger:        logging.GetLogger("infrastructure"),
	}
	for _, opt := range opts {
		opt(im)
	}

	if err := im.configManager.LoadConfig(""); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
		im.logger.Info("Config file not found, creating default configuration", "path", configPath)
		if err := im.configManager.CreateDefaultConfig(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	cfg := im.config()
	if err := logging.Configure(&cfg.Logging); err != nil {
		im.logger.Warn("Logging configuration rejected", "error", err)
	}
	im.configHandler = NewConfigHandler(cfg)
	return im, nil
}

func (im *InfrastructureManager) config() types.SystemConfig {
	cfg := im.configManager.GetConfig()
	if im.override != nil {
		im.override(&cfg)
	}
	return cfg
}

// GetSystemConfig returns the active configuration with overrides applied.
func (im *InfrastructureManager) GetSystemConfig() types.SystemConfig {
	return im.config()
}

func (im *InfrastructureManager) GetConfigManager() *config.ConfigManager {
	return im.configManager
}

// Link returns the hardware link. It is nil before Start.
func (im *InfrastructureManager) Link() comm.Connection {
	return im.link
}

// Recorder returns the telemetry recorder, or nil when telemetry is off.
func (im *InfrastructureManager) Recorder() *telemetry.Recorder {
	return im.recorder
}

// Start connects the hardware link, opens telemetry and watches the
// configuration file. A link that fails to connect leaves the system in
// degraded mode rather than failing Start.
func (im *InfrastructureManager) Start(ctx context.Context) error {
	im.logger.Info("Starting infrastructure layer")
	cfg := im.config()

	link, err := hardware.NewLink(ctx, cfg.Link, cfg.Actuators)
	if err != nil {
		im.logger.Warn("Continuing in degraded mode", "protocol", cfg.Link.Protocol, "error", err)
	}
	im.link = link

	if cfg.Telemetry.Enabled {
		im.recorder = telemetry.NewRecorder(cfg.Telemetry)
	}

	im.configManager.WatchChanges(func(types.SystemConfig) {
		im.configHandler.Apply(im.config())
	})
	if err := im.configManager.StartWatching(ctx); err != nil {
		im.logger.Warn("Failed to start config watcher", "error", err)
	}

	im.logger.Info("Infrastructure layer started", "link", im.link.Status().String())
	return nil
}

// Stop releases the infrastructure in reverse start order.
func (im *InfrastructureManager) Stop() error {
	im.logger.Info("Stopping infrastructure layer")

	var errs error
	if err := im.configManager.StopWatching(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("config watcher stop error: %w", err))
	}
	if im.recorder != nil {
		im.recorder.Close()
	}
	if im.link != nil {
		if err := im.link.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("link close error: %w", err))
		}
	}

	if errs == nil {
		im.logger.Info("Infrastructure layer stopped successfully")
	}
	return errs
}
