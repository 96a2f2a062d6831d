// Package config loads the robot's yaml configuration: the link to the
// motor-driver board, per-joint calibration, actuator groups, motion timing
// and the optional telemetry and status surfaces. The file can be watched so
// that edits (for instance the log level) take effect without a restart.
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"biped/internal/logging"
	"biped/pkg/types"
)

type ConfigManager struct {
	config       types.SystemConfig
	configPath   string
	configLock   sync.RWMutex
	watchers     []func(types.SystemConfig)
	watchersLock sync.RWMutex
	lastModified time.Time
	pollInterval time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	watching     bool
	logger       *logging.Logger
}

func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath:   configPath,
		pollInterval: time.Second,
		logger:       logging.GetLogger("config_manager"),
	}
}

// LoadConfig reads and validates the file at path, or at the manager's path
// when path is empty.
func (cm *ConfigManager) LoadConfig(path string) error {
	if path != "" {
		cm.configPath = path
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return err
	}

	cm.configLock.Lock()
	cm.config = config
	cm.lastModified = cm.modTime()
	cm.configLock.Unlock()

	cm.logger.Info("Configuration loaded", "config_path", cm.configPath)
	return nil
}

// Parse decodes and validates a yaml document.
func Parse(data []byte) (types.SystemConfig, error) {
	var config types.SystemConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return types.SystemConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := Validate(&config); err != nil {
		return types.SystemConfig{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (cm *ConfigManager) modTime() time.Time {
	info, err := os.Stat(cm.configPath)
	if err != nil {
		return time.Now()
	}
	return info.ModTime()
}

func (cm *ConfigManager) Reload() error {
	return cm.LoadConfig("")
}

func (cm *ConfigManager) GetConfig() types.SystemConfig {
	cm.configLock.RLock()
	defer cm.configLock.RUnlock()
	return cm.config
}

func (cm *ConfigManager) GetConfigPath() string {
	return cm.configPath
}

// SetConfig validates config, persists it and notifies watchers.
func (cm *ConfigManager) SetConfig(config types.SystemConfig) error {
	if err := Validate(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.configLock.Lock()
	cm.config = config
	cm.lastModified = cm.modTime()
	cm.configLock.Unlock()

	cm.notifyWatchers()
	cm.logger.Info("Configuration updated and saved", "config_path", cm.configPath)
	return nil
}

// WatchChanges registers a callback run after every successful reload.
func (cm *ConfigManager) WatchChanges(callback func(types.SystemConfig)) {
	cm.watchersLock.Lock()
	defer cm.watchersLock.Unlock()
	cm.watchers = append(cm.watchers, callback)
}

// StartWatching polls the file modification time until StopWatching or ctx ends.
func (cm *ConfigManager) StartWatching(ctx context.Context) error {
	if cm.watching {
		return fmt.Errorf("config watcher is already running")
	}

	ctx, cm.cancel = context.WithCancel(ctx)
	cm.watching = true

	cm.wg.Add(1)
	go cm.watchFile(ctx)

	cm.logger.Info("Started watching config file", "config_path", cm.configPath)
	return nil
}

func (cm *ConfigManager) StopWatching() error {
	if !cm.watching {
		return fmt.Errorf("config watcher is not running")
	}

	cm.cancel()
	cm.wg.Wait()
	cm.watching = false

	cm.logger.Info("Stopped watching config file")
	return nil
}

func (cm *ConfigManager) watchFile(ctx context.Context) {
	defer cm.wg.Done()

	ticker := time.NewTicker(cm.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.checkFileChanges()
		}
	}
}

func (cm *ConfigManager) checkFileChanges() {
	info, err := os.Stat(cm.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			cm.logger.Error("Error checking config file", "error", err)
		}
		return
	}

	cm.configLock.RLock()
	modified := info.ModTime().After(cm.lastModified)
	cm.configLock.RUnlock()
	if !modified {
		return
	}

	cm.logger.Info("Config file modified, reloading")
	if err := cm.Reload(); err != nil {
		cm.logger.Error("Failed to reload config", "error", err)
		return
	}
	cm.notifyWatchers()
}

func (cm *ConfigManager) notifyWatchers() {
	cm.watchersLock.RLock()
	watchers := make([]func(types.SystemConfig), len(cm.watchers))
	copy(watchers, cm.watchers)
	cm.watchersLock.RUnlock()

	config := cm.GetConfig()
	for _, watcher := range watchers {
		watcher(config)
	}
}

// Validate fills defaults and rejects configurations the core cannot run.
func Validate(config *types.SystemConfig) error {
	if config.Logging.Level == "" {
		config.Logging = *logging.DefaultConfig()
	}

	link := &config.Link
	if link.Protocol == "" {
		link.Protocol = "none"
	}
	switch link.Protocol {
	case "serial", "modbus", "sim", "none":
	default:
		return fmt.Errorf("unknown link protocol %q", link.Protocol)
	}
	if link.BaudRate <= 0 {
		link.BaudRate = 1000000
	}
	if link.DataBits <= 0 {
		link.DataBits = 8
	}
	if link.StopBits <= 0 {
		link.StopBits = 1
	}
	if link.Parity == "" {
		link.Parity = "N"
	}
	if link.ModbusType == "" {
		link.ModbusType = "rtu"
	}
	if link.SlaveID == 0 {
		link.SlaveID = 1
	}
	if link.Timeout <= 0 {
		link.Timeout = 100 * time.Millisecond
	}
	if link.RetryInterval <= 0 {
		link.RetryInterval = 10 * time.Millisecond
	}
	if link.RetryCount < 0 {
		return fmt.Errorf("link retry_count must not be negative")
	}

	seenNames := make(map[string]bool, len(config.Actuators))
	seenIDs := make(map[int]string, len(config.Actuators))
	for _, a := range config.Actuators {
		if a.Name == "" {
			return fmt.Errorf("actuator with id %d must have a name", a.ID)
		}
		if seenNames[a.Name] {
			return fmt.Errorf("actuator %s declared twice", a.Name)
		}
		if other, ok := seenIDs[a.ID]; ok {
			return fmt.Errorf("actuators %s and %s share id %d", other, a.Name, a.ID)
		}
		if a.Min > a.Max {
			return fmt.Errorf("actuator %s must have min <= max", a.Name)
		}
		seenNames[a.Name] = true
		seenIDs[a.ID] = a.Name
	}

	for name := range config.Configurations {
		if _, ok := types.ParseGroup(name); !ok {
			return fmt.Errorf("unknown configuration %q", name)
		}
	}

	motion := &config.Motion
	if motion.Iteration <= 0 {
		motion.Iteration = 16 * time.Millisecond
	}
	if motion.ReadConcurrency <= 0 {
		motion.ReadConcurrency = 1
	}
	if motion.InitTotal <= 0 {
		motion.InitTotal = 10 * time.Second
	}
	if motion.InitStep <= 0 {
		motion.InitStep = 16 * time.Millisecond
	}
	walk := &motion.Walk
	if walk.StepLength <= 0 {
		walk.StepLength = 0.04
	}
	if walk.StanceWidth <= 0 {
		walk.StanceWidth = 0.074
	}
	if walk.PelvisHeight <= 0 {
		walk.PelvisHeight = 0.29672
	}
	if walk.StepPeriod <= 0 {
		walk.StepPeriod = 1
	}
	if walk.SampleInterval <= 0 {
		walk.SampleInterval = 0.02
	}
	if walk.Increment <= 0 {
		walk.Increment = 0.01
	}
	if walk.Increment > 1 {
		return fmt.Errorf("walk increment must not exceed 1")
	}
	if walk.SampleInterval >= 0.2*walk.StepPeriod {
		return fmt.Errorf("walk sample_interval must be shorter than a fifth of step_period")
	}

	sched := &config.Scheduler
	if sched.LegsPriority == 0 {
		sched.LegsPriority = types.PriorityLegs
	}
	if sched.IOPriority == 0 {
		sched.IOPriority = types.PriorityIO
	}

	if config.Telemetry.Measurement == "" {
		config.Telemetry.Measurement = "actuators"
	}
	if config.StatusServer.Address == "" {
		config.StatusServer.Address = "127.0.0.1:8502"
	}

	return nil
}
