package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	defaultManager *Manager
	once           sync.Once
)

// Manager owns one root logger and the module loggers derived from it. All
// of them write through the same swappable handler and share one level, so
// Reconfigure reaches loggers handed out before it.
type Manager struct {
	mu      sync.RWMutex
	level   *slog.LevelVar
	target  atomic.Pointer[slog.Handler]
	closer  io.Closer
	root    *Logger
	loggers map[string]*Logger
	config  *Config
}

// NewManager creates a manager whose loggers all share config.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	handler, closer, err := createHandler(&cfg, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}

	m := &Manager{
		level:   level,
		closer:  closer,
		loggers: make(map[string]*Logger),
		config:  &cfg,
	}
	m.target.Store(&handler)
	m.root = &Logger{
		Logger: slog.New(&switchHandler{target: &m.target}),
		config: m.config,
		level:  level,
	}
	m.loggers["default"] = m.root
	return m, nil
}

// GetManager returns the process-wide manager, creating it on first use.
func GetManager() *Manager {
	once.Do(func() {
		defaultManager, _ = NewManager(DefaultConfig())
	})
	return defaultManager
}

// Configure applies config to the process-wide manager.
func Configure(config *Config) error {
	return GetManager().Reconfigure(config)
}

// Reconfigure replaces output, format and level of every logger the manager
// has handed out or will hand out.
func (m *Manager) Reconfigure(config *Config) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}
	cfg := *config
	handler, closer, err := createHandler(&cfg, m.level)
	if err != nil {
		return fmt.Errorf("failed to create log handler: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.level.Set(parseLevel(cfg.Level))
	m.target.Store(&handler)
	*m.config = cfg

	previous := m.closer
	m.closer = closer
	if previous != nil {
		return previous.Close()
	}
	return nil
}

// GetLogger returns the logger for a module, tagging records with module=name.
func (m *Manager) GetLogger(name string) *Logger {
	m.mu.RLock()
	logger, exists := m.loggers[name]
	m.mu.RUnlock()
	if exists {
		return logger
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, exists := m.loggers[name]; exists {
		return logger
	}

	logger = m.root.With("module", name)
	m.loggers[name] = logger
	return logger
}

// UpdateConfig applies a new level to every logger the manager handed out.
func (m *Manager) UpdateConfig(config *Config) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if config.Level == m.config.Level {
		return nil
	}
	m.config.Level = config.Level
	// Module loggers share the root level var.
	m.root.UpdateLevel(config.Level)
	m.root.Info("Log level updated", "level", config.Level)
	return nil
}

// GetLoggerNames lists the modules that requested a logger, sorted.
func (m *Manager) GetLoggerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loggers))
	for name := range m.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetLogger returns a module logger from the process-wide manager.
func GetLogger(name string) *Logger {
	return GetManager().GetLogger(name)
}

// Default returns the root logger of the process-wide manager.
func Default() *Logger {
	return GetLogger("default")
}
