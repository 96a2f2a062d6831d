package management

import (
	"reflect"
	"sync"

	"biped/internal/logging"
	"biped/pkg/types"
)

// ConfigHandler applies reloaded configurations. Only the log level takes
// effect at runtime; every other section is reported as needing a restart.
type ConfigHandler struct {
	mu      sync.Mutex
	current types.SystemConfig
	logger  *logging.Logger
}

func NewConfigHandler(initial types.SystemConfig) *ConfigHandler {
	return &ConfigHandler{
		current: initial,
		logger:  logging.GetLogger("config_handler"),
	}
}

// Apply takes next as the current configuration and returns the names of
// the changed sections that need a restart.
func (ch *ConfigHandler) Apply(next types.SystemConfig) []string {
	ch.mu.Lock()
	prev := ch.current
	ch.current = next
	ch.mu.Unlock()

	if next.Logging.Level != prev.Logging.Level {
		if err := logging.GetManager().UpdateConfig(&next.Logging); err != nil {
			ch.logger.Warn("Log level not updated", "error", err)
		}
	}

	sections := []struct {
		name       string
		prev, next interface{}
	}{
		{"link", prev.Link, next.Link},
		{"actuators", prev.Actuators, next.Actuators},
		{"configurations", prev.Configurations, next.Configurations},
		{"motion", prev.Motion, next.Motion},
		{"scheduler", prev.Scheduler, next.Scheduler},
		{"telemetry", prev.Telemetry, next.Telemetry},
		{"status_server", prev.StatusServer, next.StatusServer},
	}
	var restart []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.next) {
			restart = append(restart, s.name)
		}
	}
	if len(restart) > 0 {
		ch.logger.Warn("Configuration change needs a restart", "sections", restart)
	}
	return restart
}
