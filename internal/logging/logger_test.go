package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	} {
		assert.Equal(t, tc.want, parseLevel(tc.in), tc.in)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.log")
	logger, err := NewLogger(&Config{Level: "debug", Format: "json", Output: "file", OutputPath: path})
	require.NoError(t, err)

	logger.With("module", "registry").Debug("Actuator read", "actuator", "R_KNEE")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"module":"registry"`), line)
	assert.True(t, strings.Contains(line, `"actuator":"R_KNEE"`), line)
}

func TestManagerSharesLevel(t *testing.T) {
	m, err := NewManager(&Config{Level: "info", Output: "stderr"})
	require.NoError(t, err)

	scheduler := m.GetLogger("scheduler")
	assert.Same(t, scheduler, m.GetLogger("scheduler"))
	assert.False(t, scheduler.Enabled(context.Background(), slog.LevelDebug))

	require.NoError(t, m.UpdateConfig(&Config{Level: "debug"}))
	assert.True(t, scheduler.Enabled(context.Background(), slog.LevelDebug))
	assert.Equal(t, []string{"default", "scheduler"}, m.GetLoggerNames())
}

func TestUpdateConfigRejectsNil(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)
	assert.Error(t, m.UpdateConfig(nil))
}

func TestReconfigureReachesEarlierLoggers(t *testing.T) {
	m, err := NewManager(&Config{Level: "info", Output: "stderr"})
	require.NoError(t, err)
	early := m.GetLogger("infrastructure")
	assert.False(t, early.Enabled(context.Background(), slog.LevelDebug))

	path := filepath.Join(t.TempDir(), "biped.log")
	require.NoError(t, m.Reconfigure(&Config{Level: "debug", Format: "json", Output: "file", OutputPath: path}))
	early.Debug("Link connected", "protocol", "sim")
	m.GetLogger("scheduler").Info("Worker created")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"module":"infrastructure"`)
	assert.Contains(t, lines[0], `"protocol":"sim"`)
	assert.Contains(t, lines[1], `"module":"scheduler"`)

	require.NoError(t, m.UpdateConfig(&Config{Level: "error"}))
	assert.False(t, early.Enabled(context.Background(), slog.LevelWarn))
	assert.Equal(t, "error", early.GetConfig().Level)
	assert.Error(t, m.Reconfigure(nil))
}
