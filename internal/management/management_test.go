package management

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biped/internal/config"
	"biped/internal/hardware/comm"
	"biped/pkg/types"
)

func fastSim(cfg *types.SystemConfig) {
	cfg.Link.Protocol = "sim"
	cfg.Motion.Iteration = time.Millisecond
	cfg.Motion.Enabled = false
	cfg.Motion.PerformInitPosition = true
	cfg.Motion.InitTotal = 10 * time.Millisecond
	cfg.Motion.InitStep = 2 * time.Millisecond
	cfg.Telemetry.Enabled = false
	cfg.StatusServer.Enabled = false
}

func TestInfrastructureCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	im, err := NewInfrastructureManager(path, WithOverride(fastSim))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config written")
	assert.Equal(t, "sim", im.GetSystemConfig().Link.Protocol)
	assert.Nil(t, im.Link())

	require.NoError(t, im.Start(context.Background()))
	assert.Equal(t, comm.StatusConnected, im.Link().Status())
	require.NoError(t, im.Stop())
}

func TestInfrastructureKeepsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"bounds": "actuators:\n  - {name: R_KNEE, id: 7, offset: 512, min: 900, max: 100}\n",
		"syntax": "link: [unterminated\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))

			_, err := NewInfrastructureManager(path)
			require.Error(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, body, string(data), "operator file left untouched")
		})
	}
}

func TestInfrastructureDegradedLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	im, err := NewInfrastructureManager(path, WithOverride(func(cfg *types.SystemConfig) {
		fastSim(cfg)
		cfg.Link.Protocol = "serial"
		cfg.Link.Port = filepath.Join(t.TempDir(), "no-such-tty")
		cfg.Link.RetryCount = 0
	}))
	require.NoError(t, err)

	require.NoError(t, im.Start(context.Background()))
	assert.Equal(t, comm.StatusError, im.Link().Status())
	assert.ErrorIs(t, im.Link().WriteRaw(context.Background(), 1, 512), comm.ErrLinkDown)
	require.NoError(t, im.Stop())
}

func TestApplicationWalksOnSimBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	im, err := NewInfrastructureManager(path, WithOverride(fastSim))
	require.NoError(t, err)

	_, err = NewApplicationManager(im)
	assert.Error(t, err, "needs a started infrastructure")

	ctx := context.Background()
	require.NoError(t, im.Start(ctx))
	defer im.Stop()

	am, err := NewApplicationManager(im)
	require.NoError(t, err)
	require.NoError(t, am.Start(ctx))

	for _, j := range am.Registry().Snapshot().Joints {
		if j.Name == "HEAD_PAN" || j.Name == "HEAD_TILT" {
			assert.False(t, j.HasTarget, j.Name)
			continue
		}
		assert.True(t, j.HasTarget, "init ramp targets %s", j.Name)
	}

	walkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, am.RunWalks(walkCtx, r2.Point{X: 0.04}, 2))
	assert.Equal(t, 2, am.Walks())

	require.Eventually(t, func() bool {
		_, bound := am.Scheduler().Lookup(types.TaskLegsControl)
		return !bound
	}, time.Second, time.Millisecond)
	assert.Greater(t, am.Cycle().Status().Computed, uint64(2))

	require.NoError(t, am.Stop())
}

func TestConfigHandlerReportsRestartSections(t *testing.T) {
	base := config.DefaultConfig()
	ch := NewConfigHandler(base)

	assert.Empty(t, ch.Apply(base))

	next := config.DefaultConfig()
	next.Logging.Level = "debug"
	assert.Empty(t, ch.Apply(next), "log level applies at runtime")

	next = config.DefaultConfig()
	next.Logging.Level = "debug"
	next.Link.Protocol = "serial"
	next.Motion.Iteration = 20 * time.Millisecond
	assert.Equal(t, []string{"link", "motion"}, ch.Apply(next))
}
