package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iggydv12/lightswarm/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, uint8(28), cfg.Node.FirmwareVersion)
	assert.Equal(t, 2910, cfg.Network.Port)
	assert.Equal(t, "255.255.255.255", cfg.Network.BroadcastAddress)
	assert.Equal(t, 100*time.Millisecond, cfg.Schedule.Cycle)
	assert.Equal(t, "simulated", cfg.Sensor.Kind)
	assert.Equal(t, 64, cfg.Collector.CacheSize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	yaml := `
node:
  address: 42
  firmwareVersion: 30
network:
  port: 3000
schedule:
  cycle: 250ms
sensor:
  kind: file
  path: /sys/bus/iio/devices/iio:device0/in_voltage0_raw
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint8(42), cfg.Node.Address)
	assert.Equal(t, uint8(30), cfg.Node.FirmwareVersion)
	assert.Equal(t, 3000, cfg.Network.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Schedule.Cycle)
	assert.Equal(t, "file", cfg.Sensor.Kind)
	assert.Equal(t, "log", cfg.Indicator.Kind)
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LIGHTSWARM_NETWORK_PORT", "4000")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Network.Port)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
