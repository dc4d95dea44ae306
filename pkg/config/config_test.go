// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QUADRANT_CONFIG", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 200*time.Millisecond, cfg.Serial.SettleDelay)
	assert.Equal(t, time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.Device.ResetWait)
	assert.Zero(t, cfg.Device.PollInterval)
	assert.Equal(t, ":8787", cfg.Bridge.Addr)
	assert.Equal(t, 20*time.Millisecond, cfg.Bridge.PublishInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
	assert.True(t, cfg.Metrics.Enable)

	assert.ErrorIs(t, cfg.Validate(), ErrNoPort)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quadrant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  port: /dev/ttyACM0
  readTimeout: 250ms
device:
  pollInterval: 5ms
bridge:
  addr: 127.0.0.1:9000
logging:
  level: debug
`), 0o644))

	t.Setenv("QUADRANT_BRIDGE_USERNAME", "pilot")
	t.Setenv("QUADRANT_SERIAL_PORT", "/dev/ttyUSB1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.Bool("simulate", false, "")
	require.NoError(t, flags.Parse([]string{"--addr", ":7000"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port, "env overrides file")
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 5*time.Millisecond, cfg.Device.PollInterval)
	assert.Equal(t, ":7000", cfg.Bridge.Addr, "flag overrides file")
	assert.Equal(t, "pilot", cfg.Bridge.Username)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Device.Simulate, "unset flag keeps default")
	assert.NoError(t, cfg.Validate())

	tc := cfg.Serial.Transport()
	assert.Equal(t, "/dev/ttyUSB1", tc.Port)
	assert.Equal(t, 115200, tc.Baud)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		Serial: SerialConfig{Baud: 115200},
		Device: DeviceConfig{Simulate: true},
		Bridge: BridgeConfig{PublishInterval: time.Millisecond},
	}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Serial.Baud = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Device.PollInterval = -time.Second
	assert.Error(t, bad.Validate())

	bad = base
	bad.Bridge.PublishInterval = 0
	assert.Error(t, bad.Validate())
}
