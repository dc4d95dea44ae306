// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads quadrant settings from an optional YAML file,
// QUADRANT_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/quadrant/pkg/transport"
)

// EnvPrefix is the environment variable prefix; QUADRANT_SERIAL_PORT sets serial.port
const EnvPrefix = "QUADRANT"

// ErrNoPort is returned when neither a serial port nor simulation is configured
var ErrNoPort = errors.New("no serial port configured (use --port or --simulate)")

// SerialConfig is the serial link configuration
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	SettleDelay time.Duration `mapstructure:"settleDelay"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// Transport converts the serial settings to link parameters
func (c SerialConfig) Transport() transport.Config {
	return transport.Config{
		Port:        c.Port,
		Baud:        c.Baud,
		SettleDelay: c.SettleDelay,
		ReadTimeout: c.ReadTimeout,
	}
}

// DeviceConfig is the device loop configuration
type DeviceConfig struct {
	ResetWait    time.Duration `mapstructure:"resetWait"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
	Simulate     bool          `mapstructure:"simulate"`
}

// BridgeConfig is the external bridge server configuration
type BridgeConfig struct {
	Addr            string        `mapstructure:"addr"`
	PublishInterval time.Duration `mapstructure:"publishInterval"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
}

// LumberjackConfig is the rotating log file configuration
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig is the log level and output configuration
type LoggingConfig struct {
	Level   string           `mapstructure:"level"`
	Format  string           `mapstructure:"format"`
	Console bool             `mapstructure:"console"`
	File    LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig is the Prometheus endpoint configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config is the top level configuration
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Device  DeviceConfig  `mapstructure:"device"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"port":          "serial.port",
	"baud":          "serial.baud",
	"read-timeout":  "serial.readTimeout",
	"simulate":      "device.simulate",
	"poll-interval": "device.pollInterval",
	"reset-wait":    "device.resetWait",
	"addr":          "bridge.addr",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
	"log-file":      "logging.file.filename",
	"metrics":       "metrics.enable",
}

// Load reads the configuration. An empty path falls back to $QUADRANT_CONFIG,
// then to quadrant.yaml in the working directory or ~/.config/quadrant; a
// missing default file is not an error. flags may be nil; flags that were
// set on the command line override file and environment values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/quadrant")
		}
		v.SetConfigName("quadrant")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed to talk to a device
func (c *Config) Validate() error {
	if !c.Device.Simulate && c.Serial.Port == "" {
		return ErrNoPort
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Serial.Baud)
	}
	if c.Device.PollInterval < 0 {
		return fmt.Errorf("invalid poll interval %s", c.Device.PollInterval)
	}
	if c.Bridge.PublishInterval <= 0 {
		return fmt.Errorf("invalid publish interval %s", c.Bridge.PublishInterval)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", transport.DefaultBaudRate)
	v.SetDefault("serial.settleDelay", transport.DefaultSettleDelay.String())
	v.SetDefault("serial.readTimeout", transport.DefaultReadTimeout.String())

	v.SetDefault("device.resetWait", "3s")
	v.SetDefault("device.pollInterval", "0s")
	v.SetDefault("device.simulate", false)

	v.SetDefault("bridge.addr", ":8787")
	v.SetDefault("bridge.publishInterval", "20ms")
	v.SetDefault("bridge.username", "")
	v.SetDefault("bridge.password", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
