// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/config"
	"github.com/Thermoquad/quadrant/pkg/logging"
	"github.com/Thermoquad/quadrant/pkg/transport"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quadrant",
	Short: "ASDF throttle quadrant bridge",
	Long: `Quadrant - bridges the ASDF throttle quadrant to an external autothrottle.

The device loop polls the quadrant for lever positions and buttons, publishes
them to shared state, and drives the throttle levers whenever the external
autothrottle is engaged.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  Simulated: --simulate

Settings are read from quadrant.yaml (./ or ~/.config/quadrant, or --config),
then QUADRANT_* environment variables, then flags.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default quadrant.yaml)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringP("port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntP("baud", "b", transport.DefaultBaudRate, "Baud rate")
	rootCmd.PersistentFlags().Bool("simulate", false, "Use the built-in device simulator instead of a serial port")
	rootCmd.PersistentFlags().Duration("read-timeout", transport.DefaultReadTimeout, "Response read timeout")
	rootCmd.PersistentFlags().Duration("reset-wait", asdf.MaxDeviceResetTime, "Wait between closing and reopening the port on reset")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	rootCmd.PersistentFlags().String("log-file", "", "Also log to this file, rotated")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration with cmd's flags applied on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Device.ResetWait <= 0 {
		return nil, fmt.Errorf("invalid reset wait %s", cfg.Device.ResetWait)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and builds the logger
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
