// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/bridge"
	"github.com/Thermoquad/quadrant/pkg/config"
	"github.com/Thermoquad/quadrant/pkg/devicesim"
	"github.com/Thermoquad/quadrant/pkg/transport"
)

// Simulated lever positions at startup
const (
	simSpeedBrake = 0
	simThrottle   = 25
)

// OpenTransport returns the device link selected by the configuration. The
// link is not opened yet. sim is non-nil when the simulator was selected.
func OpenTransport(cfg *config.Config) (t transport.Transport, sim *devicesim.Device, connInfo string) {
	tc := cfg.Serial.Transport()

	if cfg.Device.Simulate {
		sim = devicesim.New(tc)
		sim.SetLever(asdf.LeverSpeedBrake, asdf.PercentToByte(simSpeedBrake))
		sim.SetLever(asdf.LeverThrottle1, asdf.PercentToByte(simThrottle))
		sim.SetLever(asdf.LeverThrottle2, asdf.PercentToByte(simThrottle))
		return sim, sim, "Simulated quadrant"
	}

	return transport.NewSerial(tc), nil, fmt.Sprintf("Serial: %s @ %d baud", tc.Port, tc.Baud)
}

// openNow opens t, for commands that talk to the device without a loop
func openNow(ctx context.Context, t transport.Transport) error {
	if err := t.Open(ctx); err != nil {
		return err
	}
	return t.FlushReceive()
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(config.EnvPrefix + "_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; read a line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// DialBridge connects to a running bridge, prompting for a password when a
// username is given
func DialBridge(wsURL, username string, skipSSLVerify bool) (*bridge.Client, error) {
	password := ""
	if username != "" {
		var err error
		password, err = GetPassword()
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return bridge.Dial(ctx, wsURL, username, password, skipSSLVerify)
}
