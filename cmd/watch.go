// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/quadrant/pkg/bridge"
)

var (
	watchURL         string
	watchUsername    string
	watchNoSSLVerify bool
	watchEvery       int
	watchEngage      bool
	watchThrottle    string
	watchQuit        bool
	watchSendOnly    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a running bridge and send autothrottle commands",
	Long: `Connect to the websocket of a running "quadrant run" and print snapshots.

Commands can be sent before watching:
  --engage / --engage=false   engage or disengage the autothrottle
  --throttle "40 45"          set throttle targets (autothrottle must be engaged)
  --quit                      stop the bridge

For authentication, the password is read from the QUADRANT_PASSWORD
environment variable, or prompted interactively if not set.

Examples:
  quadrant watch --url ws://localhost:8787/ws
  quadrant watch --url ws://localhost:8787/ws --engage --throttle 40 --send-only`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchURL, "url", "u", "ws://localhost:8787/ws", "Bridge websocket URL (ws:// or wss://)")
	watchCmd.Flags().StringVar(&watchUsername, "username", "", "Username for HTTP Basic auth")
	watchCmd.Flags().BoolVar(&watchNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	watchCmd.Flags().IntVar(&watchEvery, "every", 25, "Print every Nth snapshot (changes are always printed)")
	watchCmd.Flags().BoolVar(&watchEngage, "engage", false, "Engage (or with =false disengage) the autothrottle")
	watchCmd.Flags().StringVar(&watchThrottle, "throttle", "", "Throttle targets in percent: \"p\" or \"p1 p2\"")
	watchCmd.Flags().BoolVar(&watchQuit, "quit", false, "Ask the bridge to quit")
	watchCmd.Flags().BoolVar(&watchSendOnly, "send-only", false, "Exit after the command result")
}

// watchCommand builds the command requested by the flags, or nil
func watchCommand(cmd *cobra.Command) (*bridge.Command, error) {
	var c bridge.Command
	send := false

	if cmd.Flags().Changed("engage") {
		engage := watchEngage
		c.Engage = &engage
		send = true
	}
	if watchThrottle != "" {
		levels, err := parseTargets(watchThrottle)
		if err != nil {
			return nil, err
		}
		c.Throttle = &levels
		send = true
	}
	if watchQuit {
		c.Quit = true
		send = true
	}

	if !send {
		return nil, nil
	}
	return &c, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	command, err := watchCommand(cmd)
	if err != nil {
		return err
	}
	if watchEvery < 1 {
		watchEvery = 1
	}

	client, err := DialBridge(watchURL, watchUsername, watchNoSSLVerify)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	fmt.Printf("Quadrant - Watch\n")
	fmt.Printf("Connection: WebSocket: %s\n", watchURL)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if command != nil {
		if err := client.Send(*command); err != nil {
			return fmt.Errorf("send command: %w", err)
		}
	}
	awaitingResult := command != nil

	var last *bridge.Snapshot
	count := 0
	for {
		msg, err := client.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch {
		case msg.Result != nil:
			timestamp := time.Now().Format("15:04:05.000")
			if msg.Result.OK {
				fmt.Printf("[%s] Command accepted\n", timestamp)
			} else {
				fmt.Printf("[%s] Command rejected: %s\n", timestamp, msg.Result.Error)
			}
			if awaitingResult && watchSendOnly {
				if !msg.Result.OK {
					os.Exit(1)
				}
				return nil
			}
			awaitingResult = false

		case msg.Snapshot != nil:
			count++
			if last == nil || changed(last, msg.Snapshot) || count%watchEvery == 0 {
				printSnapshot(msg.Snapshot)
			}
			last = msg.Snapshot
			if msg.Snapshot.Quit {
				fmt.Printf("Bridge is quitting\n")
				return nil
			}
		}
	}
}

// changed reports a change in the discrete fields of a snapshot
func changed(a, b *bridge.Snapshot) bool {
	return a.Buttons != b.Buttons || a.Engaged != b.Engaged || a.LoopState != b.LoopState
}

func printSnapshot(s *bridge.Snapshot) {
	timestamp := time.Now().Format("15:04:05.000")
	engaged := "off"
	if s.Engaged {
		engaged = "ENGAGED"
	}
	fmt.Printf("[%s] #%-8d %-15s SB %5.1f%%  T1 %5.1f%%  T2 %5.1f%%  TOGA %-3s  A/T DISC %-3s  A/T %s\n",
		timestamp, s.Seq, s.LoopState,
		s.SpeedBrake, s.Throttle[0], s.Throttle[1],
		onOffText(s.Buttons[0]), onOffText(s.Buttons[1]), engaged)
}
