// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/quadrant/pkg/asdf"
)

var probeCmd = &cobra.Command{
	Use:   "probe <reset|poll|release|set|echo> [mask] [percent...]",
	Short: "Send one command and print the response",
	Long: `Send a single ASDF command to the quadrant and print the exchanged frames.

Commands:
  reset                 RESET, then wait for RESET_ACK after reopening
  poll                  POLL, prints buttons and lever positions
  release               LEVER_RELEASE
  set <mask> <pct...>   LEVER_SET; mask is SB|T1|T2 (any subset), ALL,
                        THROTTLES or a number 0-7; one percentage per lever
  echo                  DEBUG_ECHO

Examples:
  quadrant probe --port /dev/ttyACM0 poll
  quadrant probe --port /dev/ttyACM0 set T1|T2 40 45
  quadrant probe --simulate set ALL 0 50 50`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	command, err := parseProbe(args)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t, _, connInfo := OpenTransport(cfg)
	fmt.Printf("Quadrant - Probe\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	if err := openNow(ctx, t); err != nil {
		return err
	}
	defer t.Close()

	if stale, _ := t.ReadAvailable(asdf.MaxFrameSize * 4); len(stale) > 0 {
		fmt.Printf("Drained %d stale byte(s): %s\n", len(stale), asdf.FormatFrame(stale))
	}

	client := asdf.NewClient(t,
		asdf.WithLogger(logger),
		asdf.WithResetWait(cfg.Device.ResetWait),
		asdf.WithWarningHandler(func(c asdf.Command, _ *asdf.Response, warning error) {
			fmt.Printf("WARNING: %v\n", warning)
		}),
	)

	frame, err := asdf.Encode(command)
	if err != nil {
		return err
	}
	fmt.Printf("TX: %-20s %s\n", asdf.FormatFrame(frame), command)

	if command.Kind() == asdf.KindReset {
		if err := client.Reset(ctx); err != nil {
			return err
		}
		fmt.Printf("RX: %-20s %s\n", asdf.FormatFrame([]byte{asdf.RespResetAck}), asdf.FormatResponseCode(asdf.RespResetAck))
		return nil
	}

	resp, err := client.Do(ctx, command)
	if err != nil {
		return err
	}
	raw := append([]byte{resp.Code}, resp.Data...)
	fmt.Printf("RX: %-20s %s\n", asdf.FormatFrame(raw), resp)

	if command.Kind() == asdf.KindPoll {
		poll, err := asdf.ParsePoll(resp)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s\n", asdf.FormatPoll(poll))
		for _, v := range asdf.ValidatePoll(poll) {
			fmt.Printf("ANOMALY: %s\n", v.Message)
		}
	}
	return nil
}

// parseProbe builds the command named by args
func parseProbe(args []string) (asdf.Command, error) {
	name := strings.ToLower(args[0])
	rest := args[1:]

	if name != "set" && len(rest) > 0 {
		return asdf.Command{}, fmt.Errorf("%s takes no arguments", name)
	}

	switch name {
	case "reset":
		return asdf.NewReset(), nil
	case "poll":
		return asdf.NewPoll(), nil
	case "release":
		return asdf.NewLeverRelease(), nil
	case "echo":
		return asdf.NewDebugEcho(), nil
	case "set":
		if len(rest) < 1 {
			return asdf.Command{}, fmt.Errorf("set needs a lever mask")
		}
		mask, err := parseMask(rest[0])
		if err != nil {
			return asdf.Command{}, err
		}
		if len(rest)-1 != mask.Count() {
			return asdf.Command{}, fmt.Errorf("mask %s needs %d percentage(s), got %d",
				asdf.FormatMask(mask), mask.Count(), len(rest)-1)
		}
		values := make([]byte, 0, mask.Count())
		for _, s := range rest[1:] {
			p, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
			if err != nil {
				return asdf.Command{}, fmt.Errorf("invalid percentage %q: %v", s, err)
			}
			values = append(values, asdf.PercentToByte(p))
		}
		return asdf.NewLeverSet(mask, values...)
	}
	return asdf.Command{}, fmt.Errorf("unknown command %q (use reset, poll, release, set or echo)", args[0])
}

// parseMask reads a lever mask: lever names joined by '|' or ',', ALL,
// THROTTLES, NONE, or a number 0-7 (0b/0x prefixes allowed)
func parseMask(s string) (asdf.LeverMask, error) {
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		if n > uint64(asdf.MaskAll) {
			return 0, fmt.Errorf("%w: %s", asdf.ErrInvalidMask, s)
		}
		return asdf.LeverMask(n), nil
	}

	var mask asdf.LeverMask
	for _, part := range strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.TrimSpace(part) {
		case "SB":
			mask |= asdf.MaskSpeedBrake
		case "T1":
			mask |= asdf.MaskThrottle1
		case "T2":
			mask |= asdf.MaskThrottle2
		case "THROTTLES":
			mask |= asdf.MaskThrottles
		case "ALL":
			mask |= asdf.MaskAll
		case "NONE":
		default:
			return 0, fmt.Errorf("%w: unknown lever %q", asdf.ErrInvalidMask, part)
		}
	}
	return mask, nil
}
