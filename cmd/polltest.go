// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/control"
)

var (
	pollTestCount int
	pollTestReset bool
)

var pollTestCmd = &cobra.Command{
	Use:   "poll_test",
	Short: "Measure the poll rate of the quadrant",
	Long: `Send POLL commands back to back and report the achieved rate.

The device is reset first (disable with --reset=false). Failed polls are
counted and the test continues.

Exit codes:
  0 - Every poll succeeded
  1 - At least one poll failed
  2 - Connection or reset error`,
	RunE: runPollTest,
}

func init() {
	rootCmd.AddCommand(pollTestCmd)
	pollTestCmd.Flags().IntVarP(&pollTestCount, "count", "n", 1000, "Number of polls")
	pollTestCmd.Flags().BoolVar(&pollTestReset, "reset", true, "Reset the device before polling")
}

func runPollTest(cmd *cobra.Command, args []string) error {
	if pollTestCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t, _, connInfo := OpenTransport(cfg)

	fmt.Printf("Quadrant - Poll Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Polls: %d\n\n", pollTestCount)

	if err := openNow(ctx, t); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	client := asdf.NewClient(t,
		asdf.WithLogger(logger),
		asdf.WithResetWait(cfg.Device.ResetWait),
	)

	if pollTestReset {
		fmt.Printf("Resetting device...\n")
		if err := client.Reset(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Reset error: %v\n", err)
			t.Close()
			os.Exit(2)
		}
	}

	stats := control.NewStatistics()
	var minLatency, maxLatency, total time.Duration
	var last asdf.PollResult

	start := time.Now()
	for i := 0; i < pollTestCount && ctx.Err() == nil; i++ {
		pollStart := time.Now()
		p, err := client.Poll(ctx)
		latency := time.Since(pollStart)
		if err != nil && !asdf.IsFault(err) {
			break
		}
		stats.Update(asdf.KindPoll, err)
		if err != nil {
			fmt.Printf("[%s] poll %d: %v\n", time.Now().Format("15:04:05.000"), i+1, err)
			continue
		}
		stats.UpdateValidation(asdf.ValidatePoll(p))
		last = p

		total += latency
		if minLatency == 0 || latency < minLatency {
			minLatency = latency
		}
		if latency > maxLatency {
			maxLatency = latency
		}
	}
	elapsed := time.Since(start)

	ok := stats.Polls - stats.PollFailures
	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Polls: %d (%d failed)\n", stats.Polls, stats.PollFailures)
	if elapsed > 0 {
		fmt.Printf("Rate: %.1f polls/sec\n", float64(stats.Polls)/elapsed.Seconds())
	}
	if ok > 0 {
		fmt.Printf("Latency: min %s avg %s max %s\n",
			minLatency, (total / time.Duration(ok)).Round(time.Microsecond), maxLatency)
		fmt.Printf("Last: %s\n", asdf.FormatPoll(last))
	}
	if stats.AnomalousValues > 0 {
		fmt.Printf("Anomalous polls: %d\n", stats.AnomalousValues)
	}

	if stats.PollFailures > 0 || ok == 0 {
		fmt.Printf("Result: FAILED\n")
		t.Close()
		os.Exit(1)
	}
	fmt.Printf("Result: PASSED\n")
	return nil
}
