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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/control"
	"github.com/Thermoquad/quadrant/pkg/logging"
	"github.com/Thermoquad/quadrant/pkg/shared"
)

var (
	monitorTUI           bool
	monitorStatsInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for the quadrant",
	Long: `Run the device loop with a terminal UI acting as the autothrottle.

The TUI shows the lever positions, buttons and loop statistics, and lets you
engage the autothrottle and set throttle targets. While engaged the device
loop locks the throttle levers to the targets; pressing the A/T disconnect
button on the quadrant disengages.

With --simulate the simulated levers and buttons can be moved from the
keyboard.

When stdout is not a terminal (or with --tui=false) the state is printed at
--stats-interval instead.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addLoopFlags(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().DurationVar(&monitorStatsInterval, "stats-interval", 2*time.Second, "State print interval in text mode")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	useTUI := monitorTUI && term.IsTerminal(int(os.Stdout.Fd()))
	if useTUI {
		// The TUI owns the terminal; logs go to --log-file only
		cfg.Logging.Console = false
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st := shared.New()
	t, sim, connInfo := OpenTransport(cfg)
	loop := newLoop(cfg, t, st, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	if useTUI {
		p := tea.NewProgram(newMonitorModel(loop, st, sim, connInfo), tea.WithAltScreen())
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			st.External().Quit()
			<-loopErr
			return fmt.Errorf("TUI error: %v", err)
		}
	} else {
		runMonitorText(ctx, loop, st, connInfo)
	}

	st.External().Quit()
	runErr := <-loopErr

	stats := loop.Stats()
	fmt.Print(stats.String())
	return runErr
}

// runMonitorText prints the shared state every monitorStatsInterval until
// quit, the loop stopping, or ctx is done
func runMonitorText(ctx context.Context, loop *control.Loop, st *shared.State, connInfo string) {
	fmt.Printf("Quadrant - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %s\n", monitorStatsInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ticker := time.NewTicker(monitorStatsInterval)
	defer ticker.Stop()

	quitCheck := time.NewTicker(monitorRefresh)
	defer quitCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-loop.Done():
			return
		case <-quitCheck.C:
			if st.Quit() {
				return
			}
		case <-ticker.C:
			printState(st.Snapshot(), loop.State())
			stats := loop.Stats()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

func printState(snap shared.Snapshot, state control.State) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] %-15s SB %5.1f%%  T1 %5.1f%%  T2 %5.1f%%  TOGA %-3s  A/T DISC %-3s  A/T %s\n",
		timestamp, state,
		snap.SpeedBrake, snap.Throttle[0], snap.Throttle[1],
		onOffText(snap.Buttons[asdf.ButtonTOGA]),
		onOffText(snap.Buttons[asdf.ButtonATDisengage]),
		func() string {
			if snap.Engaged {
				return "ENGAGED"
			}
			return "off"
		}(),
	)
}

func onOffText(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
