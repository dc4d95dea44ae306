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
	"go.uber.org/zap"

	"github.com/Thermoquad/quadrant/pkg/bridge"
	"github.com/Thermoquad/quadrant/pkg/config"
	"github.com/Thermoquad/quadrant/pkg/control"
	"github.com/Thermoquad/quadrant/pkg/metrics"
	"github.com/Thermoquad/quadrant/pkg/shared"
	"github.com/Thermoquad/quadrant/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device loop and the autothrottle bridge",
	Long: `Run the device loop against the quadrant and serve the bridge.

The bridge publishes lever positions, buttons and the autothrottle flag over a
websocket (/ws) and as JSON (/state). Autothrottle clients engage the
autothrottle and set throttle targets through the websocket; while engaged the
device loop locks the throttle levers to those targets.

Stops on SIGINT/SIGTERM, when a client sends quit, or when the device cannot
be initialized.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addLoopFlags(runCmd)
	runCmd.Flags().String("addr", ":8787", "Bridge listen address")
	runCmd.Flags().Bool("metrics", true, "Serve Prometheus metrics")
}

// addLoopFlags adds the device loop flags shared by run and monitor
func addLoopFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("poll-interval", 0, "Minimum time between polls (0 polls as fast as the device answers)")
}

// newLoop builds the device loop for t from the configuration
func newLoop(cfg *config.Config, t transport.Transport, st *shared.State, logger *zap.Logger, m *metrics.Metrics) *control.Loop {
	return control.New(t, st,
		control.WithLogger(logger),
		control.WithMetrics(m),
		control.WithResetWait(cfg.Device.ResetWait),
		control.WithPollInterval(cfg.Device.PollInterval),
	)
}

// loopReady reports whether the loop has a working device link
func loopReady(loop *control.Loop) bool {
	switch loop.State() {
	case control.StatePolling, control.StateLeverLocked, control.StateLeverReleased:
		return true
	}
	return false
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	st := shared.New()
	t, _, connInfo := OpenTransport(cfg)
	loop := newLoop(cfg, t, st, logger, m)

	opts := bridge.Options{
		Addr:            cfg.Bridge.Addr,
		PublishInterval: cfg.Bridge.PublishInterval,
		Username:        cfg.Bridge.Username,
		Password:        cfg.Bridge.Password,
		Ready:           func() bool { return loopReady(loop) },
		LoopState:       func() string { return loop.State().String() },
		Logger:          logger,
		Metrics:         m,
	}
	if cfg.Metrics.Enable {
		opts.MetricsPath = cfg.Metrics.Path
		opts.MetricsHandler = metrics.Handler(reg)
	}
	srv := bridge.New(st, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("connection", connInfo),
		zap.String("addr", cfg.Bridge.Addr),
		zap.Duration("poll_interval", cfg.Device.PollInterval))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.ListenAndServe()
	}()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-loopErr:
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("bridge: %w", err)
		}
		// the loop owns the port; let it close cleanly
		st.External().Quit()
		if err := <-loopErr; err != nil && runErr == nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("bridge shutdown", zap.Error(err))
	}

	stats := loop.Stats()
	logger.Info("stopped", zap.String("statistics", stats.String()))
	return runErr
}
