// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package control runs the device side of the quadrant: it polls the device,
// publishes what it reads into the shared state, and drives or releases the
// throttle levers according to the autothrottle flag.
//
// Any protocol fault makes the loop close, reboot and reconnect the device and
// carry on; only a failure during initialization ends it.
package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/metrics"
	"github.com/Thermoquad/quadrant/pkg/shared"
	"github.com/Thermoquad/quadrant/pkg/transport"
)

// State is the loop state
type State int32

const (
	StateInitializing State = iota
	StatePolling
	StateLeverLocked
	StateLeverReleased
	StateResetRecovering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StatePolling:
		return "Polling"
	case StateLeverLocked:
		return "LeverLocked"
	case StateLeverReleased:
		return "LeverReleased"
	case StateResetRecovering:
		return "ResetRecovering"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Loop
type Option func(*Loop)

// WithLogger sets the loop logger
func WithLogger(l *zap.Logger) Option {
	return func(loop *Loop) {
		if l != nil {
			loop.baseLogger = l
		}
	}
}

// WithMetrics records command and state metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(loop *Loop) {
		loop.metrics = m
	}
}

// WithResetWait sets how long the loop waits for the device to reboot
func WithResetWait(d time.Duration) Option {
	return func(loop *Loop) {
		loop.resetWait = d
	}
}

// WithPollInterval paces the loop to at most one iteration per d.
// Zero runs iterations back to back.
func WithPollInterval(d time.Duration) Option {
	return func(loop *Loop) {
		if d > 0 {
			loop.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			loop.limiter = nil
		}
	}
}

// Loop is the device control loop. It exclusively owns its transport.
type Loop struct {
	t          transport.Transport
	client     *asdf.Client
	shared     *shared.State
	device     shared.DeviceWriter
	baseLogger *zap.Logger
	logger     *zap.Logger
	metrics    *metrics.Metrics
	resetWait  time.Duration
	limiter    *rate.Limiter

	state  atomic.Int32
	locked bool
	done   chan struct{}

	statsMu sync.Mutex
	stats   *Statistics
}

// New creates a loop for the device behind t. The transport is opened by Run.
func New(t transport.Transport, st *shared.State, opts ...Option) *Loop {
	l := &Loop{
		t:          t,
		shared:     st,
		device:     st.Device(),
		baseLogger: zap.NewNop(),
		resetWait:  asdf.MaxDeviceResetTime,
		stats:      NewStatistics(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.baseLogger.Named("control")
	l.client = asdf.NewClient(t,
		asdf.WithLogger(l.baseLogger),
		asdf.WithResetWait(l.resetWait),
		asdf.WithWarningHandler(l.onWarning),
	)
	return l
}

// State returns the current loop state
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a copy of the loop statistics with rates calculated
func (l *Loop) Stats() Statistics {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	s := *l.stats
	s.CalculateRates()
	return s
}

// Client returns the command client used by the loop
func (l *Loop) Client() *asdf.Client {
	return l.client
}

// Done is closed when Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run initializes the device and loops until quit is set in the shared state
// or ctx is done. It returns an error only when initialization fails; the
// loop is then Stopped and Done is closed. Run must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	l.setState(StateInitializing)
	if err := l.initialize(ctx); err != nil {
		l.logger.Error("initialization failed", zap.Stringer("transport", l.t), zap.Error(err))
		_ = l.t.Close()
		l.setState(StateStopped)
		return fmt.Errorf("initialize: %w", err)
	}
	l.logger.Info("device loop initialized", zap.Stringer("transport", l.t))

	defer func() {
		_ = l.t.Close()
		l.setState(StateStopped)
		l.logger.Info("device loop stopped")
	}()

	for !l.shared.Quit() && ctx.Err() == nil {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		if err := l.step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.recover(ctx, err)
		}
	}
	return nil
}

func (l *Loop) initialize(ctx context.Context) error {
	if err := l.t.Open(ctx); err != nil {
		return err
	}
	if err := l.t.FlushReceive(); err != nil {
		return fmt.Errorf("flush receive buffer: %w", err)
	}
	l.logger.Debug("receive buffer flushed")

	err := l.client.Reset(ctx)
	l.record(asdf.KindReset, err)
	return err
}

// step runs one iteration: poll, publish, then lock or release the throttles
func (l *Loop) step(ctx context.Context) error {
	l.setState(StatePolling)

	start := time.Now()
	p, err := l.client.Poll(ctx)
	l.observe(asdf.KindPoll, "POLL", start, err)
	if err != nil {
		l.logger.Warn("poll failed", zap.Error(err))
		return err
	}
	l.logger.Debug("poll", zap.Stringer("result", p))

	if anomalies := asdf.ValidatePoll(p); len(anomalies) > 0 {
		l.statsMu.Lock()
		l.stats.UpdateValidation(anomalies)
		l.statsMu.Unlock()
		for _, a := range anomalies {
			l.metrics.ObserveAnomaly(anomalyLabel(a.Type))
			l.logger.Debug("poll anomaly", zap.String("detail", a.Message))
		}
	}

	// Bytes missing from a short frame keep their last published value
	if p.HasButtons() {
		l.device.SetButtons(p)
	}
	if p.HasLever(asdf.LeverSpeedBrake) {
		l.device.SetSpeedBrake(p.Percent(asdf.LeverSpeedBrake))
	}

	if l.shared.Engaged() {
		return l.lock(ctx)
	}
	return l.release(ctx, p)
}

func (l *Loop) lock(ctx context.Context) error {
	l.setState(StateLeverLocked)

	targets := l.shared.Throttles()
	start := time.Now()
	err := l.client.LeverSet(ctx, asdf.MaskThrottles,
		asdf.PercentToByte(targets[0]), asdf.PercentToByte(targets[1]))
	l.observe(asdf.KindLeverSet, "LEVER_SET", start, err)
	if err != nil {
		l.logger.Warn("lever set failed", zap.Error(err))
		return err
	}

	if !l.locked {
		l.locked = true
		l.metrics.SetLeverLocked(true)
		l.logger.Info("lever locked", zap.Float64s("throttle", targets[:]))
	}
	return nil
}

func (l *Loop) release(ctx context.Context, p asdf.PollResult) error {
	l.setState(StateLeverReleased)

	if l.locked {
		start := time.Now()
		err := l.client.LeverRelease(ctx)
		l.observe(asdf.KindLeverRelease, "LEVER_RELEASE", start, err)
		if err != nil {
			l.logger.Warn("lever release failed", zap.Error(err))
			return err
		}
		l.locked = false
		l.metrics.SetLeverLocked(false)
		l.logger.Info("lever released")
	}

	if !p.HasLever(asdf.LeverThrottle1) || !p.HasLever(asdf.LeverThrottle2) {
		l.logger.Debug("short poll, throttles not published", zap.Int("received", p.Received))
		return nil
	}
	l.device.SetThrottles([shared.ThrottleCount]float64{
		p.Percent(asdf.LeverThrottle1),
		p.Percent(asdf.LeverThrottle2),
	})
	return nil
}

// recover reboots and reconnects the device. A failed recovery is not fatal;
// the next poll fails and triggers another one.
func (l *Loop) recover(ctx context.Context, cause error) {
	l.setState(StateResetRecovering)
	l.logger.Warn("resetting device", zap.Error(cause))

	err := l.client.Recover(ctx)
	l.record(asdf.KindReset, err)
	l.metrics.ObserveReset(err)
	if err != nil {
		l.logger.Warn("device reset failed", zap.Error(err))
		return
	}
	l.logger.Info("device reset complete")
}

func (l *Loop) onWarning(cmd asdf.Command, _ *asdf.Response, _ error) {
	l.statsMu.Lock()
	l.stats.LengthMismatches++
	l.statsMu.Unlock()
	l.metrics.ObserveLengthWarning()
}

func (l *Loop) observe(kind asdf.Kind, name string, start time.Time, err error) {
	l.metrics.ObserveCommand(name, time.Since(start), err)
	l.record(kind, err)
}

func (l *Loop) record(kind asdf.Kind, err error) {
	l.statsMu.Lock()
	l.stats.Update(kind, err)
	l.statsMu.Unlock()
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.metrics.SetLoopState(int(s))
	}
}

func anomalyLabel(t asdf.AnomalyType) string {
	switch t {
	case asdf.AnomalyLengthMismatch:
		return "length_mismatch"
	case asdf.AnomalyLeverRange:
		return "lever_range"
	case asdf.AnomalyUnknownButtons:
		return "unknown_buttons"
	default:
		return "other"
	}
}
