// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/devicesim"
	"github.com/Thermoquad/quadrant/pkg/metrics"
	"github.com/Thermoquad/quadrant/pkg/shared"
	"github.com/Thermoquad/quadrant/pkg/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

type harness struct {
	dev   *devicesim.Device
	state *shared.State
	loop  *Loop
	done  chan error
}

func startLoop(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dev:   devicesim.New(transport.Config{Port: "test", ReadTimeout: 20 * time.Millisecond}),
		state: shared.New(),
		done:  make(chan error, 1),
	}
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithResetWait(time.Millisecond),
		WithPollInterval(200 * time.Microsecond),
	}, opts...)
	h.loop = New(h.dev, h.state, opts...)

	go func() { h.done <- h.loop.Run(context.Background()) }()
	t.Cleanup(func() {
		h.state.External().Quit()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("loop did not stop")
		}
	})
	return h
}

// waitPolls blocks until the loop has completed n more polls
func (h *harness) waitPolls(t *testing.T, n uint64) {
	t.Helper()
	target := h.loop.Stats().Polls + n
	require.Eventually(t, func() bool { return h.loop.Stats().Polls >= target }, waitFor, tick)
}

func countFrames(frames [][]byte, frame []byte) int {
	n := 0
	for _, f := range frames {
		if bytes.Equal(f, frame) {
			n++
		}
	}
	return n
}

func TestLoop_InitializeResetsDevice(t *testing.T) {
	h := startLoop(t)
	h.waitPolls(t, 1)

	assert.Equal(t, 1, h.dev.Resets())
	frames := h.dev.Frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, []byte{asdf.CmdReset}, frames[0])
}

func TestLoop_DevicePropagatesWhileDisengaged(t *testing.T) {
	h := startLoop(t)
	h.dev.SetButtons(0b01)
	h.dev.SetLever(asdf.LeverSpeedBrake, 127)
	h.dev.SetLever(asdf.LeverThrottle1, 64)
	h.dev.SetLever(asdf.LeverThrottle2, 127)

	// the first counted poll may have been sent before the inputs moved
	h.waitPolls(t, 3)

	snap := h.state.Snapshot()
	assert.True(t, snap.Buttons[asdf.ButtonTOGA])
	assert.False(t, snap.Buttons[asdf.ButtonATDisengage])
	assert.Equal(t, 100.0, snap.SpeedBrake)
	assert.InDelta(t, 50.4, snap.Throttle[0], 0.05)
	assert.Equal(t, 100.0, snap.Throttle[1])
	assert.Equal(t, [asdf.LeverCount]bool{}, h.dev.Locked())
}

func TestLoop_EngagedOwnershipOver100Polls(t *testing.T) {
	h := startLoop(t)
	h.waitPolls(t, 1)

	ext := h.state.External()
	ext.SetEngaged(true)
	h.waitPolls(t, 2)
	require.True(t, ext.SetThrottles([shared.ThrottleCount]float64{30, 70}))

	target := h.loop.Stats().Polls + 100
	for h.loop.Stats().Polls < target {
		// the pilot fights the levers; none of it may reach the shared state
		h.dev.SetLever(asdf.LeverThrottle1, 127)
		h.dev.SetLever(asdf.LeverThrottle2, 0)
		require.Equal(t, [shared.ThrottleCount]float64{30, 70}, h.state.Throttles())
		time.Sleep(100 * time.Microsecond)
	}

	assert.Equal(t, [shared.ThrottleCount]float64{30, 70}, h.state.Throttles())
	assert.Equal(t, [asdf.LeverCount]bool{false, true, true}, h.dev.Locked())
	pos := h.dev.Positions()
	assert.Equal(t, asdf.PercentToByte(30), pos[asdf.LeverThrottle1])
	assert.Equal(t, asdf.PercentToByte(70), pos[asdf.LeverThrottle2])
	assert.GreaterOrEqual(t, h.loop.Stats().LeverSets, uint64(100))
}

func TestLoop_LockReleaseEdges(t *testing.T) {
	h := startLoop(t)
	h.dev.SetLever(asdf.LeverThrottle1, 20)
	h.waitPolls(t, 1)

	ext := h.state.External()
	ext.SetEngaged(true)
	ext.SetThrottles([shared.ThrottleCount]float64{80, 80})
	require.Eventually(t, func() bool { return h.dev.Locked()[asdf.LeverThrottle1] }, waitFor, tick)
	h.waitPolls(t, 5)

	ext.SetEngaged(false)
	require.Eventually(t, func() bool { return !h.dev.Locked()[asdf.LeverThrottle1] }, waitFor, tick)
	h.waitPolls(t, 5)

	stats := h.loop.Stats()
	assert.Equal(t, uint64(1), stats.Releases, "release is sent once per unlock edge")
	assert.Equal(t, 1, countFrames(h.dev.Frames(), []byte{asdf.CmdLeverRelease}))
	assert.GreaterOrEqual(t, stats.LeverSets, uint64(5))

	// device is the writer again
	assert.InDelta(t, asdf.ByteToPercent(20), h.state.Throttle(0), 1e-9)
}

func TestLoop_RecoversFromFaults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := startLoop(t, WithMetrics(m))
	h.waitPolls(t, 1)

	h.dev.Inject(devicesim.FaultDrop)
	require.Eventually(t, func() bool { return h.dev.Resets() >= 2 }, waitFor, tick)
	h.waitPolls(t, 3)

	h.dev.Inject(devicesim.FaultCorruptCode)
	require.Eventually(t, func() bool { return h.dev.Resets() >= 3 }, waitFor, tick)
	h.waitPolls(t, 3)

	stats := h.loop.Stats()
	assert.Equal(t, uint64(2), stats.PollFailures)
	assert.Equal(t, uint64(3), stats.Resets) // initial reset plus two recoveries
	assert.Zero(t, stats.ResetFailures)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Resets.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("POLL", "error")))
}

func TestLoop_StaleValuesDuringOutage(t *testing.T) {
	h := startLoop(t)
	h.dev.SetLever(asdf.LeverSpeedBrake, 127)
	require.Eventually(t, func() bool { return h.state.SpeedBrake() == 100 }, waitFor, tick)

	h.dev.SetConnected(false)
	require.Eventually(t, func() bool { return h.loop.Stats().ResetFailures > 0 }, waitFor, tick)
	h.dev.SetLever(asdf.LeverSpeedBrake, 0)
	assert.Equal(t, 100.0, h.state.SpeedBrake(), "values persist while the device is unreachable")

	h.dev.SetConnected(true)
	require.Eventually(t, func() bool { return h.state.SpeedBrake() == 0 }, waitFor, tick)
}

func TestLoop_LengthWarningCounted(t *testing.T) {
	h := startLoop(t)
	h.waitPolls(t, 1)

	h.dev.Inject(devicesim.FaultTruncate)
	require.Eventually(t, func() bool { return h.loop.Stats().LengthMismatches == 1 }, waitFor, tick)
	h.waitPolls(t, 2)
	assert.Zero(t, h.loop.Stats().PollFailures)
}

func TestLoop_ShortPollKeepsMissingLevers(t *testing.T) {
	h := startLoop(t, WithPollInterval(150*time.Millisecond))
	h.dev.SetLever(asdf.LeverThrottle1, 127)
	h.dev.SetLever(asdf.LeverThrottle2, 127)
	require.Eventually(t, func() bool {
		return h.state.Throttles() == [shared.ThrottleCount]float64{100, 100}
	}, waitFor, tick)

	// Next POLL_OK loses its throttle 2 byte
	h.dev.Inject(devicesim.FaultTruncate)
	require.Eventually(t, func() bool { return h.loop.Stats().LengthMismatches == 1 }, waitFor, tick)
	assert.Never(t, func() bool {
		return h.state.Throttles() != [shared.ThrottleCount]float64{100, 100}
	}, 100*time.Millisecond, tick, "a short frame must not zero the missing throttle")
}

func TestLoop_QuitStops(t *testing.T) {
	h := startLoop(t)
	h.waitPolls(t, 1)

	h.state.External().Quit()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(waitFor):
		t.Fatal("loop did not observe quit")
	}
	assert.Equal(t, StateStopped, h.loop.State())
	_, err := h.dev.Write([]byte{asdf.CmdPoll})
	assert.ErrorIs(t, err, transport.ErrUnavailable, "transport closed on stop")
}

func TestLoop_ContextCancelStops(t *testing.T) {
	dev := devicesim.New(transport.Config{ReadTimeout: 20 * time.Millisecond})
	loop := New(dev, shared.New(), WithResetWait(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return loop.Stats().Polls > 0 }, waitFor, tick)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("loop did not observe cancellation")
	}
}

func TestLoop_InitFailureIsFatal(t *testing.T) {
	dev := devicesim.New(transport.Config{ReadTimeout: 20 * time.Millisecond})
	dev.SetConnected(false)
	st := shared.New()
	loop := New(dev, st, WithLogger(zaptest.NewLogger(t)), WithResetWait(time.Millisecond))

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.False(t, st.Quit(), "quit belongs to the external side")
	assert.Equal(t, StateStopped, loop.State())
	select {
	case <-loop.Done():
	default:
		t.Fatal("Done not closed after failed initialization")
	}
	assert.Zero(t, loop.Stats().Polls)
}

func TestLoop_InitResetWithoutAckIsFatal(t *testing.T) {
	dev := devicesim.New(transport.Config{ReadTimeout: 20 * time.Millisecond})
	dev.Inject(devicesim.FaultDrop)
	loop := New(dev, shared.New(), WithResetWait(time.Millisecond))

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, asdf.ErrEmptyResponse)
	assert.Equal(t, uint64(1), loop.Stats().ResetFailures)
}

func TestStatistics_String(t *testing.T) {
	s := NewStatistics()
	s.Update(asdf.KindPoll, nil)
	s.Update(asdf.KindPoll, assert.AnError)
	s.Update(asdf.KindReset, nil)
	s.UpdateValidation([]asdf.ValidationError{{Type: asdf.AnomalyLeverRange}})

	out := s.String()
	assert.Regexp(t, `Polls:\s+2\n`, out)
	assert.Regexp(t, `Poll Failures:\s+1 \(50\.0%\)`, out)
	assert.Contains(t, out, "Lever > 127:")
	assert.Equal(t, uint64(1), s.Failures())

	s.Reset()
	assert.Zero(t, s.Polls)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ResetRecovering", StateResetRecovering.String())
	assert.Equal(t, "State(42)", State(42).String())
}
