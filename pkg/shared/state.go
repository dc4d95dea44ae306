// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package shared holds the state exchanged between the device control loop
// and the external side (bridge, TUI).
//
// Every field is individually atomic and has a single writer:
//
//	speed brake, buttons       device
//	throttle levels            device while A/T is disengaged, external while engaged
//	autothrottle engaged, quit external
//
// The two writer views, Device and External, only expose the setters their
// side owns. There is no cross-field consistency: a reader may see throttle 1
// from this tick and throttle 2 from the previous one.
package shared

import (
	"math"
	"sync/atomic"

	"github.com/Thermoquad/quadrant/pkg/asdf"
)

// ThrottleCount is the number of throttle levers
const ThrottleCount = 2

type percent struct {
	bits atomic.Uint64
}

func (p *percent) Load() float64 {
	return math.Float64frombits(p.bits.Load())
}

func (p *percent) Store(v float64) {
	p.bits.Store(math.Float64bits(v))
}

// State is created once at startup with zero values and lives for the
// process lifetime
type State struct {
	speedBrake percent
	throttle   [ThrottleCount]percent
	buttons    [asdf.ButtonCount]atomic.Bool
	engaged    atomic.Bool
	quit       atomic.Bool
}

// New returns a zeroed state
func New() *State {
	return &State{}
}

// SpeedBrake returns the speed brake position in percent
func (s *State) SpeedBrake() float64 {
	return s.speedBrake.Load()
}

// Throttle returns throttle lever i (0 or 1) in percent
func (s *State) Throttle(i int) float64 {
	return s.throttle[i].Load()
}

// Throttles returns both throttle levels
func (s *State) Throttles() [ThrottleCount]float64 {
	return [ThrottleCount]float64{s.throttle[0].Load(), s.throttle[1].Load()}
}

// Button returns the last polled state of button b
func (s *State) Button(b asdf.Button) bool {
	return s.buttons[b].Load()
}

// Engaged reports whether the autothrottle owns the throttle levels
func (s *State) Engaged() bool {
	return s.engaged.Load()
}

// Quit reports whether termination was requested
func (s *State) Quit() bool {
	return s.quit.Load()
}

// Snapshot is a field-by-field copy of State
type Snapshot struct {
	SpeedBrake float64                `json:"speed_brake"`
	Throttle   [ThrottleCount]float64 `json:"throttle_level"`
	Buttons    [asdf.ButtonCount]bool `json:"button_status"`
	Engaged    bool                   `json:"autothrottle_engaged"`
	Quit       bool                   `json:"quit"`
}

// Snapshot copies every field. Fields are read one at a time.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		SpeedBrake: s.SpeedBrake(),
		Throttle:   s.Throttles(),
		Engaged:    s.Engaged(),
		Quit:       s.Quit(),
	}
	for b := range snap.Buttons {
		snap.Buttons[b] = s.buttons[b].Load()
	}
	return snap
}

// Device returns the writer view for the device control loop
func (s *State) Device() DeviceWriter {
	return DeviceWriter{s: s}
}

// External returns the writer view for the external side
func (s *State) External() ExternalWriter {
	return ExternalWriter{s: s}
}

// DeviceWriter writes the device-owned fields
type DeviceWriter struct {
	s *State
}

// SetSpeedBrake stores the polled speed brake position
func (w DeviceWriter) SetSpeedBrake(p float64) {
	w.s.speedBrake.Store(p)
}

// SetButtons stores both polled buttons
func (w DeviceWriter) SetButtons(p asdf.PollResult) {
	for b := range w.s.buttons {
		w.s.buttons[b].Store(p.Button(asdf.Button(b)))
	}
}

// SetThrottles stores the polled throttle levels. Returns false without
// writing when the autothrottle is engaged. The check and the stores are not
// one atomic step, so an engage landing between them can still be
// overwritten by this tick's levels; the next poll then yields to the
// external side.
func (w DeviceWriter) SetThrottles(levels [ThrottleCount]float64) bool {
	if w.s.engaged.Load() {
		return false
	}
	for i, v := range levels {
		w.s.throttle[i].Store(v)
	}
	return true
}

// ExternalWriter writes the externally owned fields
type ExternalWriter struct {
	s *State
}

// SetEngaged engages or disengages the autothrottle. Engaging hands the
// throttle levels to the external side.
func (w ExternalWriter) SetEngaged(engaged bool) {
	w.s.engaged.Store(engaged)
}

// SetThrottle sets target throttle i in percent, clamped to [0,100].
// Returns false and writes nothing while the autothrottle is disengaged.
func (w ExternalWriter) SetThrottle(i int, p float64) bool {
	if !w.s.engaged.Load() {
		return false
	}
	w.s.throttle[i].Store(clamp(p))
	return true
}

// SetThrottles sets both throttle targets, see SetThrottle
func (w ExternalWriter) SetThrottles(levels [ThrottleCount]float64) bool {
	if !w.s.engaged.Load() {
		return false
	}
	for i, v := range levels {
		w.s.throttle[i].Store(clamp(v))
	}
	return true
}

// Quit asks the device loop to stop at its next iteration
func (w ExternalWriter) Quit() {
	w.s.quit.Store(true)
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
