// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/control"
	"github.com/Thermoquad/quadrant/pkg/devicesim"
	"github.com/Thermoquad/quadrant/pkg/shared"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	monitorRefresh   = 100 * time.Millisecond
	maxMonitorEvents = 100
	nudgeStep        = 1.0 // percent per +/- press
	simLeverStep     = 5   // lever bytes per simulator key press
)

var errTargetSyntax = errors.New("expected one or two percentages, e.g. \"42\" or \"40 45\"")

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// monitorModel is the Bubble Tea model for the monitor TUI. It acts as the
// autothrottle side of the shared state.
type monitorModel struct {
	loop     *control.Loop
	state    *shared.State
	external shared.ExternalWriter
	sim      *devicesim.Device
	connInfo string
	started  time.Time

	// Latest view of the loop
	snap      shared.Snapshot
	stats     control.Statistics
	loopState control.State

	// Simulator button bitmap
	simButtons byte

	targetInput  textinput.Model
	inputFocused bool
	bar          progress.Model

	events   []eventLogEntry
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func newMonitorModel(loop *control.Loop, st *shared.State, sim *devicesim.Device, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "40 45"
	ti.CharLimit = 16
	ti.Width = 16
	ti.Prompt = "Targets % > "

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40), progress.WithoutPercentage())

	return monitorModel{
		loop:        loop,
		state:       st,
		external:    st.External(),
		sim:         sim,
		connInfo:    connInfo,
		started:     time.Now(),
		loopState:   loop.State(),
		targetInput: ti,
		bar:         bar,
		events:      make([]eventLogEntry, 0, maxMonitorEvents),
		width:       80,
		height:      24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorRefresh, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		barWidth := m.width - 30
		if barWidth > 60 {
			barWidth = 60
		}
		if barWidth < 10 {
			barWidth = 10
		}
		m.bar.Width = barWidth

	case monitorTickMsg:
		m.refresh()
		if m.state.Quit() || m.loopDone() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, monitorTickCmd()
	}

	return m, nil
}

func (m monitorModel) loopDone() bool {
	select {
	case <-m.loop.Done():
		return true
	default:
		return false
	}
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.inputFocused {
		switch msg.String() {
		case "ctrl+c":
			return m.quit()
		case "esc":
			m.blurInput()
			return m, nil
		case "enter":
			m.applyTargets(m.targetInput.Value())
			m.blurInput()
			return m, nil
		}
		var cmd tea.Cmd
		m.targetInput, cmd = m.targetInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m.quit()
	case "e":
		m.toggleEngaged()
	case "i", "enter":
		m.inputFocused = true
		return m, m.targetInput.Focus()
	case "+", "=":
		m.nudge(nudgeStep)
	case "-", "_":
		m.nudge(-nudgeStep)
	default:
		if m.sim != nil {
			m.handleSimKey(msg.String())
		}
	}
	return m, nil
}

// handleSimKey moves the simulated levers and buttons the way a pilot would
func (m *monitorModel) handleSimKey(key string) {
	switch key {
	case "a":
		m.moveSimLever(asdf.LeverThrottle1, simLeverStep)
	case "z":
		m.moveSimLever(asdf.LeverThrottle1, -simLeverStep)
	case "s":
		m.moveSimLever(asdf.LeverThrottle2, simLeverStep)
	case "x":
		m.moveSimLever(asdf.LeverThrottle2, -simLeverStep)
	case "d":
		m.moveSimLever(asdf.LeverSpeedBrake, simLeverStep)
	case "c":
		m.moveSimLever(asdf.LeverSpeedBrake, -simLeverStep)
	case "1":
		m.toggleSimButton(asdf.ButtonTOGA)
	case "2":
		m.toggleSimButton(asdf.ButtonATDisengage)
	}
}

func (m *monitorModel) moveSimLever(l asdf.Lever, delta int) {
	v := int(m.sim.Positions()[l]) + delta
	if v < 0 {
		v = 0
	}
	if v > asdf.LeverMax {
		v = asdf.LeverMax
	}
	m.sim.SetLever(l, byte(v))
}

func (m *monitorModel) toggleSimButton(b asdf.Button) {
	m.simButtons ^= 1 << b
	m.sim.SetButtons(m.simButtons)
}

func (m *monitorModel) blurInput() {
	m.inputFocused = false
	m.targetInput.Blur()
	m.targetInput.SetValue("")
}

func (m monitorModel) quit() (tea.Model, tea.Cmd) {
	m.external.Quit()
	m.quitting = true
	return m, tea.Quit
}

func (m *monitorModel) addEvent(message string, isError bool) {
	m.events = appendEvent(m.events, maxMonitorEvents, message, isError)
}

func (m *monitorModel) toggleEngaged() {
	engaged := !m.state.Engaged()
	m.external.SetEngaged(engaged)
	m.snap.Engaged = engaged
	if engaged {
		m.addEvent("Autothrottle engaged", false)
	} else {
		m.addEvent("Autothrottle disengaged", false)
	}
}

func (m *monitorModel) applyTargets(input string) {
	levels, err := parseTargets(input)
	if err != nil {
		m.addEvent(err.Error(), true)
		return
	}
	if !m.external.SetThrottles(levels) {
		m.addEvent("Throttle targets rejected: autothrottle disengaged", true)
		return
	}
	m.addEvent(fmt.Sprintf("Throttle targets T1 %.1f%% T2 %.1f%%", levels[0], levels[1]), false)
}

func (m *monitorModel) nudge(delta float64) {
	levels := m.state.Throttles()
	for i := range levels {
		levels[i] += delta
	}
	if !m.external.SetThrottles(levels) {
		m.addEvent("Throttle targets rejected: autothrottle disengaged", true)
	}
}

// parseTargets reads "p" (both throttles) or "p1 p2"
func parseTargets(input string) ([shared.ThrottleCount]float64, error) {
	var levels [shared.ThrottleCount]float64

	fields := strings.Fields(strings.ReplaceAll(input, "%", ""))
	if len(fields) == 0 || len(fields) > shared.ThrottleCount {
		return levels, errTargetSyntax
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return levels, fmt.Errorf("%w: %v", errTargetSyntax, err)
		}
		levels[i] = v
	}
	if len(fields) == 1 {
		levels[1] = levels[0]
	}
	return levels, nil
}

// refresh pulls the latest shared state and loop statistics and records
// what changed
func (m *monitorModel) refresh() {
	snap := m.state.Snapshot()
	stats := m.loop.Stats()
	loopState := m.loop.State()

	if loopState != m.loopState {
		m.addEvent("Device loop "+loopState.String(), loopState == control.StateResetRecovering)
		m.loopState = loopState
	}
	if f, prev := stats.Failures(), m.stats.Failures(); f > prev {
		m.addEvent(fmt.Sprintf("%d command failure(s)", f-prev), true)
	}
	if stats.LengthMismatches > m.stats.LengthMismatches {
		m.addEvent("Response length mismatch", true)
	}
	if stats.AnomalousValues > m.stats.AnomalousValues {
		m.addEvent("Anomalous poll values", true)
	}

	// The disconnect button hands the throttles back to the pilot
	if snap.Buttons[asdf.ButtonATDisengage] && !m.snap.Buttons[asdf.ButtonATDisengage] && snap.Engaged {
		m.external.SetEngaged(false)
		snap.Engaged = false
		m.addEvent("A/T disconnect pressed, autothrottle disengaged", false)
	}
	if snap.Buttons[asdf.ButtonTOGA] && !m.snap.Buttons[asdf.ButtonTOGA] {
		m.addEvent("TOGA pressed", false)
	}

	m.snap = snap
	m.stats = stats
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("QUADRANT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Loop: %s | Uptime: %s",
		m.connInfo, m.loopState, formatUptime(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Levers
	levers := strings.Builder{}
	levers.WriteString(m.renderLever("Speed Brake", m.snap.SpeedBrake))
	levers.WriteString(m.renderLever("Throttle 1 ", m.snap.Throttle[0]))
	levers.WriteString(m.renderLever("Throttle 2 ", m.snap.Throttle[1]))
	levers.WriteString(fmt.Sprintf("%s %s %s   %s %s",
		labelStyle.Render("Buttons:"),
		onOff(m.snap.Buttons[asdf.ButtonTOGA], "TOGA"),
		onOff(m.snap.Buttons[asdf.ButtonATDisengage], "A/T DISC"),
		labelStyle.Render("Autothrottle:"),
		func() string {
			if m.snap.Engaged {
				return valueStyle.Render("ENGAGED")
			}
			return warningStyle.Render("OFF")
		}(),
	))
	s.WriteString(boxStyle.Render(levers.String()))
	s.WriteString("\n\n")

	// Statistics
	s.WriteString(boxStyle.Render(m.renderStats()))
	s.WriteString("\n\n")

	// Target input
	if m.inputFocused {
		s.WriteString(m.targetInput.View())
		s.WriteString("\n")
	}

	help := "e: engage/disengage | i: set targets | +/-: nudge targets | q: quit"
	if m.sim != nil {
		help += "\nsim: a/z T1 | s/x T2 | d/c speed brake | 1 TOGA | 2 A/T DISC"
	}
	s.WriteString(headerStyle.Render(help))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	logHeight := m.height - 22
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(renderEventLog(m.events, logHeight)))

	return s.String()
}

func (m monitorModel) renderLever(label string, percent float64) string {
	return fmt.Sprintf("%s %s %s\n",
		labelStyle.Render(label),
		m.bar.ViewAs(percent/100),
		valueStyle.Render(fmt.Sprintf("%5.1f%%", percent)),
	)
}

func (m monitorModel) renderStats() string {
	st := m.stats
	var errorPercent float64
	if st.Polls > 0 {
		errorPercent = float64(st.PollFailures) * 100.0 / float64(st.Polls)
	}

	var s strings.Builder
	s.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Polls:"), valueStyle.Render(fmt.Sprintf("%d", st.Polls)),
		labelStyle.Render("Lever Sets:"), valueStyle.Render(fmt.Sprintf("%d", st.LeverSets)),
		labelStyle.Render("Releases:"), valueStyle.Render(fmt.Sprintf("%d", st.Releases)),
	))

	if failures := st.Failures(); failures > 0 || st.Resets > 0 {
		s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("Failures:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%% of polls)", failures, errorPercent)),
			labelStyle.Render("Resets:"), warningStyle.Render(fmt.Sprintf("%d (%d failed)", st.Resets, st.ResetFailures)),
		))
	}
	if st.LengthMismatches > 0 || st.AnomalousValues > 0 {
		s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("Length Mismatch:"), warningStyle.Render(fmt.Sprintf("%d", st.LengthMismatches)),
			labelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousValues)),
		))
	}

	s.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Poll Rate:"), valueStyle.Render(fmt.Sprintf("%.1f polls/s", st.PollRate)),
		labelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return valueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))
	return s.String()
}
