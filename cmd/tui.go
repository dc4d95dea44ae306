// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// eventLogEntry represents a logged event
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// appendEvent adds an entry, keeping at most max entries
func appendEvent(log []eventLogEntry, max int, message string, isError bool) []eventLogEntry {
	log = append(log, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(log) > max {
		log = log[len(log)-max:]
	}
	return log
}

// renderEventLog renders the newest entries that fit in height lines
func renderEventLog(log []eventLogEntry, height int) string {
	if height < 3 {
		height = 3
	}
	if len(log) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	startIdx := len(log) - height
	if startIdx < 0 {
		startIdx = 0
	}

	var s strings.Builder
	for i := startIdx; i < len(log); i++ {
		entry := log[i]
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			s.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				errorStyle.Render("✗ "+entry.message),
			))
		} else {
			s.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				warningStyle.Render("ℹ "+entry.message),
			))
		}
	}
	return strings.TrimSuffix(s.String(), "\n")
}

// formatUptime formats a duration as "1d 2h 3m 4s"
func formatUptime(d time.Duration) string {
	totalSeconds := int64(d / time.Second)

	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// onOff renders a boolean indicator
func onOff(on bool, label string) string {
	if on {
		return valueStyle.Render("[" + label + "]")
	}
	return headerStyle.Render(" " + label + " ")
}
