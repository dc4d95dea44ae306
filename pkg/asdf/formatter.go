// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import (
	"fmt"
	"strings"
)

// FormatCommandCode returns the human-readable name for a command code
func FormatCommandCode(code byte) string {
	switch {
	case code == CmdReset:
		return "RESET"
	case code == CmdPoll:
		return "POLL"
	case code == CmdLeverRelease:
		return "LEVER_RELEASE"
	case code == CmdDebugEcho:
		return "DEBUG_ECHO"
	case IsLeverSetCode(code):
		return fmt.Sprintf("LEVER_SET[%s]", FormatMask(MaskFromCode(code)))
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", code)
	}
}

// FormatResponseCode returns the human-readable name for a response code
func FormatResponseCode(code byte) string {
	switch code {
	case RespAck:
		return "ACK"
	case RespResetAck:
		return "RESET_ACK"
	case RespPollOK:
		return "POLL_OK"
	case RespLeverReleasePilot:
		return "LEVER_RELEASE_PILOT"
	case RespLeverReleaseResp:
		return "LEVER_RELEASE_RESP"
	case RespError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", code)
	}
}

// FormatMask returns the selected levers joined by '|', or NONE
func FormatMask(m LeverMask) string {
	names := make([]string, 0, LeverCount)
	for _, l := range m.Levers() {
		names = append(names, FormatLever(l))
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// FormatLever returns the short name of a lever
func FormatLever(l Lever) string {
	switch l {
	case LeverSpeedBrake:
		return "SB"
	case LeverThrottle1:
		return "T1"
	case LeverThrottle2:
		return "T2"
	default:
		return "?"
	}
}

// FormatFrame returns bytes as space-separated upper-case hex
func FormatFrame(b []byte) string {
	var s strings.Builder
	for i, c := range b {
		if i > 0 {
			s.WriteByte(' ')
		}
		fmt.Fprintf(&s, "%02X", c)
	}
	return s.String()
}

// FormatPoll formats a poll result with lever percentages
func FormatPoll(p PollResult) string {
	return fmt.Sprintf("TOGA=%t A/T-DISC=%t SB=%5.1f%% T1=%5.1f%% T2=%5.1f%%",
		p.TOGA(), p.ATDisengage(),
		p.Percent(LeverSpeedBrake), p.Percent(LeverThrottle1), p.Percent(LeverThrottle2))
}
