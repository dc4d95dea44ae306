// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package asdf implements the ASDF command/response protocol spoken by the
// throttle quadrant firmware.
//
// A frame is a single code byte followed by up to eight data bytes. There is
// no length prefix and no framing: the data length is fixed by the code, and
// exactly one response frame follows every command except RESET, whose
// acknowledgement arrives after the device reboots.
package asdf

import "time"

// Command codes (host -> device)
const (
	CmdReset        = 0x80
	CmdPoll         = 0x81
	CmdLeverSetBase = 0x82 // lever mask in bits 6..4
	CmdLeverRelease = 0x83
	CmdDebugEcho    = 0xFF
)

// Lever mask field of CmdLeverSetBase
const (
	leverMaskShift = 4
	leverMaskField = 0x70
)

// Response codes (device -> host)
const (
	RespAck               = 0x00
	RespResetAck          = 0x01
	RespPollOK            = 0x02
	RespLeverReleasePilot = 0x03 // pilot overrode a locked lever
	RespLeverReleaseResp  = 0x83
	RespError             = 0xFF
)

// Frame size limits
const (
	MaxDataSize  = 8
	MaxFrameSize = 1 + MaxDataSize
	PollDataSize = 4
)

// Lever byte range
const (
	LeverMax       = 127
	leverValueMask = 0x7F // top bit reserved
)

// Timing
const (
	// MaxDeviceResetTime is the longest the firmware takes to reboot after
	// CmdReset before the port can be reopened.
	MaxDeviceResetTime = 3000 * time.Millisecond
)
