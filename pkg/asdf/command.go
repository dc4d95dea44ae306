// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import (
	"fmt"
	"math/bits"
)

// Lever identifies one physical lever. The order matches the POLL_OK payload
// and the LEVER_SET data order.
type Lever int

const (
	LeverSpeedBrake Lever = iota
	LeverThrottle1
	LeverThrottle2

	LeverCount = 3
)

// LeverMask selects levers for LEVER_SET: bit 2 = speed brake, bit 1 =
// throttle 1, bit 0 = throttle 2.
type LeverMask uint8

const (
	MaskThrottle2  LeverMask = 1 << 0
	MaskThrottle1  LeverMask = 1 << 1
	MaskSpeedBrake LeverMask = 1 << 2

	MaskThrottles = MaskThrottle1 | MaskThrottle2
	MaskAll       = MaskSpeedBrake | MaskThrottles
)

// Count returns the number of selected levers
func (m LeverMask) Count() int {
	return bits.OnesCount8(uint8(m & MaskAll))
}

// Has reports whether lever l is selected
func (m LeverMask) Has(l Lever) bool {
	switch l {
	case LeverSpeedBrake:
		return m&MaskSpeedBrake != 0
	case LeverThrottle1:
		return m&MaskThrottle1 != 0
	case LeverThrottle2:
		return m&MaskThrottle2 != 0
	}
	return false
}

// Levers returns the selected levers in wire order
func (m LeverMask) Levers() []Lever {
	levers := make([]Lever, 0, LeverCount)
	for l := LeverSpeedBrake; l < LeverCount; l++ {
		if m.Has(l) {
			levers = append(levers, l)
		}
	}
	return levers
}

// LeverSetCode returns the LEVER_SET command byte for mask m
func LeverSetCode(m LeverMask) byte {
	return CmdLeverSetBase | (byte(m)<<leverMaskShift)&leverMaskField
}

// IsLeverSetCode reports whether code is one of the eight LEVER_SET codes
func IsLeverSetCode(code byte) bool {
	return code&^leverMaskField == CmdLeverSetBase
}

// MaskFromCode extracts the lever mask from a LEVER_SET code
func MaskFromCode(code byte) LeverMask {
	return LeverMask((code & leverMaskField) >> leverMaskShift)
}

// Kind enumerates the command set
type Kind int

const (
	KindReset Kind = iota
	KindPoll
	KindLeverRelease
	KindLeverSet
	KindDebugEcho
)

// Command is one host request. Build it with the New* constructors.
type Command struct {
	kind Kind
	mask LeverMask
	data []byte
}

// NewReset creates a RESET command (0x80)
func NewReset() Command {
	return Command{kind: KindReset}
}

// NewPoll creates a POLL command (0x81).
// The device answers POLL_OK with buttons and the three lever bytes.
func NewPoll() Command {
	return Command{kind: KindPoll}
}

// NewLeverRelease creates a LEVER_RELEASE command (0x83).
// Unlocks every lever so the pilot can move it again.
func NewLeverRelease() Command {
	return Command{kind: KindLeverRelease}
}

// NewDebugEcho creates a DEBUG_ECHO command (0xFF), acknowledged with ACK
func NewDebugEcho() Command {
	return Command{kind: KindDebugEcho}
}

// NewLeverSet creates a LEVER_SET command that drives the levers selected by
// mask to the given byte positions.
// values holds one entry per selected lever in wire order (speed brake,
// throttle 1, throttle 2); extra values are ignored. Each value is masked to
// seven bits.
func NewLeverSet(mask LeverMask, values ...byte) (Command, error) {
	if mask&^MaskAll != 0 {
		return Command{}, fmt.Errorf("%w: 0b%b", ErrInvalidMask, uint8(mask))
	}
	n := mask.Count()
	if len(values) < n {
		return Command{}, fmt.Errorf("%w: mask %s needs %d, got %d", ErrMissingLeverValues, FormatMask(mask), n, len(values))
	}
	data := make([]byte, n)
	for i := 0; i < n; i++ {
		data[i] = values[i] & leverValueMask
	}
	return Command{kind: KindLeverSet, mask: mask, data: data}, nil
}

// Kind returns the command kind
func (c Command) Kind() Kind {
	return c.kind
}

// Mask returns the lever mask (LEVER_SET only)
func (c Command) Mask() LeverMask {
	return c.mask
}

// Code returns the wire command byte
func (c Command) Code() byte {
	switch c.kind {
	case KindReset:
		return CmdReset
	case KindPoll:
		return CmdPoll
	case KindLeverRelease:
		return CmdLeverRelease
	case KindLeverSet:
		return LeverSetCode(c.mask)
	default:
		return CmdDebugEcho
	}
}

// Data returns the payload bytes
func (c Command) Data() []byte {
	return c.data
}

// Expect returns the response code and data length the device answers with
func (c Command) Expect() (code byte, length int) {
	switch c.kind {
	case KindReset:
		return RespResetAck, 0
	case KindPoll:
		return RespPollOK, PollDataSize
	case KindLeverRelease:
		return RespLeverReleaseResp, 0
	default:
		return RespAck, 0
	}
}

func (c Command) String() string {
	if c.kind == KindLeverSet {
		return fmt.Sprintf("%s %v", FormatCommandCode(c.Code()), c.data)
	}
	return FormatCommandCode(c.Code())
}
