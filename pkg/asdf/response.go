// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import "fmt"

// Button is a bit index in the POLL_OK button bitmap
type Button int

const (
	ButtonTOGA         Button = 0 // takeoff/go-around
	ButtonATDisengage  Button = 1 // autothrottle disengage request
	ButtonCount               = 2
	knownButtonsBitmap        = 1<<ButtonCount - 1
)

// Response is one decoded device response
type Response struct {
	Code byte
	Data []byte

	// Expected data length for this response code
	Expected int
}

// Warning returns a *LengthMismatchError when the data length differs from
// the expected length, nil otherwise. It never makes the response invalid.
func (r *Response) Warning() error {
	if len(r.Data) == r.Expected {
		return nil
	}
	return &LengthMismatchError{Code: r.Code, Expected: r.Expected, Got: len(r.Data)}
}

func (r *Response) String() string {
	return fmt.Sprintf("%s (0x%02X) data=[%s]", FormatResponseCode(r.Code), r.Code, FormatFrame(r.Data))
}

// PollResult is the unpacked POLL_OK payload
type PollResult struct {
	Buttons byte
	Levers  [LeverCount]byte // speed brake, throttle 1, throttle 2

	// Received is the number of payload bytes that arrived, at most
	// PollDataSize
	Received int
}

// ParsePoll unpacks a POLL_OK response. Missing trailing bytes (a short
// frame) read as zero; Received tells them apart from real zeros.
func ParsePoll(r *Response) (PollResult, error) {
	if r.Code != RespPollOK {
		return PollResult{}, &CodeMismatchError{Expected: RespPollOK, Got: r.Code}
	}
	var data [PollDataSize]byte
	n := copy(data[:], r.Data)
	return PollResult{
		Buttons:  data[0],
		Levers:   [LeverCount]byte{data[1], data[2], data[3]},
		Received: n,
	}, nil
}

// HasButtons reports whether the button bitmap arrived
func (p PollResult) HasButtons() bool {
	return p.Received > 0
}

// HasLever reports whether the position byte of lever l arrived
func (p PollResult) HasLever(l Lever) bool {
	return p.Received > 1+int(l)
}

// Button reports whether button b is pressed
func (p PollResult) Button(b Button) bool {
	return p.Buttons&(1<<b) != 0
}

// TOGA reports the TOGA button
func (p PollResult) TOGA() bool {
	return p.Button(ButtonTOGA)
}

// ATDisengage reports the autothrottle disengage button
func (p PollResult) ATDisengage() bool {
	return p.Button(ButtonATDisengage)
}

// Percent returns lever l as a percentage
func (p PollResult) Percent(l Lever) float64 {
	return ByteToPercent(p.Levers[l])
}

func (p PollResult) String() string {
	return fmt.Sprintf("buttons=0b%02b sb=%d t1=%d t2=%d",
		p.Buttons, p.Levers[LeverSpeedBrake], p.Levers[LeverThrottle1], p.Levers[LeverThrottle2])
}
