// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import (
	"errors"
	"fmt"
)

var (
	// ErrShortWrite indicates the transport accepted fewer bytes than the frame.
	ErrShortWrite = errors.New("short write")
	// ErrEmptyResponse indicates no response byte arrived.
	ErrEmptyResponse = errors.New("empty response")
	// ErrResponseCodeMismatch indicates the response code was not the one the
	// command expects. Always carried by a *CodeMismatchError.
	ErrResponseCodeMismatch = errors.New("response code mismatch")
	// ErrLengthMismatch is a soft failure: the response arrived with a
	// different data length than expected. Reported by Response.Warning.
	ErrLengthMismatch = errors.New("response length mismatch")
	// ErrFrameTooLong indicates more than MaxDataSize data bytes.
	ErrFrameTooLong = errors.New("frame data too long")
	// ErrInvalidMask indicates a LEVER_SET mask with bits outside 0b111.
	ErrInvalidMask = errors.New("invalid lever mask")
	// ErrMissingLeverValues indicates fewer values than selected levers.
	ErrMissingLeverValues = errors.New("missing lever values")
)

// CodeMismatchError reports an unexpected response code
type CodeMismatchError struct {
	Expected byte
	Got      byte
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("received wrong response code: expected %s (0x%02X), received %s (0x%02X)",
		FormatResponseCode(e.Expected), e.Expected, FormatResponseCode(e.Got), e.Got)
}

// Is matches ErrResponseCodeMismatch
func (e *CodeMismatchError) Is(target error) bool {
	return target == ErrResponseCodeMismatch
}

// LengthMismatchError reports a response whose data length differs from the
// expected length
type LengthMismatchError struct {
	Code     byte
	Expected int
	Got      int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("%s read size mismatch: expected %d, received %d",
		FormatResponseCode(e.Code), e.Expected, e.Got)
}

// Is matches ErrLengthMismatch
func (e *LengthMismatchError) Is(target error) bool {
	return target == ErrLengthMismatch
}
