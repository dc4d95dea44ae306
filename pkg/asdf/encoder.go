// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import "fmt"

// Encode encodes a command to wire format: [code, data...]
func Encode(c Command) ([]byte, error) {
	data := c.Data()
	if len(data) > MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLong, len(data), MaxDataSize)
	}
	frame := make([]byte, 0, 1+len(data))
	frame = append(frame, c.Code())
	frame = append(frame, data...)
	return frame, nil
}

// MustEncode encodes a command and panics on error.
// Only use with commands built by the New* constructors.
func MustEncode(c Command) []byte {
	frame, err := Encode(c)
	if err != nil {
		panic(fmt.Sprintf("asdf: encode error: %v", err))
	}
	return frame
}
