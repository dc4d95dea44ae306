// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import "fmt"

// Decode decodes a received frame.
//
// It fails with ErrEmptyResponse when raw is empty and with a
// *CodeMismatchError when raw[0] is not expectedCode. A data length other
// than expectedLength is not an error; the response keeps whatever arrived
// and Response.Warning reports the difference.
func Decode(expectedCode byte, expectedLength int, raw []byte) (*Response, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyResponse
	}
	if raw[0] != expectedCode {
		return nil, &CodeMismatchError{Expected: expectedCode, Got: raw[0]}
	}
	if len(raw)-1 > MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLong, len(raw)-1, MaxDataSize)
	}

	data := make([]byte, len(raw)-1)
	copy(data, raw[1:])

	return &Response{
		Code:     raw[0],
		Data:     data,
		Expected: expectedLength,
	}, nil
}
