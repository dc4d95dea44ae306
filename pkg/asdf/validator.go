// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import "fmt"

// AnomalyType represents different types of response anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyLeverRange
	AnomalyUnknownButtons
)

// ValidationError represents a suspicious but accepted response
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateResponse reports anomalies in a decoded response.
// Returns an empty slice when nothing looks wrong.
func ValidateResponse(r *Response) []ValidationError {
	errors := []ValidationError{}

	if w := r.Warning(); w != nil {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: w.Error(),
			Details: map[string]interface{}{"received": len(r.Data), "expected": r.Expected},
		})
	}

	if r.Code == RespPollOK {
		if p, err := ParsePoll(r); err == nil {
			errors = append(errors, ValidatePoll(p)...)
		}
	}

	return errors
}

// ValidatePoll checks lever bytes and the button bitmap
func ValidatePoll(p PollResult) []ValidationError {
	errors := []ValidationError{}

	for l, v := range p.Levers {
		if v > LeverMax {
			errors = append(errors, ValidationError{
				Type:    AnomalyLeverRange,
				Message: fmt.Sprintf("%s lever byte=%d (max %d)", FormatLever(Lever(l)), v, LeverMax),
				Details: map[string]interface{}{"lever": FormatLever(Lever(l)), "value": v, "max": LeverMax},
			})
		}
	}

	if unknown := p.Buttons &^ knownButtonsBitmap; unknown != 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownButtons,
			Message: fmt.Sprintf("unknown button bits 0b%08b", unknown),
			Details: map[string]interface{}{"bits": unknown},
		})
	}

	return errors
}
