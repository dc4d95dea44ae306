// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"fmt"
	"time"

	"github.com/Thermoquad/quadrant/pkg/asdf"
)

// Statistics tracks command counts and error rates of the device loop
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Polls            uint64
	PollFailures     uint64
	LeverSets        uint64
	LeverSetFailures uint64
	Releases         uint64
	ReleaseFailures  uint64
	Resets           uint64
	ResetFailures    uint64
	LengthMismatches uint64
	AnomalousValues  uint64
	LeverRange       uint64
	UnknownButtons   uint64

	// Rates (calculated)
	PollRate  float64 // polls/sec
	ErrorRate float64 // failures/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one command
func (s *Statistics) Update(kind asdf.Kind, err error) {
	switch kind {
	case asdf.KindPoll:
		s.Polls++
		if err != nil {
			s.PollFailures++
		}
	case asdf.KindLeverSet:
		s.LeverSets++
		if err != nil {
			s.LeverSetFailures++
		}
	case asdf.KindLeverRelease:
		s.Releases++
		if err != nil {
			s.ReleaseFailures++
		}
	case asdf.KindReset:
		s.Resets++
		if err != nil {
			s.ResetFailures++
		}
	}
	s.LastUpdateTime = time.Now()
}

// UpdateValidation records poll anomalies
func (s *Statistics) UpdateValidation(validationErrors []asdf.ValidationError) {
	for _, err := range validationErrors {
		switch err.Type {
		case asdf.AnomalyLengthMismatch:
			s.LengthMismatches++
		case asdf.AnomalyLeverRange:
			s.LeverRange++
			s.AnomalousValues++
		case asdf.AnomalyUnknownButtons:
			s.UnknownButtons++
			s.AnomalousValues++
		}
	}
}

// Failures returns the total number of failed commands
func (s *Statistics) Failures() uint64 {
	return s.PollFailures + s.LeverSetFailures + s.ReleaseFailures + s.ResetFailures
}

// CalculateRates calculates poll and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PollRate = float64(s.Polls) / elapsed
		s.ErrorRate = float64(s.Failures()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var pollFailPercent float64
	if s.Polls > 0 {
		pollFailPercent = float64(s.PollFailures) * 100.0 / float64(s.Polls)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Polls:           %8d\n", s.Polls)
	if s.PollFailures > 0 {
		result += fmt.Sprintf("Poll Failures:   %8d (%.1f%%)\n", s.PollFailures, pollFailPercent)
	}
	result += fmt.Sprintf("Lever Sets:      %8d\n", s.LeverSets)
	if s.LeverSetFailures > 0 {
		result += fmt.Sprintf("  Failed:           %5d\n", s.LeverSetFailures)
	}
	result += fmt.Sprintf("Lever Releases:  %8d\n", s.Releases)
	if s.ReleaseFailures > 0 {
		result += fmt.Sprintf("  Failed:           %5d\n", s.ReleaseFailures)
	}
	if s.Resets > 0 {
		result += fmt.Sprintf("Resets:          %8d (%d failed)\n", s.Resets, s.ResetFailures)
	}
	if s.LengthMismatches > 0 {
		result += fmt.Sprintf("Length Mismatch: %8d\n", s.LengthMismatches)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d\n", s.AnomalousValues)
		if s.LeverRange > 0 {
			result += fmt.Sprintf("  Lever > %d:      %5d\n", asdf.LeverMax, s.LeverRange)
		}
		if s.UnknownButtons > 0 {
			result += fmt.Sprintf("  Unknown Buttons:  %5d\n", s.UnknownButtons)
		}
	}

	result += fmt.Sprintf("Poll Rate:       %8.1f polls/sec\n", s.PollRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
