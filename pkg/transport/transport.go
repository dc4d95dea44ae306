// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the raw byte channel between the host and the
// throttle quadrant.
//
// A Transport is owned by exactly one goroutine (the device control loop).
// Reads are bounded: ReadExact gives up after Config.ReadTimeout or when its
// context is cancelled, so a silent device surfaces as ErrTimeout instead of
// wedging the caller.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default link parameters
const (
	DefaultBaudRate    = 115200
	DefaultSettleDelay = 200 * time.Millisecond
	DefaultReadTimeout = time.Second
)

var (
	// ErrUnavailable indicates the port could not be opened or the handle is
	// no longer usable.
	ErrUnavailable = errors.New("transport unavailable")
	// ErrTimeout indicates ReadExact did not receive enough bytes in time.
	// It wraps ErrUnavailable so callers that only care about link loss can
	// match either.
	ErrTimeout = fmt.Errorf("%w: read timeout", ErrUnavailable)
	// ErrInvalidLength is returned for reads of zero or negative length.
	ErrInvalidLength = errors.New("read length must be positive")
)

// Transport is a half-duplex byte channel to the device.
type Transport interface {
	// Open opens the link and waits for the device boot sequence to settle.
	// Reopening after Close reuses the previous parameters.
	Open(ctx context.Context) error

	// Close closes the link. Closing a closed transport is a no-op.
	Close() error

	// Write writes p and reports how many bytes the link accepted.
	Write(p []byte) (int, error)

	// ReadExact blocks until exactly n bytes have arrived, the read timeout
	// expires, or ctx is done. On failure it returns the bytes received so far
	// together with the error.
	ReadExact(ctx context.Context, n int) ([]byte, error)

	// ReadAvailable returns up to max bytes that are already pending without
	// blocking.
	ReadAvailable(max int) ([]byte, error)

	// Pending returns the number of received bytes not yet consumed.
	Pending() int

	// FlushReceive discards everything in the receive buffer.
	FlushReceive() error

	// String describes the link for logs and status lines.
	String() string
}

// Config holds link parameters
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM6")
	Port string

	// Baud rate (the firmware runs at 115200)
	Baud int

	// Pause after opening before the first read or write
	SettleDelay time.Duration

	// Upper bound for a single ReadExact call (0 = wait forever, ctx still applies)
	ReadTimeout time.Duration
}

// DefaultConfig returns the firmware's link parameters for the given port
func DefaultConfig(port string) Config {
	return Config{
		Port:        port,
		Baud:        DefaultBaudRate,
		SettleDelay: DefaultSettleDelay,
		ReadTimeout: DefaultReadTimeout,
	}
}

// sleepContext sleeps for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
