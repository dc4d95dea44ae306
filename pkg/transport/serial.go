// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// readSlice bounds a single port read so deadlines and cancellation are
// observed promptly.
const readSlice = 50 * time.Millisecond

// Serial wraps a serial port
type Serial struct {
	cfg  Config
	port serial.Port
	rx   []byte // received but not yet consumed

	openPort func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerial creates an unopened serial transport
func NewSerial(cfg Config) *Serial {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaudRate
	}
	return &Serial{
		cfg:      cfg,
		openPort: serial.Open,
	}
}

// Config returns the link parameters
func (s *Serial) Config() Config {
	return s.cfg
}

func (s *Serial) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", s.cfg.Port, s.cfg.Baud)
}

// Open opens the serial port (8N1) and waits SettleDelay
func (s *Serial) Open(ctx context.Context) error {
	if s.cfg.Port == "" {
		return fmt.Errorf("%w: no serial port configured", ErrUnavailable)
	}
	if s.port != nil {
		s.Close()
	}

	mode := &serial.Mode{
		BaudRate: s.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := s.openPort(s.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %v", ErrUnavailable, s.cfg.Port, err)
	}
	s.port = port
	s.rx = s.rx[:0]

	// Wait for the device boot sequence
	return sleepContext(ctx, s.cfg.SettleDelay)
}

// Close closes the serial port
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.rx = s.rx[:0]
	return err
}

// Write writes to the serial port
func (s *Serial) Write(p []byte) (int, error) {
	if s.port == nil {
		return 0, fmt.Errorf("%w: port not open", ErrUnavailable)
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}
	return n, nil
}

// ReadExact reads exactly n bytes
func (s *Serial) ReadExact(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidLength
	}
	if s.port == nil {
		return nil, fmt.Errorf("%w: port not open", ErrUnavailable)
	}

	var deadline time.Time
	if s.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(s.cfg.ReadTimeout)
	}

	buf := make([]byte, 0, n)
	buf = s.consume(buf, n)
	chunk := make([]byte, n)

	for len(buf) < n {
		if err := ctx.Err(); err != nil {
			return buf, err
		}

		wait := readSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return buf, fmt.Errorf("%w: got %d of %d bytes within %s", ErrTimeout, len(buf), n, s.cfg.ReadTimeout)
			}
			if remaining < wait {
				wait = remaining
			}
		}

		if err := s.port.SetReadTimeout(wait); err != nil {
			return buf, fmt.Errorf("%w: set read timeout: %v", ErrUnavailable, err)
		}
		m, err := s.port.Read(chunk[:n-len(buf)])
		if err != nil {
			return buf, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
		}
		buf = append(buf, chunk[:m]...)
	}

	return buf, nil
}

// ReadAvailable returns up to max already-received bytes
func (s *Serial) ReadAvailable(max int) ([]byte, error) {
	if s.port == nil {
		return nil, fmt.Errorf("%w: port not open", ErrUnavailable)
	}
	if err := s.fill(); err != nil {
		return nil, err
	}
	return s.consume(nil, max), nil
}

// Pending returns the number of bytes waiting to be read
func (s *Serial) Pending() int {
	if s.port == nil {
		return 0
	}
	// A failed fill still leaves whatever was buffered before it
	_ = s.fill()
	return len(s.rx)
}

// FlushReceive discards the OS receive buffer and anything buffered here
func (s *Serial) FlushReceive() error {
	if s.port == nil {
		return fmt.Errorf("%w: port not open", ErrUnavailable)
	}
	s.rx = s.rx[:0]
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrUnavailable, err)
	}
	return nil
}

// fill moves every byte the OS has already received into rx without blocking
func (s *Serial) fill() error {
	if err := s.port.SetReadTimeout(0); err != nil {
		return fmt.Errorf("%w: set read timeout: %v", ErrUnavailable, err)
	}
	buf := make([]byte, 64)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			return fmt.Errorf("%w: read: %v", ErrUnavailable, err)
		}
		if n == 0 {
			return nil
		}
		s.rx = append(s.rx, buf[:n]...)
	}
}

// consume appends up to max-len(dst) buffered bytes to dst
func (s *Serial) consume(dst []byte, max int) []byte {
	take := max - len(dst)
	if take > len(s.rx) {
		take = len(s.rx)
	}
	if take <= 0 {
		return dst
	}
	dst = append(dst, s.rx[:take]...)
	s.rx = append(s.rx[:0], s.rx[take:]...)
	return dst
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
