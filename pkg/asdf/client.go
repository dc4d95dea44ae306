// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/quadrant/pkg/transport"
)

// Client pairs each outgoing command with its single expected response.
// It is not safe for concurrent use; one goroutine owns the client and its
// transport.
type Client struct {
	t         transport.Transport
	logger    *zap.Logger
	resetWait time.Duration
	onWarning func(Command, *Response, error)
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.Named("asdf")
		}
	}
}

// WithResetWait sets how long Reset waits for the device to reboot
func WithResetWait(d time.Duration) Option {
	return func(c *Client) {
		c.resetWait = d
	}
}

// WithWarningHandler registers fn to observe soft response warnings
// (length mismatches). The command still completes.
func WithWarningHandler(fn func(Command, *Response, error)) Option {
	return func(c *Client) {
		c.onWarning = fn
	}
}

// NewClient creates a client on an already opened transport
func NewClient(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		t:         t,
		logger:    zap.NewNop(),
		resetWait: MaxDeviceResetTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transport returns the underlying transport
func (c *Client) Transport() transport.Transport {
	return c.t
}

// SendNoResponse encodes and writes cmd without reading anything back
func (c *Client) SendNoResponse(cmd Command) error {
	frame, err := Encode(cmd)
	if err != nil {
		return err
	}

	c.logger.Debug("tx", zap.Stringer("cmd", cmd), zap.String("frame", FormatFrame(frame)))

	n, err := c.t.Write(frame)
	if err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: %s wrote %d of %d bytes", ErrShortWrite, cmd, n, len(frame))
	}
	return nil
}

// Send writes cmd and reads one response of expectedLength data bytes.
//
// A response that arrives with the right code but fewer bytes than expected
// (the read timed out part way) still completes; the shortfall is reported
// through the warning handler.
func (c *Client) Send(ctx context.Context, cmd Command, expectedCode byte, expectedLength int) (*Response, error) {
	if err := c.SendNoResponse(cmd); err != nil {
		return nil, err
	}

	raw, readErr := c.t.ReadExact(ctx, expectedLength+1)
	if len(raw) == 0 {
		if readErr != nil {
			return nil, fmt.Errorf("%s: %w: %w", cmd, ErrEmptyResponse, readErr)
		}
		return nil, fmt.Errorf("%s: %w", cmd, ErrEmptyResponse)
	}

	c.logger.Debug("rx", zap.Stringer("cmd", cmd), zap.String("frame", FormatFrame(raw)))

	resp, err := Decode(expectedCode, expectedLength, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}

	if w := resp.Warning(); w != nil {
		c.logger.Warn("response length mismatch",
			zap.Stringer("cmd", cmd),
			zap.Int("expected", expectedLength),
			zap.Int("received", len(resp.Data)),
			zap.NamedError("read", readErr))
		if c.onWarning != nil {
			c.onWarning(cmd, resp, w)
		}
	}

	return resp, nil
}

// Do sends cmd and checks the response against the code and length the
// command expects
func (c *Client) Do(ctx context.Context, cmd Command) (*Response, error) {
	code, length := cmd.Expect()
	return c.Send(ctx, cmd, code, length)
}

// Reset reboots the device: RESET is written, the port is closed for the
// reset wait, reopened, and a single RESET_ACK byte is read.
func (c *Client) Reset(ctx context.Context) error {
	cmd := NewReset()
	if err := c.SendNoResponse(cmd); err != nil {
		return err
	}
	if err := c.reopen(ctx); err != nil {
		return err
	}

	raw, err := c.t.ReadExact(ctx, 1)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", cmd, ErrEmptyResponse, err)
	}
	if _, err := Decode(RespResetAck, 0, raw); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	c.logger.Debug("reset acknowledged", zap.Stringer("transport", c.t))
	return nil
}

// Recover closes and reopens the link, then performs Reset. Used after any
// protocol fault to bring the device back to a known state.
func (c *Client) Recover(ctx context.Context) error {
	if err := c.reopen(ctx); err != nil {
		return err
	}
	if err := c.t.FlushReceive(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return c.Reset(ctx)
}

func (c *Client) reopen(ctx context.Context) error {
	if err := c.t.Close(); err != nil {
		c.logger.Debug("close failed", zap.Error(err))
	}

	timer := time.NewTimer(c.resetWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := c.t.Open(ctx); err != nil {
		return fmt.Errorf("reopen %s: %w", c.t, err)
	}
	return nil
}

// Poll reads the button bitmap and the three lever positions
func (c *Client) Poll(ctx context.Context) (PollResult, error) {
	resp, err := c.Do(ctx, NewPoll())
	if err != nil {
		return PollResult{}, err
	}
	return ParsePoll(resp)
}

// LeverRelease unlocks every lever
func (c *Client) LeverRelease(ctx context.Context) error {
	_, err := c.Do(ctx, NewLeverRelease())
	return err
}

// LeverSet drives the levers selected by mask to values (one per selected
// lever, in speed brake, throttle 1, throttle 2 order) and locks them there
func (c *Client) LeverSet(ctx context.Context, mask LeverMask, values ...byte) error {
	cmd, err := NewLeverSet(mask, values...)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, cmd)
	return err
}

// DebugEcho checks the link; the device answers ACK
func (c *Client) DebugEcho(ctx context.Context) (*Response, error) {
	return c.Do(ctx, NewDebugEcho())
}

// IsFault reports whether err came from the protocol or transport layer,
// as opposed to cancellation of ctx
func IsFault(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
