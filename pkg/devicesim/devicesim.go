// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package devicesim emulates the throttle quadrant firmware behind the
// transport.Transport interface. It backs the --simulate flag and the
// protocol and control loop tests.
package devicesim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/quadrant/pkg/asdf"
	"github.com/Thermoquad/quadrant/pkg/transport"
)

var _ transport.Transport = (*Device)(nil)

// maxFrames bounds the recorded command history
const maxFrames = 4096

// Fault is a one-shot misbehaviour armed with Device.Inject
type Fault int

const (
	// FaultDrop swallows the next response
	FaultDrop Fault = iota
	// FaultCorruptCode replaces the next response code with ERROR
	FaultCorruptCode
	// FaultTruncate drops the last byte of the next response
	FaultTruncate
	// FaultShortWrite makes the next Write accept one byte less than given
	FaultShortWrite
	// FaultOpenFail makes the next Open fail
	FaultOpenFail
)

func (f Fault) String() string {
	switch f {
	case FaultDrop:
		return "drop"
	case FaultCorruptCode:
		return "corrupt-code"
	case FaultTruncate:
		return "truncate"
	case FaultShortWrite:
		return "short-write"
	case FaultOpenFail:
		return "open-fail"
	default:
		return fmt.Sprintf("fault(%d)", int(f))
	}
}

// Device is an in-memory quadrant. All methods are safe for concurrent use;
// test code drives the inputs while a control loop owns the link.
type Device struct {
	cfg transport.Config

	mu        sync.Mutex
	open      bool
	connected bool
	in        []byte // partial command from the host
	rx        []byte // responses waiting for the host
	notify    chan struct{}

	buttons  byte
	levers   [asdf.LeverCount]byte
	locked   [asdf.LeverCount]bool
	lockedAt [asdf.LeverCount]byte

	resetPending bool
	faults       map[Fault]int
	frames       [][]byte
	opens        int
	resets       int
}

// New creates a powered, connected device. cfg supplies the settle delay and
// read timeout; the port name is only used by String.
func New(cfg transport.Config) *Device {
	if cfg.Port == "" {
		cfg.Port = "sim"
	}
	return &Device{
		cfg:       cfg,
		connected: true,
		notify:    make(chan struct{}),
		faults:    make(map[Fault]int),
	}
}

func (d *Device) String() string {
	return fmt.Sprintf("Simulated quadrant: %s", d.cfg.Port)
}

// Open opens the link. A RESET written before the last Close is acknowledged
// here, the way the firmware announces itself after rebooting.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case !d.connected:
		d.mu.Unlock()
		return fmt.Errorf("%w: %s disconnected", transport.ErrUnavailable, d.cfg.Port)
	case d.take(FaultOpenFail):
		d.mu.Unlock()
		return fmt.Errorf("%w: %s open failed", transport.ErrUnavailable, d.cfg.Port)
	}
	d.open = true
	d.opens++
	if d.resetPending {
		d.resetPending = false
		d.resets++
		d.locked = [asdf.LeverCount]bool{}
		d.respond([]byte{asdf.RespResetAck})
	}
	d.mu.Unlock()

	if d.cfg.SettleDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close closes the link and discards unread bytes
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.in = nil
	d.rx = nil
	d.wake()
	return nil
}

// Write feeds host bytes to the firmware command parser
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return 0, fmt.Errorf("%w: port not open", transport.ErrUnavailable)
	}

	n := len(p)
	if n > 0 && d.take(FaultShortWrite) {
		n--
	}

	d.in = append(d.in, p[:n]...)
	for len(d.in) > 0 {
		size := frameSize(d.in[0])
		if len(d.in) < size {
			break
		}
		frame := append([]byte(nil), d.in[:size]...)
		d.in = d.in[size:]
		if len(d.frames) == maxFrames {
			d.frames = append(d.frames[:0], d.frames[1:]...)
		}
		d.frames = append(d.frames, frame)
		d.handle(frame)
	}
	return n, nil
}

// ReadExact waits for n response bytes, the read timeout, or ctx
func (d *Device) ReadExact(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, transport.ErrInvalidLength
	}

	var deadline <-chan time.Time
	if d.cfg.ReadTimeout > 0 {
		timer := time.NewTimer(d.cfg.ReadTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		d.mu.Lock()
		if !d.open {
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: port not open", transport.ErrUnavailable)
		}
		if len(d.rx) >= n {
			out := d.consume(n)
			d.mu.Unlock()
			return out, nil
		}
		wait := d.notify
		d.mu.Unlock()

		select {
		case <-wait:
		case <-deadline:
			return d.drain(n), fmt.Errorf("%w: wanted %d bytes", transport.ErrTimeout, n)
		case <-ctx.Done():
			return d.drain(n), ctx.Err()
		}
	}
}

// ReadAvailable returns up to max pending bytes without blocking
func (d *Device) ReadAvailable(max int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, fmt.Errorf("%w: port not open", transport.ErrUnavailable)
	}
	return d.consume(max), nil
}

// Pending returns the number of unread response bytes
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rx)
}

// FlushReceive discards unread response bytes
func (d *Device) FlushReceive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fmt.Errorf("%w: port not open", transport.ErrUnavailable)
	}
	d.rx = nil
	return nil
}

// SetLever moves a lever by hand. A locked lever keeps reporting its locked
// position until released.
func (d *Device) SetLever(l asdf.Lever, v byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levers[l] = v
}

// SetButtons sets the button bitmap reported by POLL_OK
func (d *Device) SetButtons(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buttons = b
}

// SetConnected plugs or unplugs the device. While unplugged Open fails and
// commands go unanswered.
func (d *Device) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

// Inject arms fault f for the next matching event
func (d *Device) Inject(f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[f]++
}

// Positions returns the lever bytes POLL_OK would report
func (d *Device) Positions() [asdf.LeverCount]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positions()
}

// Locked returns which levers are held by LEVER_SET
func (d *Device) Locked() [asdf.LeverCount]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// Frames returns the most recent complete command frames, oldest first
func (d *Device) Frames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.frames))
	copy(out, d.frames)
	return out
}

// Opens returns how many times the link was opened
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Resets returns how many RESET reboots completed
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// handle runs one command frame. Caller holds mu.
func (d *Device) handle(frame []byte) {
	code := frame[0]

	if !d.connected {
		return
	}

	switch {
	case code == asdf.CmdReset:
		// The firmware reboots; RESET_ACK follows the next open.
		d.resetPending = true
	case code == asdf.CmdPoll:
		pos := d.positions()
		d.respond([]byte{asdf.RespPollOK, d.buttons, pos[0], pos[1], pos[2]})
	case code == asdf.CmdLeverRelease:
		d.locked = [asdf.LeverCount]bool{}
		d.respond([]byte{asdf.RespLeverReleaseResp})
	case code == asdf.CmdDebugEcho:
		d.respond([]byte{asdf.RespAck})
	case asdf.IsLeverSetCode(code):
		data := frame[1:]
		for i, l := range asdf.MaskFromCode(code).Levers() {
			d.locked[l] = true
			d.lockedAt[l] = data[i]
		}
		d.respond([]byte{asdf.RespAck})
	default:
		d.respond([]byte{asdf.RespError})
	}
}

// respond queues a response, applying armed response faults. Caller holds mu.
func (d *Device) respond(resp []byte) {
	switch {
	case d.take(FaultDrop):
		return
	case d.take(FaultCorruptCode):
		resp[0] = asdf.RespError
	case d.take(FaultTruncate):
		resp = resp[:len(resp)-1]
	}
	d.rx = append(d.rx, resp...)
	d.wake()
}

func (d *Device) positions() [asdf.LeverCount]byte {
	pos := d.levers
	for l := range pos {
		if d.locked[l] {
			pos[l] = d.lockedAt[l]
		}
	}
	return pos
}

func (d *Device) take(f Fault) bool {
	if d.faults[f] == 0 {
		return false
	}
	d.faults[f]--
	return true
}

func (d *Device) wake() {
	close(d.notify)
	d.notify = make(chan struct{})
}

func (d *Device) consume(max int) []byte {
	if max < 0 {
		max = 0
	}
	if max > len(d.rx) {
		max = len(d.rx)
	}
	out := make([]byte, max)
	copy(out, d.rx)
	d.rx = d.rx[max:]
	return out
}

func (d *Device) drain(max int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consume(max)
}

// frameSize returns the command frame length for a command code
func frameSize(code byte) int {
	if asdf.IsLeverSetCode(code) {
		return 1 + asdf.MaskFromCode(code).Count()
	}
	return 1
}
