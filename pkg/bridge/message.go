// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/quadrant/pkg/shared"
)

// Message types. Every websocket frame is a CBOR array [type, payload].
const (
	MsgSnapshot uint8 = 0x01 // server -> client
	MsgCommand  uint8 = 0x02 // client -> server
	MsgResult   uint8 = 0x03 // server -> client, answers one command
)

// ErrUnknownMessage is returned for frames with an unknown type
var ErrUnknownMessage = errors.New("unknown message type")

// Snapshot is the published shared state
type Snapshot struct {
	Seq        uint64                        `cbor:"0,keyasint" json:"seq"`
	SpeedBrake float64                       `cbor:"1,keyasint" json:"speed_brake"`
	Throttle   [shared.ThrottleCount]float64 `cbor:"2,keyasint" json:"throttle_level"`
	Buttons    [2]bool                       `cbor:"3,keyasint" json:"button_status"`
	Engaged    bool                          `cbor:"4,keyasint" json:"autothrottle_engaged"`
	Quit       bool                          `cbor:"5,keyasint" json:"quit"`
	LoopState  string                        `cbor:"6,keyasint,omitempty" json:"loop_state,omitempty"`
}

// NewSnapshot converts a shared state snapshot
func NewSnapshot(seq uint64, s shared.Snapshot, loopState string) Snapshot {
	return Snapshot{
		Seq:        seq,
		SpeedBrake: s.SpeedBrake,
		Throttle:   s.Throttle,
		Buttons:    s.Buttons,
		Engaged:    s.Engaged,
		Quit:       s.Quit,
		LoopState:  loopState,
	}
}

// Command changes externally owned fields. Nil fields are left alone;
// Engage is applied before Throttle.
type Command struct {
	Engage   *bool                          `cbor:"0,keyasint,omitempty"`
	Throttle *[shared.ThrottleCount]float64 `cbor:"1,keyasint,omitempty"`
	Quit     bool                           `cbor:"2,keyasint,omitempty"`
}

// Result answers a Command
type Result struct {
	OK    bool   `cbor:"0,keyasint"`
	Error string `cbor:"1,keyasint,omitempty"`
}

// Message is one decoded frame; exactly one payload is set
type Message struct {
	Type     uint8
	Snapshot *Snapshot
	Command  *Command
	Result   *Result
}

type envelope struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload cbor.RawMessage
}

func encode(msgType uint8, payload interface{}) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return cbor.Marshal(envelope{Type: msgType, Payload: raw})
}

// EncodeSnapshot encodes a snapshot frame
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return encode(MsgSnapshot, s)
}

// EncodeCommand encodes a command frame
func EncodeCommand(c Command) ([]byte, error) {
	return encode(MsgCommand, c)
}

// EncodeResult encodes a result frame
func EncodeResult(r Result) ([]byte, error) {
	return encode(MsgResult, r)
}

// ParseMessage decodes one frame
func ParseMessage(data []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	msg := Message{Type: env.Type}
	var err error
	switch env.Type {
	case MsgSnapshot:
		msg.Snapshot = &Snapshot{}
		err = cbor.Unmarshal(env.Payload, msg.Snapshot)
	case MsgCommand:
		msg.Command = &Command{}
		err = cbor.Unmarshal(env.Payload, msg.Command)
	case MsgResult:
		msg.Result = &Result{}
		err = cbor.Unmarshal(env.Payload, msg.Result)
	default:
		return msg, fmt.Errorf("%w: 0x%02X", ErrUnknownMessage, env.Type)
	}
	if err != nil {
		return msg, fmt.Errorf("decode payload: %w", err)
	}
	return msg, nil
}

// Engage returns a command that engages or disengages the autothrottle
func Engage(on bool) Command {
	return Command{Engage: &on}
}

// SetThrottle returns a command with throttle targets in percent
func SetThrottle(t1, t2 float64) Command {
	return Command{Throttle: &[shared.ThrottleCount]float64{t1, t2}}
}
