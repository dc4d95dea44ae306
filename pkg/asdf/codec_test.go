// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import (
	"bytes"
	"errors"
	"math"
	"math/bits"
	"testing"
)

// ============================================================
// LEVER_SET Encoding
// ============================================================

func TestLeverSetCode_AllMasks(t *testing.T) {
	expected := map[LeverMask]byte{
		0: 0x82, 1: 0x92, 2: 0xA2, 3: 0xB2,
		4: 0xC2, 5: 0xD2, 6: 0xE2, 7: 0xF2,
	}
	for mask, code := range expected {
		if got := LeverSetCode(mask); got != code {
			t.Errorf("mask 0b%03b: expected 0x%02X, got 0x%02X", uint8(mask), code, got)
		}
		if !IsLeverSetCode(code) {
			t.Errorf("0x%02X should be a LEVER_SET code", code)
		}
		if got := MaskFromCode(code); got != mask {
			t.Errorf("0x%02X: expected mask 0b%03b, got 0b%03b", code, uint8(mask), uint8(got))
		}
	}
}

func TestIsLeverSetCode_OtherCommands(t *testing.T) {
	for _, code := range []byte{CmdReset, CmdPoll, CmdLeverRelease, CmdDebugEcho, 0x00, 0x84} {
		if IsLeverSetCode(code) {
			t.Errorf("0x%02X should not be a LEVER_SET code", code)
		}
	}
}

func TestEncode_LeverSet_AllMasks(t *testing.T) {
	values := []byte{10, 20, 30} // speed brake, throttle 1, throttle 2

	for m := LeverMask(0); m <= MaskAll; m++ {
		// pick the values for the selected levers in wire order
		var want []byte
		if m&MaskSpeedBrake != 0 {
			want = append(want, values[0])
		}
		if m&MaskThrottle1 != 0 {
			want = append(want, values[1])
		}
		if m&MaskThrottle2 != 0 {
			want = append(want, values[2])
		}

		cmd, err := NewLeverSet(m, want...)
		if err != nil {
			t.Fatalf("mask 0b%03b: %v", uint8(m), err)
		}
		frame, err := Encode(cmd)
		if err != nil {
			t.Fatalf("mask 0b%03b: encode: %v", uint8(m), err)
		}

		if len(frame)-1 != bits.OnesCount8(uint8(m)) {
			t.Errorf("mask 0b%03b: expected %d data bytes, got %d", uint8(m), bits.OnesCount8(uint8(m)), len(frame)-1)
		}
		if frame[0] != LeverSetCode(m) {
			t.Errorf("mask 0b%03b: wrong code 0x%02X", uint8(m), frame[0])
		}
		if !bytes.Equal(frame[1:], want) {
			t.Errorf("mask 0b%03b: expected data %v, got %v", uint8(m), want, frame[1:])
		}
	}
}

func TestNewLeverSet_MasksTopBit(t *testing.T) {
	cmd, err := NewLeverSet(MaskThrottles, 0xFF, 0x80)
	if err != nil {
		t.Fatal(err)
	}
	frame := MustEncode(cmd)
	if !bytes.Equal(frame, []byte{0xB2, 0x7F, 0x00}) {
		t.Errorf("unexpected frame % X", frame)
	}
}

func TestNewLeverSet_Errors(t *testing.T) {
	if _, err := NewLeverSet(0x08, 1); !errors.Is(err, ErrInvalidMask) {
		t.Errorf("expected ErrInvalidMask, got %v", err)
	}
	if _, err := NewLeverSet(MaskAll, 1, 2); !errors.Is(err, ErrMissingLeverValues) {
		t.Errorf("expected ErrMissingLeverValues, got %v", err)
	}
}

func TestEncode_FixedCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		code byte
	}{
		{"reset", NewReset(), 0x80},
		{"poll", NewPoll(), 0x81},
		{"lever release", NewLeverRelease(), 0x83},
		{"debug echo", NewDebugEcho(), 0xFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := MustEncode(tt.cmd)
			if !bytes.Equal(frame, []byte{tt.code}) {
				t.Errorf("expected [%02X], got % X", tt.code, frame)
			}
		})
	}
}

func TestCommand_Expect(t *testing.T) {
	set, _ := NewLeverSet(MaskThrottles, 1, 2)
	tests := []struct {
		cmd    Command
		code   byte
		length int
	}{
		{NewReset(), RespResetAck, 0},
		{NewPoll(), RespPollOK, 4},
		{NewLeverRelease(), RespLeverReleaseResp, 0},
		{NewDebugEcho(), RespAck, 0},
		{set, RespAck, 0},
	}
	for _, tt := range tests {
		code, length := tt.cmd.Expect()
		if code != tt.code || length != tt.length {
			t.Errorf("%s: expected (0x%02X, %d), got (0x%02X, %d)", tt.cmd, tt.code, tt.length, code, length)
		}
	}
}

// ============================================================
// Decoding
// ============================================================

func TestDecode_CodeMismatch(t *testing.T) {
	payloads := [][]byte{
		{RespAck},
		{RespError},
		{RespAck, 1, 2, 3, 4},
		{RespResetAck, 0xFF},
	}
	for _, raw := range payloads {
		_, err := Decode(RespPollOK, 4, raw)
		if !errors.Is(err, ErrResponseCodeMismatch) {
			t.Errorf("% X: expected ErrResponseCodeMismatch, got %v", raw, err)
		}
		var mismatch *CodeMismatchError
		if !errors.As(err, &mismatch) || mismatch.Got != raw[0] || mismatch.Expected != RespPollOK {
			t.Errorf("% X: unexpected mismatch detail %+v", raw, mismatch)
		}
	}
}

func TestDecode_Empty(t *testing.T) {
	for _, raw := range [][]byte{nil, {}} {
		if _, err := Decode(RespAck, 0, raw); !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("expected ErrEmptyResponse, got %v", err)
		}
	}
}

func TestDecode_LengthMismatchIsWarning(t *testing.T) {
	resp, err := Decode(RespPollOK, 4, []byte{RespPollOK, 0x01, 0x40})
	if err != nil {
		t.Fatalf("length mismatch must not fail decode: %v", err)
	}
	w := resp.Warning()
	if !errors.Is(w, ErrLengthMismatch) {
		t.Fatalf("expected length mismatch warning, got %v", w)
	}

	p, err := ParsePoll(resp)
	if err != nil {
		t.Fatal(err)
	}
	if p.Buttons != 0x01 || p.Levers != [LeverCount]byte{0x40, 0, 0} {
		t.Errorf("missing bytes should read as zero, got %s", p)
	}
	if p.Received != 2 {
		t.Errorf("expected 2 received bytes, got %d", p.Received)
	}
	if !p.HasButtons() || !p.HasLever(LeverSpeedBrake) {
		t.Error("buttons and speed brake arrived")
	}
	if p.HasLever(LeverThrottle1) || p.HasLever(LeverThrottle2) {
		t.Error("throttle bytes did not arrive")
	}
}

func TestDecode_TooLong(t *testing.T) {
	raw := make([]byte, MaxFrameSize+1)
	raw[0] = RespAck
	if _, err := Decode(RespAck, 0, raw); !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("expected ErrFrameTooLong, got %v", err)
	}
}

func TestDecode_CopiesData(t *testing.T) {
	raw := []byte{RespPollOK, 1, 2, 3, 4}
	resp, err := Decode(RespPollOK, 4, raw)
	if err != nil {
		t.Fatal(err)
	}
	raw[1] = 0xEE
	if resp.Data[0] != 1 {
		t.Error("response must not alias the read buffer")
	}
	if resp.Warning() != nil {
		t.Errorf("unexpected warning %v", resp.Warning())
	}
}

func TestParsePoll_Scenario(t *testing.T) {
	resp, err := Decode(RespPollOK, PollDataSize, []byte{RespPollOK, 0b00000011, 64, 0, 127})
	if err != nil {
		t.Fatal(err)
	}
	p, err := ParsePoll(resp)
	if err != nil {
		t.Fatal(err)
	}

	if !p.TOGA() || !p.ATDisengage() {
		t.Errorf("expected both buttons pressed, got %s", p)
	}
	if sb := p.Percent(LeverSpeedBrake); math.Abs(sb-50.4) > 0.05 {
		t.Errorf("speed brake: expected ~50.4%%, got %.3f", sb)
	}
	if p.Percent(LeverThrottle1) != 0 || p.Percent(LeverThrottle2) != 100 {
		t.Errorf("throttles: expected [0 100], got [%.1f %.1f]", p.Percent(LeverThrottle1), p.Percent(LeverThrottle2))
	}
	if p.Received != PollDataSize || !p.HasLever(LeverThrottle2) {
		t.Errorf("full frame: expected %d received bytes, got %d", PollDataSize, p.Received)
	}
}

func TestParsePoll_WrongCode(t *testing.T) {
	if _, err := ParsePoll(&Response{Code: RespAck}); !errors.Is(err, ErrResponseCodeMismatch) {
		t.Errorf("expected ErrResponseCodeMismatch, got %v", err)
	}
}

// ============================================================
// Level Conversion
// ============================================================

func TestPercentRoundTrip(t *testing.T) {
	const tolerance = 100.0 / LeverMax
	for i := 0; i <= 1000; i++ {
		p := float64(i) / 10
		got := ByteToPercent(PercentToByte(p))
		if math.Abs(got-p) > tolerance {
			t.Errorf("%.1f%% round-tripped to %.3f%%", p, got)
		}
	}
}

func TestByteRoundTrip(t *testing.T) {
	for v := 0; v <= LeverMax; v++ {
		if got := PercentToByte(ByteToPercent(byte(v))); got != byte(v) {
			t.Errorf("byte %d round-tripped to %d", v, got)
		}
	}
}

func TestPercentToByte_Clamp(t *testing.T) {
	tests := []struct {
		p    float64
		want byte
	}{
		{-5, 0},
		{0, 0},
		{50, 64},
		{100, 127},
		{250, 127},
		{math.NaN(), 0},
		{math.Inf(1), 127},
	}
	for _, tt := range tests {
		if got := PercentToByte(tt.p); got != tt.want {
			t.Errorf("PercentToByte(%v): expected %d, got %d", tt.p, tt.want, got)
		}
	}
}

// ============================================================
// Validation and Formatting
// ============================================================

func TestValidatePoll(t *testing.T) {
	if errs := ValidatePoll(PollResult{Buttons: 0b11, Levers: [LeverCount]byte{0, 64, 127}}); len(errs) != 0 {
		t.Errorf("expected no anomalies, got %v", errs)
	}

	errs := ValidatePoll(PollResult{Buttons: 0b100, Levers: [LeverCount]byte{0, 200, 0}})
	if len(errs) != 2 {
		t.Fatalf("expected 2 anomalies, got %d: %v", len(errs), errs)
	}
	if errs[0].Type != AnomalyLeverRange || errs[1].Type != AnomalyUnknownButtons {
		t.Errorf("unexpected anomaly types %v, %v", errs[0].Type, errs[1].Type)
	}
}

func TestValidateResponse_ShortPoll(t *testing.T) {
	resp, _ := Decode(RespPollOK, 4, []byte{RespPollOK, 0})
	errs := ValidateResponse(resp)
	if len(errs) != 1 || errs[0].Type != AnomalyLengthMismatch {
		t.Errorf("expected one length anomaly, got %v", errs)
	}
}

func TestFormatCommandCode(t *testing.T) {
	tests := map[byte]string{
		0x80: "RESET",
		0x81: "POLL",
		0x83: "LEVER_RELEASE",
		0xFF: "DEBUG_ECHO",
		0xB2: "LEVER_SET[T1|T2]",
		0xF2: "LEVER_SET[SB|T1|T2]",
		0x82: "LEVER_SET[NONE]",
		0x10: "UNKNOWN_0x10",
	}
	for code, want := range tests {
		if got := FormatCommandCode(code); got != want {
			t.Errorf("0x%02X: expected %q, got %q", code, want, got)
		}
	}
}

func TestFormatResponseCode(t *testing.T) {
	tests := map[byte]string{
		0x00: "ACK",
		0x01: "RESET_ACK",
		0x02: "POLL_OK",
		0x03: "LEVER_RELEASE_PILOT",
		0x83: "LEVER_RELEASE_RESP",
		0xFF: "ERROR",
	}
	for code, want := range tests {
		if got := FormatResponseCode(code); got != want {
			t.Errorf("0x%02X: expected %q, got %q", code, want, got)
		}
	}
}

func TestFormatFrame(t *testing.T) {
	if got := FormatFrame([]byte{0x02, 0x03, 0x40, 0x00, 0x7F}); got != "02 03 40 00 7F" {
		t.Errorf("unexpected %q", got)
	}
	if got := FormatFrame(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}
