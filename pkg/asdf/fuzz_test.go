// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import (
	"errors"
	"math/bits"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	return b
}

// ============================================================================
// Decoder
// ============================================================================

// TestFuzzDecode_CodeMismatch checks that a frame led by any other code is
// always rejected, whatever follows it
func TestFuzzDecode_CodeMismatch(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	t.Logf("Running %d fuzz rounds", rounds)

	for round := 0; round < rounds; round++ {
		expected := byte(rng.Intn(256))
		raw := randomBytes(rng, 1+rng.Intn(MaxFrameSize))
		for raw[0] == expected {
			raw[0] = byte(rng.Intn(256))
		}

		resp, err := Decode(expected, rng.Intn(MaxDataSize+1), raw)
		if !errors.Is(err, ErrResponseCodeMismatch) {
			t.Errorf("Round %d: expected 0x%02X, frame [%s]: got err %v", round, expected, FormatFrame(raw), err)
		}
		if resp != nil {
			t.Errorf("Round %d: mismatched frame returned a response", round)
		}
		var cm *CodeMismatchError
		if errors.As(err, &cm) && (cm.Expected != expected || cm.Got != raw[0]) {
			t.Errorf("Round %d: mismatch error reports 0x%02X/0x%02X", round, cm.Expected, cm.Got)
		}
	}
}

// TestFuzzDecode_RandomLengths feeds frames of 0..12 bytes with random
// expectations. Decoding must never panic, and a successful decode keeps
// exactly the bytes that arrived.
func TestFuzzDecode_RandomLengths(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	t.Logf("Running %d fuzz rounds", rounds)

	for round := 0; round < rounds; round++ {
		raw := randomBytes(rng, rng.Intn(13))
		expected := byte(rng.Intn(256))
		if len(raw) > 0 && rng.Intn(2) == 0 {
			expected = raw[0]
		}
		expectedLength := rng.Intn(MaxDataSize + 1)

		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Round %d: Decode panicked on [%s]: %v", round, FormatFrame(raw), r)
				}
			}()

			resp, err := Decode(expected, expectedLength, raw)
			if err != nil {
				return
			}
			if len(resp.Data) != len(raw)-1 {
				t.Errorf("Round %d: kept %d data bytes of %d", round, len(resp.Data), len(raw)-1)
			}
			if (resp.Warning() == nil) != (len(resp.Data) == expectedLength) {
				t.Errorf("Round %d: warning %v for %d bytes, expected %d", round, resp.Warning(), len(resp.Data), expectedLength)
			}
			if resp.Code == RespPollOK {
				if p, err := ParsePoll(resp); err != nil || p.Received > PollDataSize {
					t.Errorf("Round %d: ParsePoll: %v, received %d", round, err, p.Received)
				}
			}
		}()
	}
}

// TestFuzzDecode_Empty checks that no input at all is always ErrEmptyResponse
func TestFuzzDecode_Empty(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	t.Logf("Running %d fuzz rounds", rounds)

	for round := 0; round < rounds; round++ {
		var raw []byte
		if rng.Intn(2) == 0 {
			raw = []byte{}
		}
		_, err := Decode(byte(rng.Intn(256)), rng.Intn(MaxDataSize+1), raw)
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("Round %d: expected ErrEmptyResponse, got %v", round, err)
		}
	}
}

// ============================================================================
// Encoder
// ============================================================================

// TestFuzzEncode_LeverSet checks the LEVER_SET frame layout for random masks
// and values: one code byte, one seven-bit value per selected lever, in
// lever order
func TestFuzzEncode_LeverSet(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	t.Logf("Running %d fuzz rounds", rounds)

	for round := 0; round < rounds; round++ {
		mask := LeverMask(rng.Intn(int(MaskAll) + 1))
		values := randomBytes(rng, mask.Count()+rng.Intn(3))

		cmd, err := NewLeverSet(mask, values...)
		if err != nil {
			t.Errorf("Round %d: NewLeverSet(%s): %v", round, FormatMask(mask), err)
			continue
		}
		frame, err := Encode(cmd)
		if err != nil {
			t.Errorf("Round %d: Encode: %v", round, err)
			continue
		}

		if want := 1 + bits.OnesCount8(uint8(mask)); len(frame) != want {
			t.Errorf("Round %d: mask %s: frame length %d, expected %d", round, FormatMask(mask), len(frame), want)
			continue
		}
		if frame[0] != LeverSetCode(mask) || MaskFromCode(frame[0]) != mask {
			t.Errorf("Round %d: code 0x%02X does not carry mask %s", round, frame[0], FormatMask(mask))
		}
		for i, l := range mask.Levers() {
			got := frame[1+i]
			if got > LeverMax {
				t.Errorf("Round %d: %s byte 0x%02X exceeds seven bits", round, FormatLever(l), got)
			}
			if got != values[i]&LeverMax {
				t.Errorf("Round %d: %s byte 0x%02X, expected 0x%02X", round, FormatLever(l), got, values[i]&LeverMax)
			}
		}
	}
}

// TestFuzzEncode_InvalidMask checks that masks with bits above the three
// levers are always refused
func TestFuzzEncode_InvalidMask(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	t.Logf("Running %d fuzz rounds", rounds)

	for round := 0; round < rounds; round++ {
		mask := LeverMask(int(MaskAll) + 1 + rng.Intn(256-int(MaskAll)-1))
		if _, err := NewLeverSet(mask, randomBytes(rng, 8)...); !errors.Is(err, ErrInvalidMask) {
			t.Errorf("Round %d: mask 0x%02X: expected ErrInvalidMask, got %v", round, uint8(mask), err)
		}
	}
}
