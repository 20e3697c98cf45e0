package crc

import (
	"bytes"
	"testing"
)

var checkInput = []byte("123456789")

func TestFrameKnownVectors(t *testing.T) {
	cases := []struct {
		name    string
		alg     Algorithm
		trailer []byte
	}{
		// Standard check values for the "123456789" input.
		{"modbus", Modbus, []byte{0x37, 0x4B}},
		{"ccitt-false", CCITTFalse, []byte{0x29, 0xB1}},
		{"crc32", IEEE, []byte{0x26, 0x39, 0xF4, 0xCB}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			framed := Frame(tc.alg, checkInput, FullRange())
			want := append(append([]byte{}, checkInput...), tc.trailer...)
			if !bytes.Equal(framed, want) {
				t.Fatalf("expected % X, got % X", want, framed)
			}
		})
	}
}

func TestFrameDoesNotMutatePayload(t *testing.T) {
	payload := make([]byte, 3, 8)
	copy(payload, []byte{1, 2, 3})
	framed := Frame(Modbus, payload, FullRange())
	framed[0] = 0xFF
	if payload[0] != 1 {
		t.Fatal("framing mutated the caller's payload")
	}
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{Modbus, CCITTFalse, IEEE} {
		framed := Frame(alg, []byte{0x01, 0x03, 0x00, 0x0A}, FullRange())
		if got := Validate(alg, framed, FullRange()); got != StatusOK {
			t.Fatalf("%s: expected ok, got %q", alg, got)
		}
	}
}

func TestValidateDetectsCorruption(t *testing.T) {
	framed := Frame(Modbus, checkInput, FullRange())
	for i := range checkInput {
		corrupted := append([]byte{}, framed...)
		corrupted[i] ^= 0x01
		if got := Validate(Modbus, corrupted, FullRange()); got != StatusError {
			t.Fatalf("byte %d: expected error, got %q", i, got)
		}
	}
}

func TestPartialRangeSkipsHeader(t *testing.T) {
	payload := []byte{0xAA, 0x01, 0x02, 0x03}
	r := Range{Start: 1, End: EndOfBuffer}
	framed := Frame(Modbus, payload, r)
	if got := Validate(Modbus, framed, r); got != StatusOK {
		t.Fatalf("expected ok, got %q", got)
	}

	// Corruption outside the covered range goes unnoticed by design.
	framed[0] ^= 0xFF
	if got := Validate(Modbus, framed, r); got != StatusOK {
		t.Fatalf("expected ok for uncovered byte, got %q", got)
	}
}

func TestExplicitEndIndex(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6}
	r := Range{Start: 0, End: 4}
	framed := Frame(Modbus, payload, r)
	if got := Validate(Modbus, framed, r); got != StatusOK {
		t.Fatalf("expected ok, got %q", got)
	}
}

func TestFrameUnusableRangeIsNoop(t *testing.T) {
	payload := []byte{1, 2, 3}
	cases := []Range{
		{Start: -1, End: EndOfBuffer},
		{Start: 2, End: 1},
		{Start: 0, End: 4},
	}
	for _, r := range cases {
		framed := Frame(Modbus, payload, r)
		if !bytes.Equal(framed, payload) {
			t.Fatalf("range %+v: expected unframed payload, got % X", r, framed)
		}
	}
}

func TestValidateTooShortFrame(t *testing.T) {
	if got := Validate(IEEE, []byte{1, 2}, FullRange()); got != StatusError {
		t.Fatalf("expected error for short frame, got %q", got)
	}
	if got := Validate(Algorithm("nope"), []byte{1, 2, 3, 4}, FullRange()); got != StatusError {
		t.Fatalf("expected error for unknown algorithm, got %q", got)
	}
}

func TestSize(t *testing.T) {
	if Size(Modbus) != 2 || Size(CCITTFalse) != 2 || Size(IEEE) != 4 {
		t.Fatal("unexpected trailer sizes")
	}
	if Size(Algorithm("nope")) != 0 {
		t.Fatal("unknown algorithm should have zero size")
	}
}
