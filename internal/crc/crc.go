// Package crc computes and validates checksum trailers over a configurable
// byte range of a frame. Framing is additive: the payload is never altered,
// the trailer is appended after it.
package crc

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// Algorithm selects the checksum.
type Algorithm string

const (
	// Modbus is CRC-16/MODBUS: poly 0xA001 reflected, init 0xFFFF,
	// trailer appended low byte first.
	Modbus Algorithm = "modbus"
	// CCITTFalse is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF,
	// trailer appended high byte first.
	CCITTFalse Algorithm = "ccitt-false"
	// IEEE is CRC-32/IEEE, trailer appended little-endian.
	IEEE Algorithm = "crc32"
)

// EndOfBuffer is the sentinel end index meaning "through the end of the
// data": the whole payload when framing, everything before the trailer when
// validating.
const EndOfBuffer = -1

// Range selects the covered bytes [Start, End).
type Range struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// FullRange covers the entire buffer.
func FullRange() Range {
	return Range{Start: 0, End: EndOfBuffer}
}

// Status is the advisory outcome attached to RX log entries.
type Status string

const (
	StatusNone  Status = ""
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Size returns the trailer length in bytes, or zero for an unknown
// algorithm.
func Size(alg Algorithm) int {
	switch alg {
	case Modbus, CCITTFalse:
		return 2
	case IEEE:
		return 4
	default:
		return 0
	}
}

// Frame returns payload plus the checksum trailer computed over the range.
// A fresh slice is always returned. An unknown algorithm or an unusable
// range leaves the payload unframed.
func Frame(alg Algorithm, payload []byte, r Range) []byte {
	size := Size(alg)
	framed := make([]byte, len(payload), len(payload)+size)
	copy(framed, payload)
	if size == 0 {
		return framed
	}
	start, end, ok := resolveRange(r, len(payload))
	if !ok {
		return framed
	}
	return append(framed, trailer(alg, payload[start:end])...)
}

// Validate recomputes the checksum over the range of the received frame and
// compares it to the frame's trailing bytes. A mismatch, an unknown
// algorithm, or an unusable range all report StatusError; validation is
// advisory and never fails delivery.
func Validate(alg Algorithm, frame []byte, r Range) Status {
	size := Size(alg)
	if size == 0 || len(frame) < size {
		return StatusError
	}
	body := len(frame) - size
	if r.End == EndOfBuffer {
		r = Range{Start: r.Start, End: body}
	}
	start, end, ok := resolveRange(r, body)
	if !ok {
		return StatusError
	}
	if bytes.Equal(trailer(alg, frame[start:end]), frame[body:]) {
		return StatusOK
	}
	return StatusError
}

func resolveRange(r Range, n int) (int, int, bool) {
	end := r.End
	if end == EndOfBuffer {
		end = n
	}
	if r.Start < 0 || end < r.Start || end > n {
		return 0, 0, false
	}
	return r.Start, end, true
}

func trailer(alg Algorithm, data []byte) []byte {
	switch alg {
	case Modbus:
		sum := sumModbus(data)
		return []byte{byte(sum), byte(sum >> 8)}
	case CCITTFalse:
		sum := sumCCITTFalse(data)
		return []byte{byte(sum >> 8), byte(sum)}
	case IEEE:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, crc32.ChecksumIEEE(data))
		return out
	default:
		return nil
	}
}

func sumModbus(data []byte) uint16 {
	sum := uint16(0xFFFF)
	for _, b := range data {
		sum ^= uint16(b)
		for i := 0; i < 8; i++ {
			if sum&1 != 0 {
				sum = (sum >> 1) ^ 0xA001
			} else {
				sum >>= 1
			}
		}
	}
	return sum
}

func sumCCITTFalse(data []byte) uint16 {
	sum := uint16(0xFFFF)
	for _, b := range data {
		sum ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if sum&0x8000 != 0 {
				sum = (sum << 1) ^ 0x1021
			} else {
				sum <<= 1
			}
		}
	}
	return sum
}
