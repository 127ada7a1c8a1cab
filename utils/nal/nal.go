package nal

import (
	"encoding/binary"
	"errors"
	"math"
)

// StartCodeSize is the size of the Annex-B start code handled by the decoder core.
const StartCodeSize = 4

// MinUnitSize is the smallest valid start-code delimited unit: start code plus NAL header.
const MinUnitSize = StartCodeSize + 1

var (
	ErrShortUnit   = errors.New("nal: unit is shorter than start code")
	ErrNoStartCode = errors.New("nal: unit does not begin with a start code")
	ErrUnitTooLong = errors.New("nal: unit length does not fit into 32 bits")
)

// isStartCode checks if there's a NALU start code (0x000001 or 0x00000001) at the given position
// and returns the length of the start code found.
func isStartCode(b []byte, pos int) (startCodeLength int, found bool) {
	if pos+2 >= len(b) || b[pos] != 0 || b[pos+1] != 0 {
		return 0, false
	}

	switch {
	case b[pos+2] == 1:
		return 3, true //nolint:mnd
	case b[pos+2] == 0 && pos+3 < len(b) && b[pos+3] == 1:
		return StartCodeSize, true
	}
	return 0, false
}

// HasStartCode reports whether b begins with the 4-byte start code 00 00 00 01.
func HasStartCode(b []byte) bool {
	return len(b) >= StartCodeSize && binary.BigEndian.Uint32(b) == 1
}

// FindStartCode looks for the 4-byte start code at offsets from..from+window-1 and returns
// the offset of the first one. Offsets where the code would run past the end of b are
// never matched. A window <= 0 searches to the end of b.
func FindStartCode(b []byte, from, window int) (int, bool) {
	if from < 0 {
		from = 0
	}
	end := len(b) - StartCodeSize + 1
	if window > 0 && from+window < end {
		end = from + window
	}
	for i := from; i < end; i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 0 && b[i+3] == 1 {
			return i, true
		}
	}
	return -1, false
}

// Reframe replaces the leading start code of b with the big-endian length of the rest of b.
// The buffer is modified in place and nothing is allocated; bytes after the first four are untouched.
func Reframe(b []byte) error {
	if len(b) < StartCodeSize {
		return ErrShortUnit
	}
	if !HasStartCode(b) {
		return ErrNoStartCode
	}
	size := len(b) - StartCodeSize
	if uint64(size) > math.MaxUint32 {
		return ErrUnitTooLong
	}
	binary.BigEndian.PutUint32(b, uint32(size)) //nolint:gosec // checked above
	return nil
}

// SplitAnnexB splits an Annex-B byte stream into NAL units without start codes.
// Both 3- and 4-byte start codes are recognized. Leading bytes before the first
// start code are returned as a unit of their own.
func SplitAnnexB(b []byte) [][]byte {
	var nalus [][]byte
	start := 0
	pos := 0
	for pos < len(b) {
		scLen, found := isStartCode(b, pos)
		if !found {
			pos++
			continue
		}
		if start != pos {
			nalus = append(nalus, b[start:pos])
		}
		pos += scLen
		start = pos
	}
	if start < len(b) {
		nalus = append(nalus, b[start:])
	}
	return nalus
}
