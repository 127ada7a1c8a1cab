package h264

import "encoding/binary"

// AVCDecoderConfRecord represents the AVC decoder configuration record (avcC) a
// length-prefixed decoder is configured with.
type AVCDecoderConfRecord struct {
	AVCProfileIndication uint8    // Profile indication for the AVC stream.
	ProfileCompatibility uint8    // Profile compatibility for the AVC stream.
	AVCLevelIndication   uint8    // Level indication for the AVC stream.
	LengthSizeMinusOne   uint8    // Length size (in bytes) minus one for the AVC stream.
	SPS                  [][]byte // Sequence Parameter Sets (SPS) containing the SPS NALUs.
	PPS                  [][]byte // Picture Parameter Sets (PPS) containing the PPS NALUs.
}

// Unmarshal decodes the binary representation of AVCDecoderConfRecord from the given byte slice.
// It returns the number of bytes read and any decoding error encountered.
func (avc *AVCDecoderConfRecord) Unmarshal(b []byte) (n int, err error) {
	const minLength = 7
	if len(b) < minLength {
		err = ErrDecconfInvalid
		return
	}

	avc.AVCProfileIndication = b[1]
	avc.ProfileCompatibility = b[2]
	avc.AVCLevelIndication = b[3]
	avc.LengthSizeMinusOne = b[4] & maskLengthSizeMinusOne
	spscount := int(b[5] & maskSPSCount)
	n += 6

	if avc.SPS, n, err = readSets(b, n, spscount); err != nil {
		return
	}

	if len(b) < n+1 {
		err = ErrDecconfInvalid
		return
	}
	ppscount := int(b[n])
	n++

	avc.PPS, n, err = readSets(b, n, ppscount)
	return
}

func readSets(b []byte, n, count int) (sets [][]byte, _ int, err error) {
	for range count {
		if len(b) < n+lengthFieldSize {
			return nil, n, ErrDecconfInvalid
		}
		size := int(binary.BigEndian.Uint16(b[n:]))
		n += lengthFieldSize

		if len(b) < n+size {
			return nil, n, ErrDecconfInvalid
		}
		sets = append(sets, b[n:n+size])
		n += size
	}
	return sets, n, nil
}

// Len calculates and returns the length of the binary representation of AVCDecoderConfRecord.
func (avc *AVCDecoderConfRecord) Len() (n int) {
	n = 7
	for _, sps := range avc.SPS {
		n += lengthFieldSize + len(sps)
	}
	for _, pps := range avc.PPS {
		n += lengthFieldSize + len(pps)
	}
	return
}

// Marshal serializes the AVCDecoderConfRecord into b, which must hold at least Len bytes,
// and returns the number of bytes written.
func (avc *AVCDecoderConfRecord) Marshal(b []byte) (n int) {
	b[0] = 1
	b[1] = avc.AVCProfileIndication
	b[2] = avc.ProfileCompatibility
	b[3] = avc.AVCLevelIndication
	b[4] = avc.LengthSizeMinusOne | maskLengthSizeMinusOneInv
	b[5] = uint8(len(avc.SPS)) | maskSPSCountInv //nolint:gosec // integer overflow for sps count is not possible
	n += 6

	for _, sps := range avc.SPS {
		binary.BigEndian.PutUint16(b[n:], uint16(len(sps))) //nolint:gosec // sps length fits
		n += lengthFieldSize
		n += copy(b[n:], sps)
	}

	b[n] = uint8(len(avc.PPS)) //nolint:gosec // integer overflow for pps count is not possible
	n++

	for _, pps := range avc.PPS {
		binary.BigEndian.PutUint16(b[n:], uint16(len(pps))) //nolint:gosec // pps length fits
		n += lengthFieldSize
		n += copy(b[n:], pps)
	}

	return
}
