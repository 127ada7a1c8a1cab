package h264

import (
	mch264 "github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// NaluType is the 5-bit type carried in the low bits of a NAL header.
type NaluType = mch264.NALUType

// NaluNonIDR represents the NALU type for a coded slice of a non-IDR picture.
const NaluNonIDR = mch264.NALUTypeNonIDR

// NaluCodedIDR represents the Network Abstraction Layer Unit (NALU) type for
// Coded IDR (Instantaneous Decoding Refresh).
const NaluCodedIDR = mch264.NALUTypeIDR

// NaluSPS represents the Network Abstraction Layer Unit (NALU) type for Sequence Parameter Set.
const NaluSPS = mch264.NALUTypeSPS

// NaluPPS represents the Network Abstraction Layer Unit (NALU) type for Picture Parameter Set.
const NaluPPS = mch264.NALUTypePPS

const naluTypeMask = 0x1f

// TypeOf extracts the NALU type from a NAL header byte.
func TypeOf(header byte) NaluType {
	return NaluType(header & naluTypeMask)
}

// IsSlice reports whether typ is a coded slice the decoder submits (IDR or non-IDR).
func IsSlice(typ NaluType) bool {
	return typ == NaluNonIDR || typ == NaluCodedIDR
}

// minSPSSize covers the header byte plus profile, constraint flags and level.
const minSPSSize = 4

// Common magic numbers used in the package
const (
	// Bit masks
	maskLengthSizeMinusOne    = 0x03
	maskSPSCount              = 0x1f
	maskLengthSizeMinusOneInv = 0xfc
	maskSPSCountInv           = 0xe0

	// Bitrate calculation constants
	bitrateScaleFactor = 1.71
	bitrateFrameRate   = 30
	bitrateMultiplier  = 1000

	// Length field size in AVCDecoderConfRecord
	lengthFieldSize = 2
)

// SPSInfo represents information extracted from Sequence Parameter Sets (SPS) in a video stream.
type SPSInfo struct {
	ID                uint // Identifier for the SPS.
	ProfileIDC        uint // Profile identifier for the SPS.
	LevelIDC          uint // Level identifier for the SPS.
	ConstraintSetFlag uint // Constraint set flag for the SPS.

	Width  uint // Width of the video frame.
	Height uint // Height of the video frame.
	FPS    uint // Frames per second (FPS) for the video stream, 0 when not signalled.
}

func parseSPS(sps []byte) (info SPSInfo, err error) {
	var s mch264.SPS
	if err = s.Unmarshal(sps); err != nil {
		return
	}

	info = SPSInfo{
		ID:                uint(s.ID),
		ProfileIDC:        uint(s.ProfileIdc),
		LevelIDC:          uint(s.LevelIdc),
		ConstraintSetFlag: uint(sps[2]),
		Width:             uint(s.Width()),  //nolint:gosec // dimensions are positive
		Height:            uint(s.Height()), //nolint:gosec // dimensions are positive
	}
	if fps := s.FPS(); fps > 0 {
		info.FPS = uint(fps + 0.5) //nolint:mnd // round to nearest
	}
	return
}
