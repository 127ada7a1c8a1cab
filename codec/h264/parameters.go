package h264

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ugparu/hwdec/utils/nal"
)

var (
	ErrDecconfInvalid = errors.New("h264parser: AVCDecoderConfRecord invalid")
	ErrSPSTooShort    = errors.New("h264parser: SPS is too short")
	ErrEmptyPPS       = errors.New("h264parser: PPS is empty")
	ErrNotSPS         = errors.New("h264parser: first parameter set is not a SPS")
	ErrNotPPS         = errors.New("h264parser: second parameter set is not a PPS")
)

// CodecParameters is the decoder configuration derived from one SPS/PPS pair.
type CodecParameters struct {
	Record     []byte
	RecordInfo AVCDecoderConfRecord
	SPSInfo    SPSInfo
	BRate      uint
}

// NewCodecDataFromSPSAndPPS builds codec parameters for a decoder expecting 4-byte length prefixes.
// sps and pps start with the NAL header byte. Both slices are copied.
func NewCodecDataFromSPSAndPPS(sps, pps []byte) (codecPar CodecParameters, err error) {
	if len(sps) < minSPSSize {
		err = ErrSPSTooShort
		return
	}
	if len(pps) == 0 {
		err = ErrEmptyPPS
		return
	}
	if TypeOf(sps[0]) != NaluSPS {
		err = ErrNotSPS
		return
	}
	if TypeOf(pps[0]) != NaluPPS {
		err = ErrNotPPS
		return
	}

	if codecPar.SPSInfo, err = parseSPS(sps); err != nil {
		err = fmt.Errorf("h264parser: parse SPS failed(%w)", err)
		return
	}

	recordinfo := AVCDecoderConfRecord{
		AVCProfileIndication: sps[1],
		ProfileCompatibility: sps[2],
		AVCLevelIndication:   sps[3],
		LengthSizeMinusOne:   nal.StartCodeSize - 1,
		SPS:                  [][]byte{bytes.Clone(sps)},
		PPS:                  [][]byte{bytes.Clone(pps)},
	}

	buf := make([]byte, recordinfo.Len())
	recordinfo.Marshal(buf)

	codecPar.RecordInfo = recordinfo
	codecPar.Record = buf

	fps := codecPar.FPS()
	if fps == 0 {
		fps = bitrateFrameRate
	}
	// Calculate bitrate based on width, scale factor, and frame rate
	widthFactor := float64(codecPar.Width())
	fpsRatio := bitrateFrameRate / float64(fps)
	codecPar.BRate = uint(widthFactor*bitrateScaleFactor*fpsRatio) * bitrateMultiplier

	return
}

// NewCodecDataFromAVCDecoderConfRecord parses a serialized avcC record.
func NewCodecDataFromAVCDecoderConfRecord(record []byte) (codecPar CodecParameters, err error) {
	if _, err = (&codecPar.RecordInfo).Unmarshal(record); err != nil {
		return
	}
	if len(codecPar.RecordInfo.SPS) == 0 {
		err = errors.New("h264parser: no SPS found in AVCDecoderConfRecord")
		return
	}
	if len(codecPar.RecordInfo.PPS) == 0 {
		err = errors.New("h264parser: no PPS found in AVCDecoderConfRecord")
		return
	}
	return NewCodecDataFromSPSAndPPS(codecPar.RecordInfo.SPS[0], codecPar.RecordInfo.PPS[0])
}

func (par *CodecParameters) AVCDecoderConfRecordBytes() []byte {
	return par.Record
}

func (par *CodecParameters) SPS() []byte {
	return par.RecordInfo.SPS[0]
}

func (par *CodecParameters) PPS() []byte {
	return par.RecordInfo.PPS[0]
}

func (par *CodecParameters) Width() uint {
	return par.SPSInfo.Width
}

func (par *CodecParameters) Height() uint {
	return par.SPSInfo.Height
}

func (par *CodecParameters) FPS() uint {
	return par.SPSInfo.FPS
}

func (par *CodecParameters) Bitrate() uint {
	return par.BRate
}

// NALUnitHeaderLength is the size of the length prefix in front of every decodable unit.
func (par *CodecParameters) NALUnitHeaderLength() int {
	return int(par.RecordInfo.LengthSizeMinusOne) + 1
}

func (par *CodecParameters) Tag() string {
	return fmt.Sprintf("avc1.%02X%02X%02X",
		par.RecordInfo.AVCProfileIndication, par.RecordInfo.ProfileCompatibility, par.RecordInfo.AVCLevelIndication)
}

func (par *CodecParameters) String() string {
	if par == nil {
		return "EMPTY_CODEC_PARAMETERS"
	}
	return fmt.Sprintf("H264 %s %dx%d", par.Tag(), par.Width(), par.Height())
}
