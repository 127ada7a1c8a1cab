// Package reader provides ingest sources producing start-code delimited buffers
// ready to be fed to the H.264 decoder.
package reader

import (
	"bytes"

	mch264 "github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/ugparu/hwdec/codec/h264"
)

// Grouper converts a sequence of NAL units without start codes into decoder buffers.
// Parameter sets are held back and emitted in front of the next coded slice, so the
// decoder always sees SPS, PPS and slice in one buffer. Other unit types are dropped.
type Grouper struct {
	sps, pps []byte
	pending  bool
}

// SetParameters stores out-of-band parameter sets, e.g. from a session description.
func (g *Grouper) SetParameters(sps, pps []byte) {
	g.sps = bytes.Clone(sps)
	g.pps = bytes.Clone(pps)
	g.pending = len(g.sps) > 0 && len(g.pps) > 0
}

// Push consumes one unit and returns the buffer to feed, if any. The result never aliases nalu.
func (g *Grouper) Push(nalu []byte) (buf []byte, ok bool) {
	if len(nalu) == 0 {
		return nil, false
	}

	switch typ := h264.TypeOf(nalu[0]); {
	case typ == h264.NaluSPS:
		g.sps = bytes.Clone(nalu)
		g.pending = true
	case typ == h264.NaluPPS:
		g.pps = bytes.Clone(nalu)
		g.pending = true
	case h264.IsSlice(typ):
		au := [][]byte{nalu}
		if g.pending && g.sps != nil && g.pps != nil {
			au = [][]byte{g.sps, g.pps, nalu}
			g.pending = false
		}
		buf, _ = mch264.AnnexBMarshal(au)
		return buf, true
	}
	return nil, false
}

// Reset forgets every stored parameter set.
func (g *Grouper) Reset() {
	g.sps, g.pps, g.pending = nil, nil, false
}
